package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
)

// login performs one form-based login round-trip: load the login page, copy
// the hidden inputs of the password form, fill in the credentials, submit.
func (s *Session) login(ctx context.Context) error {
	s.logins.Add(1)
	s.logger.Info(ctx, "Logging into %s as %s", s.loginURL.Host, s.creds.Email)

	page, err := s.get(ctx, s.loginURL.String())
	if err != nil {
		return loginTransportError("load login page", err)
	}
	defer page.Body.Close()
	if page.StatusCode >= http.StatusBadRequest {
		return apperror.Wrap(apperror.ErrAuth, "login", fmt.Sprintf("login page returned HTTP %d", page.StatusCode), nil)
	}

	doc, err := goquery.NewDocumentFromReader(page.Body)
	if err != nil {
		return apperror.Wrap(apperror.ErrAuth, "login", "parse login page", err)
	}
	form := passwordForm(doc)
	if form == nil {
		return apperror.Wrap(apperror.ErrAuth, "login", "login form not found", nil)
	}

	action, values := s.formValues(page.Request.URL, form)
	resp, err := s.postForm(ctx, action, values)
	if err != nil {
		return loginTransportError("submit credentials", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return apperror.Permanent(apperror.Wrap(apperror.ErrAuth, "login",
			fmt.Sprintf("credentials rejected (HTTP %d)", resp.StatusCode), nil))
	}
	landing, err := goquery.NewDocumentFromReader(resp.Body)
	if err == nil && passwordForm(landing) != nil {
		return apperror.Permanent(apperror.Wrap(apperror.ErrAuth, "login", "invalid email or password", nil))
	}

	s.stateMu.Lock()
	s.generation++
	s.loggedIn = true
	s.expiresAt = s.now().Add(s.cfg.TTL)
	gen := s.generation
	s.stateMu.Unlock()

	s.logger.Info(ctx, "Library session established (generation %d)", gen)
	return nil
}

func passwordForm(doc *goquery.Document) *goquery.Selection {
	form := doc.Find("form").FilterFunction(func(_ int, f *goquery.Selection) bool {
		return f.Find(`input[type="password"]`).Length() > 0
	}).First()
	if form.Length() == 0 {
		return nil
	}
	return form
}

func (s *Session) formValues(pageURL *url.URL, form *goquery.Selection) (string, url.Values) {
	values := url.Values{}
	passwordField := s.cfg.PasswordField

	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		typ := strings.ToLower(in.AttrOr("type", "text"))
		switch typ {
		case "password":
			if passwordField == "" {
				passwordField = name
			}
		case "hidden":
			values.Set(name, in.AttrOr("value", ""))
		case "checkbox", "radio":
			if _, checked := in.Attr("checked"); checked {
				values.Set(name, in.AttrOr("value", "on"))
			}
		}
	})
	if passwordField == "" {
		passwordField = "password"
	}
	values.Set(s.cfg.EmailField, s.creds.Email)
	values.Set(passwordField, s.creds.Password)

	action := pageURL.String()
	if raw := strings.TrimSpace(form.AttrOr("action", "")); raw != "" {
		if ref, err := url.Parse(raw); err == nil {
			action = pageURL.ResolveReference(ref).String()
		}
	}
	return action, values
}

func (s *Session) get(ctx context.Context, target string) (*http.Response, error) {
	return s.send(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
}

func (s *Session) postForm(ctx context.Context, target string, values url.Values) (*http.Response, error) {
	return s.send(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// loginTransportError separates an unreachable site (connectivity) from
// other login failures. Both abort a batch.
func loginTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Transient(apperror.Wrap(apperror.ErrAuth, "login", op+": timed out", err))
	}
	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperror.Transient(apperror.Wrap(apperror.ErrConnectivity, "login", op, err))
	}
	return apperror.Wrap(apperror.ErrAuth, "login", op, err)
}
