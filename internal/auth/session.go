package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Session is the authenticated handle to the library. It is safe for
// concurrent use; re-authentication is serialized.
type Session struct {
	cfg      Config
	creds    model.Credentials
	loginURL *url.URL
	baseURL  *url.URL
	client   *http.Client
	logger   logger.Logger
	now      func() time.Time

	stateMu    sync.RWMutex
	generation uint64
	loggedIn   bool
	expiresAt  time.Time

	flight singleflight.Group
	logins atomic.Int64
}

// ErrOffDomain is returned when a redirect leads outside the library domain.
// The redirected request is never sent.
var ErrOffDomain = errors.New("redirect outside the library domain")

const maxRedirects = 10

// RequestFunc builds a fresh request for every attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Login establishes a session with the supplied credentials.
func Login(ctx context.Context, cfg Config, creds model.Credentials, log logger.Logger, opts ...Option) (*Session, error) {
	s, err := New(cfg, creds, log, opts...)
	if err != nil {
		return nil, apperror.Permanent(apperror.Wrap(apperror.ErrAuth, "login", "", err))
	}
	if err := s.Login(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Login logs in unless another caller already refreshed the session.
func (s *Session) Login(ctx context.Context) error {
	gen, _ := s.state()
	return s.refresh(ctx, gen)
}

// Logout drops the session cookies; the next request logs in again.
func (s *Session) Logout() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	if jar, ok := s.client.Jar.(*resettableJar); ok {
		jar.reset()
	}
	s.loggedIn = false
	s.expiresAt = time.Time{}
}

// Valid reports whether the session is logged in and inside its validity window.
func (s *Session) Valid() bool {
	_, fresh := s.state()
	return fresh
}

// Generation increases by one on every successful login.
func (s *Session) Generation() uint64 {
	gen, _ := s.state()
	return gen
}

// Logins returns how many login round-trips were made.
func (s *Session) Logins() int64 {
	return s.logins.Load()
}

// BaseURL returns a copy of the library base URL.
func (s *Session) BaseURL() *url.URL {
	u := *s.baseURL
	return &u
}

// AllowsHost reports whether u points at the authenticated domain set.
func (s *Session) AllowsHost(u *url.URL) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	allowed := append([]string{s.baseURL.Hostname()}, s.cfg.AllowedHosts...)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(a), "."))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// CookieHeader renders the session cookies for u as a Cookie header value,
// for tools that cannot share the jar.
func (s *Session) CookieHeader(u *url.URL) string {
	cookies := s.client.Jar.Cookies(u)
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// Do sends a request with the session cookies. An expired session is
// re-authenticated at most once per call; a second rejection is an AuthError.
// Transport errors are returned unclassified for the caller to wrap.
func (s *Session) Do(ctx context.Context, build RequestFunc) (*http.Response, error) {
	gen, fresh := s.state()
	if !fresh {
		if err := s.refresh(ctx, gen); err != nil {
			return nil, err
		}
		gen = s.Generation()
	}

	resp, err := s.send(ctx, build)
	if err != nil {
		return nil, err
	}
	if !s.rejected(resp) {
		return resp, nil
	}
	discard(resp)

	s.logger.Info(ctx, "Library session expired (generation %d), re-authenticating", gen)
	if err := s.refresh(ctx, gen); err != nil {
		return nil, err
	}

	resp, err = s.send(ctx, build)
	if err != nil {
		return nil, err
	}
	if s.rejected(resp) {
		status := resp.StatusCode
		discard(resp)
		return nil, apperror.Permanent(apperror.Wrap(apperror.ErrAuth, "session",
			fmt.Sprintf("request rejected after re-authentication (HTTP %d)", status), nil))
	}
	return resp, nil
}

// checkRedirect keeps redirects on the library domain or the login host.
func (s *Session) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if s.AllowsHost(req.URL) || strings.EqualFold(req.URL.Hostname(), s.loginURL.Hostname()) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrOffDomain, req.URL.Host)
}

func (s *Session) state() (uint64, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.generation, s.loggedIn && s.now().Before(s.expiresAt)
}

// refresh logs in once for every caller that observed generation seen.
// Callers arriving after the refresh completed see a newer generation and
// skip the round-trip.
func (s *Session) refresh(ctx context.Context, seen uint64) error {
	_, err, _ := s.flight.Do("login", func() (any, error) {
		if gen, fresh := s.state(); fresh && gen != seen {
			return nil, nil
		}
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoginTimeout)
		defer cancel()
		return nil, s.login(loginCtx)
	})
	return err
}

func (s *Session) send(ctx context.Context, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" && s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	return s.client.Do(req)
}

// rejected reports a 401-equivalent: 401/403 or a bounce to the login page.
func (s *Session) rejected(resp *http.Response) bool {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}
	if resp.Request == nil || resp.Request.URL == nil {
		return false
	}
	return sameEndpoint(resp.Request.URL, s.loginURL) && !sameEndpoint(s.loginURL, s.baseURL)
}

func sameEndpoint(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host) && normalizePath(a.Path) == normalizePath(b.Path)
}

func normalizePath(p string) string {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	return p
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
