package auth

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

const defaultLoginTimeout = 30 * time.Second

// Config describes the library login endpoint and session policy.
type Config struct {
	LoginURL      string
	BaseURL       string
	AllowedHosts  []string
	TTL           time.Duration
	EmailField    string
	PasswordField string // empty: use the name of the form's password input
	UserAgent     string
	LoginTimeout  time.Duration
}

// ConfigFrom maps the application config onto the session config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		LoginURL:      cfg.Library.LoginURL,
		BaseURL:       cfg.Library.BaseURL,
		AllowedHosts:  cfg.Library.AllowedHosts,
		TTL:           cfg.Library.SessionTTL,
		EmailField:    cfg.Library.EmailField,
		PasswordField: cfg.Library.PasswordField,
		UserAgent:     cfg.Library.UserAgent,
		LoginTimeout:  cfg.Timeouts.Login,
	}
}

// Option customises Session construction.
type Option func(*Session)

// WithHTTPClient overrides the HTTP client. A cookie jar and a redirect policy
// are attached when the client has none.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		if client != nil {
			s.client = client
		}
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// New builds a Session without logging in. Call Login before use, or let the
// first request log in lazily.
func New(cfg Config, creds model.Credentials, log logger.Logger, opts ...Option) (*Session, error) {
	if creds.Empty() {
		return nil, errors.New("auth: email and password are required")
	}
	loginURL, err := url.Parse(strings.TrimSpace(cfg.LoginURL))
	if err != nil || loginURL.Host == "" {
		return nil, errors.New("auth: invalid login url")
	}
	baseURL, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || baseURL.Host == "" {
		return nil, errors.New("auth: invalid base url")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.EmailField == "" {
		cfg.EmailField = "email"
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Session{
		cfg:      cfg,
		creds:    creds,
		loginURL: loginURL,
		baseURL:  baseURL,
		logger:   log,
		now:      time.Now,
		client:   &http.Client{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client.CheckRedirect == nil {
		s.client.CheckRedirect = s.checkRedirect
	}
	if s.client.Jar == nil {
		jar, err := newResettableJar()
		if err != nil {
			return nil, err
		}
		s.client.Jar = jar
	}
	return s, nil
}
