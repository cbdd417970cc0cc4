package summarizer

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Config selects and tunes the summarization backend.
type Config struct {
	Provider    string
	MaxBullets  int
	Temperature float64
	ChunkChars  int
	MaxAttempts int

	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string

	GeminiKeys  []string
	GeminiModel string
}

// ConfigFrom maps the application config onto the summarizer config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Provider:      cfg.Summarizer.Provider,
		MaxBullets:    cfg.Summarizer.MaxBullets,
		Temperature:   cfg.Summarizer.Temperature,
		ChunkChars:    cfg.Summarizer.ChunkChars,
		MaxAttempts:   cfg.Summarizer.MaxAttempts,
		OpenAIKey:     cfg.Secrets.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIModel:   cfg.OpenAI.SummaryModel,
		GeminiKeys:    cfg.Secrets.GeminiAPIKeys,
		GeminiModel:   cfg.Gemini.Model,
	}
}

// Option customizes Summarizer construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	sleeper    func(time.Duration)
}

// WithHTTPClient overrides the HTTP client of the OpenAI backend.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithSleeper overrides how retry waits are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(o *options) {
		o.sleeper = sleeper
	}
}

type implSummarizer struct {
	cfg     Config
	backend completer
	logger  logger.Logger
}

// New creates the Summarizer named by cfg.Provider.
func New(cfg Config, log logger.Logger, opts ...Option) (Summarizer, error) {
	o := options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.Nop()
	}
	if cfg.MaxBullets <= 0 {
		cfg.MaxBullets = 15
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = 48000
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	var backend completer
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		if strings.TrimSpace(cfg.OpenAIKey) == "" {
			return nil, errors.New("openai summarizer: api key required")
		}
		backend = newOpenAIChat(cfg, o.httpClient, o.sleeper, log)
	case ProviderGemini:
		if len(cfg.GeminiKeys) == 0 {
			return nil, errors.New("gemini summarizer: at least one api key required")
		}
		backend = newGemini(cfg, log)
	default:
		return nil, fmt.Errorf("unsupported summarization provider: %s", cfg.Provider)
	}

	return &implSummarizer{cfg: cfg, backend: backend, logger: log}, nil
}
