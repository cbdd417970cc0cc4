package transcriber

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/pkg/executor"
)

const (
	ProviderOpenAI     = "openai"
	ProviderWhisperCPP = "whisper_cpp"
)

// Config selects and configures a speech-to-text backend.
type Config struct {
	Provider string
	Language string // empty: let the backend detect it
	Prompt   string // domain vocabulary hint

	// openai
	APIKey  string
	BaseURL string
	Model   string

	// whisper_cpp
	WhisperBinary string
	WhisperModel  string
	Threads       int
	FFmpegPath    string
	TempDir       string
}

// ConfigFrom maps the application config onto the transcriber config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Provider:      cfg.Transcriber.Provider,
		Language:      cfg.Transcriber.Language,
		Prompt:        cfg.Transcriber.Prompt,
		APIKey:        cfg.Secrets.OpenAIAPIKey,
		BaseURL:       cfg.OpenAI.BaseURL,
		Model:         cfg.OpenAI.TranscriptionModel,
		WhisperBinary: cfg.Whisper.BinaryPath,
		WhisperModel:  cfg.Whisper.ModelPath,
		Threads:       cfg.Whisper.Threads,
		FFmpegPath:    cfg.FFmpeg.BinaryPath,
		TempDir:       cfg.Paths.Temp,
	}
}

// Option customizes a backend.
type Option func(*options)

type options struct {
	httpClient *http.Client
}

// WithHTTPClient overrides the HTTP client of HTTP backends.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// New creates the Transcriber named by cfg.Provider.
func New(cfg Config, exec executor.Executor, log logger.Logger, opts ...Option) (Transcriber, error) {
	// Uploads can take minutes; the caller's context bounds them.
	o := options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case ProviderOpenAI, "":
		return newOpenAI(cfg, o.httpClient, log)
	case ProviderWhisperCPP:
		if exec == nil {
			exec = executor.New()
		}
		return newWhisperCPP(cfg, exec, log)
	default:
		return nil, fmt.Errorf("unsupported transcription provider: %s", cfg.Provider)
	}
}
