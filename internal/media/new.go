package media

import (
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/pkg/executor"
)

// Config controls media downloads.
type Config struct {
	FFmpegPath string
	TempDir    string
	UserAgent  string
	// Timeout bounds the whole download, including reading the body.
	Timeout time.Duration
}

// ConfigFrom maps the application config onto the fetcher config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		FFmpegPath: cfg.FFmpeg.BinaryPath,
		TempDir:    cfg.Paths.Temp,
		UserAgent:  cfg.Library.UserAgent,
		Timeout:    cfg.Timeouts.Fetch,
	}
}

type implFetcher struct {
	cfg      Config
	executor executor.Executor
	logger   logger.Logger
}

// New creates a Fetcher for library media. exec runs ffmpeg for HLS streams.
func New(cfg Config, exec executor.Executor, log logger.Logger) Fetcher {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if exec == nil {
		exec = executor.New()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &implFetcher{
		cfg:      cfg,
		executor: exec,
		logger:   log,
	}
}
