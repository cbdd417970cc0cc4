package pipeline

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/catalog"
	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/media"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
	"github.com/nguyentantai21042004/cirse-notes/internal/summarizer"
	"github.com/nguyentantai21042004/cirse-notes/internal/transcriber"
)

// Config bounds concurrency, pacing and stage durations. Search and fetch
// timeouts are enforced by the searcher and fetcher themselves.
type Config struct {
	MaxConcurrent     int
	RequestsPerMinute int // 0: unlimited
	TranscribeTimeout time.Duration
	SummarizeTimeout  time.Duration
}

// ConfigFrom maps the application config onto the pipeline config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		MaxConcurrent:     cfg.Performance.MaxConcurrent,
		RequestsPerMinute: cfg.Performance.RequestsPerMinute,
		TranscribeTimeout: cfg.Timeouts.Transcribe,
		SummarizeTimeout:  cfg.Timeouts.Summarize,
	}
}

// Deps are the collaborators of a Pipeline. Session and Searcher may be nil
// when items come from local files.
type Deps struct {
	Session     *auth.Session
	Searcher    catalog.Searcher
	Fetcher     media.Fetcher
	Transcriber transcriber.Transcriber
	Summarizer  summarizer.Summarizer
}

type implPipeline struct {
	cfg     Config
	deps    Deps
	logger  logger.Logger
	sem     *semaphore
	limiter *rate.Limiter

	transcripts *cache[model.Transcript]
	notes       *cache[model.SummaryNotes]
}

// New creates a Pipeline. Fetcher, Transcriber and Summarizer are required.
func New(cfg Config, deps Deps, log logger.Logger) Pipeline {
	defaults := config.Default()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.Performance.MaxConcurrent
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = defaults.Timeouts.Transcribe
	}
	if cfg.SummarizeTimeout <= 0 {
		cfg.SummarizeTimeout = defaults.Timeouts.Summarize
	}
	if log == nil {
		log = logger.Nop()
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &implPipeline{
		cfg:         cfg,
		deps:        deps,
		logger:      log,
		sem:         newSemaphore(cfg.MaxConcurrent),
		limiter:     rate.NewLimiter(limit, 1),
		transcripts: newCache[model.Transcript](),
		notes:       newCache[model.SummaryNotes](),
	}
}
