package catalog

import (
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/config"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

// Config controls how search pages are requested and scraped.
type Config struct {
	SearchPath string
	MaxPages   int
	MaxResults int // 0: no cap
	Selectors  config.SelectorsConfig
	Timeout    time.Duration
}

// ConfigFrom maps the application config onto the searcher config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		SearchPath: cfg.Library.SearchPath,
		MaxPages:   cfg.Library.MaxPages,
		MaxResults: cfg.Library.MaxResults,
		Selectors:  cfg.Library.Selectors,
		Timeout:    cfg.Timeouts.Search,
	}
}

type implSearcher struct {
	cfg    Config
	logger logger.Logger
}

// New creates a Searcher. Unset selectors fall back to the defaults.
func New(cfg Config, log logger.Logger) Searcher {
	defaults := config.Default().Library
	if cfg.SearchPath == "" {
		cfg.SearchPath = defaults.SearchPath
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	sel := &cfg.Selectors
	if sel.Result == "" {
		sel.Result = defaults.Selectors.Result
	}
	if sel.Title == "" {
		sel.Title = defaults.Selectors.Title
	}
	if sel.Link == "" {
		sel.Link = defaults.Selectors.Link
	}
	if sel.Year == "" {
		sel.Year = defaults.Selectors.Year
	}
	if sel.Speaker == "" {
		sel.Speaker = defaults.Selectors.Speaker
	}
	if sel.Duration == "" {
		sel.Duration = defaults.Selectors.Duration
	}
	if sel.Next == "" {
		sel.Next = defaults.Selectors.Next
	}
	if log == nil {
		log = logger.Nop()
	}
	return &implSearcher{cfg: cfg, logger: log}
}
