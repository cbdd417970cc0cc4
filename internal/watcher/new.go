package watcher

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

const defaultSettle = 2 * time.Second

// Config describes the drop folder.
type Config struct {
	Dir           string
	MaxConcurrent int
	// Settle is how long a file must stay unchanged before it is handled.
	Settle time.Duration
	// ScanExisting hands files already present at start to the handler.
	ScanExisting bool
	// Accept filters candidate files; nil accepts everything not hidden.
	Accept func(path string) bool
}

// New creates a Watcher with concurrency control.
func New(cfg Config, handler EventHandler, log logger.Logger) (Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := watcher.Add(cfg.Dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.Settle <= 0 {
		cfg.Settle = defaultSettle
	}
	if log == nil {
		log = logger.Nop()
	}

	return &implWatcher{
		cfg:       cfg,
		handler:   handler,
		logger:    log,
		watcher:   watcher,
		semaphore: make(chan struct{}, cfg.MaxConcurrent),
		ready:     make(chan string, 16),
		quit:      make(chan struct{}),
		pending:   make(map[string]*time.Timer),
		handled:   make(map[string]bool),
	}, nil
}
