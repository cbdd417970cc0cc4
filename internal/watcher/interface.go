package watcher

import "context"

// Watcher monitors a drop folder for new media files.
type Watcher interface {
	// Start blocks until ctx ends, then waits for running handlers.
	Start(ctx context.Context) error
	Stop() error
}

// EventHandler processes one settled media file.
type EventHandler func(ctx context.Context, filePath string) error
