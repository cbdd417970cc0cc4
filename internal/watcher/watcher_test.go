package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/media"
)

func startWatcher(t *testing.T, cfg Config) (<-chan string, context.CancelFunc, <-chan error) {
	t.Helper()
	handled := make(chan string, 10)
	w, err := New(cfg, func(ctx context.Context, path string) error {
		handled <- filepath.Base(path)
		return nil
	}, logger.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Start(ctx) }()
	return handled, cancel, errc
}

func expectFile(t *testing.T, handled <-chan string, want string) {
	t.Helper()
	select {
	case got := <-handled:
		if got != want {
			t.Fatalf("handled %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("%s was not handled", want)
	}
}

func expectNothing(t *testing.T, handled <-chan string) {
	t.Helper()
	select {
	case got := <-handled:
		t.Fatalf("unexpected file handled: %s", got)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherHandlesSettledMediaFiles(t *testing.T) {
	dir := t.TempDir()
	handled, cancel, errc := startWatcher(t, Config{
		Dir:    dir,
		Settle: 50 * time.Millisecond,
		Accept: media.IsMediaFile,
	})

	for _, name := range []string{".partial.mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	path := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("first and more"), 0o644); err != nil {
		t.Fatal(err)
	}

	expectFile(t, handled, "talk.mp3")
	expectNothing(t, handled)

	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestWatcherHandlesFileAgainAfterRemoval(t *testing.T) {
	dir := t.TempDir()
	handled, cancel, _ := startWatcher(t, Config{Dir: dir, Settle: 50 * time.Millisecond})
	defer cancel()

	path := filepath.Join(dir, "talk.m4a")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectFile(t, handled, "talk.m4a")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectFile(t, handled, "talk.m4a")
}

func TestWatcherScansExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	handled, cancel, _ := startWatcher(t, Config{Dir: dir, Settle: 20 * time.Millisecond, ScanExisting: true})
	defer cancel()

	expectFile(t, handled, "old.mp4")
}

func TestNewRejectsMissingDir(t *testing.T) {
	if _, err := New(Config{Dir: filepath.Join(t.TempDir(), "missing")}, nil, nil); err == nil {
		t.Error("expected an error for a missing directory")
	}
}
