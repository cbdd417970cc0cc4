package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, sess *auth.Session, item model.CatalogItem) (model.MediaAsset, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[item.ID]++
	err := f.fail[item.ID]
	f.mu.Unlock()
	if err != nil {
		return model.MediaAsset{}, err
	}
	return model.MediaAsset{
		ItemID:   item.ID,
		Body:     io.NopCloser(strings.NewReader("audio of " + item.ID)),
		MIMEType: "audio/mpeg",
		Name:     item.ID + ".mp3",
		Size:     -1,
	}, nil
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	// block holds items until their context ends.
	block map[string]bool
	delay time.Duration
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, asset model.MediaAsset) (model.Transcript, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[asset.ItemID]++
	err := f.fail[asset.ItemID]
	block := f.block[asset.ItemID]
	f.mu.Unlock()

	data, readErr := io.ReadAll(asset.Body)
	if readErr != nil {
		return model.Transcript{}, readErr
	}
	if block {
		<-ctx.Done()
		return model.Transcript{}, apperror.Wrap(apperror.ErrTranscription, "transcribe "+asset.ItemID, "", apperror.FromContext(ctx, "transcribe"))
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err != nil {
		return model.Transcript{}, err
	}
	return model.Transcript{ItemID: asset.ItemID, Text: "transcript: " + string(data), Language: "english"}, nil
}

func (f *fakeTranscriber) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeSummarizer struct {
	mu    sync.Mutex
	calls map[string]int
	// block holds items until their context ends.
	block map[string]bool
}

func (f *fakeSummarizer) Name() string { return "fake" }

func (f *fakeSummarizer) Summarize(ctx context.Context, item model.CatalogItem, transcript model.Transcript) (model.SummaryNotes, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[item.ID]++
	block := f.block[item.ID]
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return model.SummaryNotes{}, ctx.Err()
	}
	return model.SummaryNotes{ItemID: item.ID, Bullets: []string{"notes on " + transcript.Text}}, nil
}

func (f *fakeSummarizer) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type fakeSearcher struct {
	items []model.CatalogItem
}

func (f *fakeSearcher) Search(ctx context.Context, sess *auth.Session, query string) ([]model.CatalogItem, error) {
	return f.items, nil
}

type fixture struct {
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
	pipeline    Pipeline
}

func newFixture(cfg Config) *fixture {
	f := &fixture{
		fetcher:     &fakeFetcher{fail: map[string]error{}},
		transcriber: &fakeTranscriber{fail: map[string]error{}, block: map[string]bool{}},
		summarizer:  &fakeSummarizer{block: map[string]bool{}},
	}
	f.pipeline = New(cfg, Deps{
		Searcher:    &fakeSearcher{},
		Fetcher:     f.fetcher,
		Transcriber: f.transcriber,
		Summarizer:  f.summarizer,
	}, logger.Nop())
	return f
}

func items(n int) []model.CatalogItem {
	out := make([]model.CatalogItem, n)
	for i := range out {
		id := fmt.Sprintf("%d", i+1)
		out[i] = model.CatalogItem{ID: id, Title: "Lecture " + id}
	}
	return out
}

func collect(b *Batch) map[string][]model.Event {
	out := map[string][]model.Event{}
	for ev := range b.Events() {
		out[ev.ItemID] = append(out[ev.ItemID], ev)
	}
	return out
}

func states(events []model.Event) []model.State {
	out := make([]model.State, len(events))
	for i, ev := range events {
		out[i] = ev.To
	}
	return out
}

func countStates(results []ItemResult) (done, failed int) {
	for _, r := range results {
		switch r.State {
		case model.StateDone:
			done++
		case model.StateFailed:
			failed++
		}
	}
	return done, failed
}

func TestRun(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 2})
	b := f.pipeline.Run(context.Background(), items(3))
	results := b.Wait()
	events := collect(b)

	if b.ID == "" {
		t.Error("batch has no id")
	}
	want := []model.State{model.StateQueued, model.StateFetching, model.StateTranscribing, model.StateSummarizing, model.StateDone}
	for _, r := range results {
		if r.State != model.StateDone {
			t.Fatalf("item %s ended %s: %s", r.Item.ID, r.State, r.Reason)
		}
		if got := states(events[r.Item.ID]); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("item %s states = %v, want %v", r.Item.ID, got, want)
		}
		for _, ev := range events[r.Item.ID] {
			if ev.BatchID != b.ID || ev.Cached {
				t.Errorf("unexpected event %+v", ev)
			}
		}
		notes, ok := b.Result(r.Item.ID)
		if !ok || notes.ItemID != r.Item.ID || len(notes.Bullets) != 1 {
			t.Errorf("Result(%s) = %+v, %v", r.Item.ID, notes, ok)
		}
		if r.Transcript.ItemID != r.Item.ID || r.Transcript.Text == "" {
			t.Errorf("transcript of %s = %+v", r.Item.ID, r.Transcript)
		}
	}
	if b.Err() != nil {
		t.Errorf("Err() = %v", b.Err())
	}
}

func TestRunIsolatesFetchFailure(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 3})
	f.fetcher.fail["3"] = apperror.Permanent(apperror.Wrap(apperror.ErrFetch, "fetch 3", "invalid media reference", nil))

	b := f.pipeline.Run(context.Background(), items(5))
	results := b.Wait()

	done, failed := countStates(results)
	if done != 4 || failed != 1 {
		t.Fatalf("done=%d failed=%d, want 4 and 1", done, failed)
	}
	r := results[2]
	if r.State != model.StateFailed || !strings.Contains(r.Reason, "invalid media reference") {
		t.Errorf("item 3 = %s %q", r.State, r.Reason)
	}
	if !errors.Is(r.Err, apperror.ErrFetch) {
		t.Errorf("item 3 error = %v, want ErrFetch", r.Err)
	}
	if f.transcriber.count("3") != 0 {
		t.Error("failed fetch must not be transcribed")
	}
	if _, ok := b.Result("3"); ok {
		t.Error("failed item must have no notes")
	}
	if b.Err() != nil {
		t.Errorf("a fetch error must not abort the batch: %v", b.Err())
	}
}

func TestRunTwiceUsesCache(t *testing.T) {
	f := newFixture(Config{})
	batch := items(2)

	if done, _ := countStates(f.pipeline.Run(context.Background(), batch).Wait()); done != 2 {
		t.Fatalf("first run: done=%d", done)
	}

	b := f.pipeline.Run(context.Background(), batch)
	results := b.Wait()
	events := collect(b)

	for _, item := range batch {
		if f.fetcher.count(item.ID) != 1 || f.transcriber.count(item.ID) != 1 || f.summarizer.count(item.ID) != 1 {
			t.Errorf("item %s calls: fetch=%d transcribe=%d summarize=%d, want 1 each", item.ID,
				f.fetcher.count(item.ID), f.transcriber.count(item.ID), f.summarizer.count(item.ID))
		}
		for _, ev := range events[item.ID] {
			if ev.To.IsActive() && !ev.Cached {
				t.Errorf("item %s: %s should be served from cache", item.ID, ev.To)
			}
		}
	}
	if done, _ := countStates(results); done != 2 {
		t.Errorf("second run: done=%d", done)
	}
}

func TestConcurrentRunsShareOneCall(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 4})
	f.transcriber.delay = 20 * time.Millisecond
	item := items(1)

	var wg sync.WaitGroup
	batches := make([]*Batch, 5)
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batches[i] = f.pipeline.Run(context.Background(), item)
		}(i)
	}
	wg.Wait()

	for _, b := range batches {
		for _, r := range b.Wait() {
			if r.State != model.StateDone {
				t.Errorf("batch %s: %s %s", b.ID, r.State, r.Reason)
			}
		}
	}
	if got := f.transcriber.count("1"); got != 1 {
		t.Errorf("transcribe calls = %d, want 1", got)
	}
	if got := f.fetcher.count("1"); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if got := f.summarizer.count("1"); got != 1 {
		t.Errorf("summarize calls = %d, want 1", got)
	}
}

func TestCancelStopsRemainingItems(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 1})
	for _, id := range []string{"3", "4", "5"} {
		f.transcriber.block[id] = true
	}

	b := f.pipeline.Run(context.Background(), items(5))
	done := 0
	started := map[string]bool{}
	for ev := range b.Events() {
		if ev.To == model.StateFetching {
			started[ev.ItemID] = true
		}
		if ev.To == model.StateDone {
			done++
			if done == 2 {
				b.Cancel()
			}
		}
	}
	results := b.Wait()

	for i, r := range results {
		if i < 2 {
			if r.State != model.StateDone {
				t.Errorf("item %s = %s, want Done", r.Item.ID, r.State)
			}
			continue
		}
		if r.State != model.StateFailed || r.Reason != "cancelled" {
			t.Errorf("item %s = %s %q, want Failed(cancelled)", r.Item.ID, r.State, r.Reason)
		}
	}
	for _, id := range []string{"4", "5"} {
		if started[id] || f.fetcher.count(id) != 0 {
			t.Errorf("item %s started after cancellation", id)
		}
	}
}

func TestAuthErrorAbortsBatch(t *testing.T) {
	f := newFixture(Config{MaxConcurrent: 1})
	f.fetcher.fail["1"] = apperror.Permanent(apperror.Wrap(apperror.ErrAuth, "session", "request rejected after re-authentication", nil))

	b := f.pipeline.Run(context.Background(), items(3))
	results := b.Wait()

	if !errors.Is(b.Err(), apperror.ErrAuth) {
		t.Fatalf("Err() = %v, want ErrAuth", b.Err())
	}
	for _, r := range results {
		if r.State != model.StateFailed || r.Reason == "" {
			t.Errorf("item %s = %s %q, want Failed with a reason", r.Item.ID, r.State, r.Reason)
		}
		if !errors.Is(r.Err, apperror.ErrAuth) {
			t.Errorf("item %s error = %v, want the auth failure", r.Item.ID, r.Err)
		}
	}
	for _, id := range []string{"2", "3"} {
		if f.fetcher.count(id) != 0 {
			t.Errorf("item %s started after the batch was aborted", id)
		}
	}
}

func TestTranscriptionFailureIsNotCached(t *testing.T) {
	f := newFixture(Config{})
	f.transcriber.fail["1"] = apperror.Transient(apperror.Wrap(apperror.ErrTranscription, "transcribe 1", "http 429: slow down", nil))

	results := f.pipeline.Run(context.Background(), items(1)).Wait()
	if results[0].State != model.StateFailed || !strings.HasSuffix(results[0].Reason, "(retryable)") {
		t.Fatalf("result = %s %q", results[0].State, results[0].Reason)
	}

	delete(f.transcriber.fail, "1")
	results = f.pipeline.Run(context.Background(), items(1)).Wait()
	if results[0].State != model.StateDone {
		t.Fatalf("retry = %s %q", results[0].State, results[0].Reason)
	}
	if got := f.transcriber.count("1"); got != 2 {
		t.Errorf("transcribe calls = %d, want 2", got)
	}
}

func TestStageTimeouts(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		block    func(f *fixture)
		wantKind error
	}{
		{
			name:     "transcribe",
			cfg:      Config{TranscribeTimeout: 30 * time.Millisecond},
			block:    func(f *fixture) { f.transcriber.block["1"] = true },
			wantKind: apperror.ErrTranscription,
		},
		{
			name:     "summarize",
			cfg:      Config{SummarizeTimeout: 30 * time.Millisecond},
			block:    func(f *fixture) { f.summarizer.block["1"] = true },
			wantKind: apperror.ErrSummarization,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.cfg)
			tt.block(f)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			results := f.pipeline.Run(ctx, items(2)).Wait()
			if ctx.Err() != nil {
				t.Fatal("stage timeout was not applied")
			}

			r := results[0]
			if r.State != model.StateFailed {
				t.Fatalf("item 1 = %s, want Failed", r.State)
			}
			if !errors.Is(r.Err, tt.wantKind) || !errors.Is(r.Err, apperror.ErrTimeout) {
				t.Errorf("item 1 error = %v, want %v and ErrTimeout", r.Err, tt.wantKind)
			}
			if !apperror.Retryable(r.Err) || !strings.Contains(r.Reason, "timeout") {
				t.Errorf("item 1 reason = %q, want a retryable timeout", r.Reason)
			}
			if results[1].State != model.StateDone {
				t.Errorf("item 2 = %s %q, want Done", results[1].State, results[1].Reason)
			}
		})
	}
}

func TestRunDeduplicatesItems(t *testing.T) {
	f := newFixture(Config{})
	batch := append(items(2), model.CatalogItem{ID: "1", Title: "again"}, model.CatalogItem{Title: "no id"})

	results := f.pipeline.Run(context.Background(), batch).Wait()
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestRunEmptyBatch(t *testing.T) {
	f := newFixture(Config{})
	b := f.pipeline.Run(context.Background(), nil)
	if got := b.Wait(); len(got) != 0 {
		t.Errorf("results = %v", got)
	}
	if _, open := <-b.Events(); open {
		t.Error("events channel should be closed")
	}
}

func TestSearch(t *testing.T) {
	want := items(2)
	p := New(Config{}, Deps{Searcher: &fakeSearcher{items: want}}, nil)
	got, err := p.Search(context.Background(), "lecture")
	if err != nil || len(got) != 2 {
		t.Fatalf("Search() = %v, %v", got, err)
	}

	_, err = New(Config{}, Deps{}, nil).Search(context.Background(), "lecture")
	if !errors.Is(err, apperror.ErrSearch) {
		t.Errorf("Search() without a catalog error = %v", err)
	}
}

func TestSearchIsRateLimited(t *testing.T) {
	p := New(Config{RequestsPerMinute: 1}, Deps{Searcher: &fakeSearcher{}}, nil)
	if _, err := p.Search(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.Search(ctx, "second")
	if !errors.Is(err, apperror.ErrSearch) || !apperror.Retryable(err) {
		t.Errorf("Search() error = %v, want a retryable search error", err)
	}
}
