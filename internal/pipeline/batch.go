package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// eventsPerItem covers Queued plus every forward transition.
const eventsPerItem = 6

// ItemResult is the outcome of one item of a batch.
type ItemResult struct {
	Item       model.CatalogItem
	State      model.State
	Reason     string // set when State is Failed
	Err        error
	Transcript model.Transcript
	Notes      model.SummaryNotes
}

// Batch tracks one Run. Events are buffered for every transition, so a
// caller may read them live or after Wait.
type Batch struct {
	ID string

	events chan model.Event
	cancel context.CancelCauseFunc
	done   chan struct{}
	logger logger.Logger

	mu       sync.Mutex
	order    []string
	results  map[string]*ItemResult
	abortErr error
}

func newBatch(id string, items []model.CatalogItem, cancel context.CancelCauseFunc, log logger.Logger) *Batch {
	b := &Batch{
		ID:      id,
		events:  make(chan model.Event, len(items)*eventsPerItem),
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  log,
		results: make(map[string]*ItemResult, len(items)),
	}
	now := time.Now()
	for _, item := range items {
		b.order = append(b.order, item.ID)
		b.results[item.ID] = &ItemResult{Item: item, State: model.StateQueued}
		b.events <- model.Event{BatchID: id, ItemID: item.ID, To: model.StateQueued, At: now}
	}
	return b
}

// Events streams state transitions. The channel is closed once every item is
// terminal.
func (b *Batch) Events() <-chan model.Event {
	return b.events
}

// Cancel stops the batch: running items fail as cancelled and queued items
// never start.
func (b *Batch) Cancel() {
	b.cancel(nil)
}

// Done is closed when every item reached Done or Failed.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch finishes and returns the results in input order.
func (b *Batch) Wait() []ItemResult {
	<-b.done
	return b.Results()
}

// Results returns a snapshot of every item in input order.
func (b *Batch) Results() []ItemResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]ItemResult, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.results[id])
	}
	return out
}

// Result returns the notes of a finished item.
func (b *Batch) Result(itemID string) (model.SummaryNotes, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.results[itemID]
	if !ok || r.State != model.StateDone {
		return model.SummaryNotes{}, false
	}
	return r.Notes, true
}

// Err returns the error that aborted the batch, if any.
func (b *Batch) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErr
}

// advance moves an item forward. Illegal moves are ignored and reported
// as false.
func (b *Batch) advance(ctx context.Context, id string, to model.State, cached bool) bool {
	return b.transition(ctx, id, to, cached, nil)
}

func (b *Batch) succeed(ctx context.Context, id string, transcript model.Transcript, notes model.SummaryNotes) {
	b.mu.Lock()
	if r, ok := b.results[id]; ok {
		r.Transcript = transcript
		r.Notes = notes
	}
	b.mu.Unlock()
	b.advance(ctx, id, model.StateDone, false)
}

func (b *Batch) fail(ctx context.Context, id string, err error) {
	if err == nil {
		err = errors.New("item " + id + " failed without a reason")
	}
	b.transition(ctx, id, model.StateFailed, false, err)
}

func (b *Batch) transition(ctx context.Context, id string, to model.State, cached bool, err error) bool {
	b.mu.Lock()
	r, ok := b.results[id]
	if !ok || !r.State.CanTransition(to) {
		b.mu.Unlock()
		return false
	}
	ev := model.Event{BatchID: b.ID, ItemID: id, From: r.State, To: to, Cached: cached, At: time.Now()}
	r.State = to
	if err != nil {
		r.Err = err
		r.Reason = apperror.Reason(err)
		ev.Reason = r.Reason
	}
	b.events <- ev
	b.mu.Unlock()

	switch {
	case to == model.StateFailed:
		b.logger.Warn(ctx, "%s -> Failed: %s", ev.From, ev.Reason)
	case cached:
		b.logger.Info(ctx, "%s -> %s (cached)", ev.From, to)
	default:
		b.logger.Info(ctx, "%s -> %s", ev.From, to)
	}
	return true
}

// abort cancels the batch with err as the cause. Only the first call wins.
func (b *Batch) abort(ctx context.Context, err error) {
	b.mu.Lock()
	first := b.abortErr == nil
	if first {
		b.abortErr = err
	}
	b.mu.Unlock()
	if first {
		b.logger.Error(ctx, "Aborting batch: %v", err)
		b.cancel(err)
	}
}

func (b *Batch) finish() {
	b.cancel(nil)
	close(b.events)
	close(b.done)
}
