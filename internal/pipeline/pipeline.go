package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Search lists catalog items for query through the shared session.
func (p *implPipeline) Search(ctx context.Context, query string) ([]model.CatalogItem, error) {
	if p.deps.Searcher == nil {
		return nil, apperror.Permanent(apperror.Wrap(apperror.ErrSearch, "search", "no catalog configured", nil))
	}
	if err := p.wait(ctx, apperror.ErrSearch, "search"); err != nil {
		return nil, err
	}
	return p.deps.Searcher.Search(ctx, p.deps.Session, query)
}

// Run starts a batch. Items are deduplicated by id; items without an id are
// skipped.
func (p *implPipeline) Run(ctx context.Context, items []model.CatalogItem) *Batch {
	id := uuid.NewString()
	ctx, cancel := context.WithCancelCause(logger.WithBatchID(ctx, id))

	selected := make([]model.CatalogItem, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID == "" {
			p.logger.Warn(ctx, "Skipping item without id: %q", item.Title)
			continue
		}
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		selected = append(selected, item)
	}

	b := newBatch(id, selected, cancel, p.logger)
	p.logger.Info(ctx, "Starting batch of %d items", len(selected))
	go p.runBatch(ctx, b, selected)
	return b
}

func (p *implPipeline) runBatch(ctx context.Context, b *Batch, items []model.CatalogItem) {
	var wg sync.WaitGroup
	for _, item := range items {
		itemCtx := logger.WithItemID(ctx, item.ID)
		if err := p.sem.acquire(ctx); err != nil {
			b.fail(itemCtx, item.ID, notStarted(ctx, item.ID))
			continue
		}
		// A free slot and a cancelled batch can be ready together.
		if ctx.Err() != nil {
			p.sem.release()
			b.fail(itemCtx, item.ID, notStarted(ctx, item.ID))
			continue
		}

		wg.Add(1)
		go func(item model.CatalogItem) {
			defer wg.Done()
			defer p.sem.release()
			p.process(itemCtx, b, item)
		}(item)
	}
	wg.Wait()

	done, failed := 0, 0
	for _, r := range b.Results() {
		if r.State == model.StateDone {
			done++
		} else {
			failed++
		}
	}
	p.logger.Info(ctx, "Batch finished: %d done, %d failed", done, failed)
	b.finish()
}

func notStarted(ctx context.Context, id string) error {
	if err := apperror.FromContext(ctx, "start "+id); err != nil {
		return err
	}
	return apperror.Wrap(apperror.ErrCancelled, "start "+id, "cancelled by user", context.Canceled)
}

func (p *implPipeline) process(ctx context.Context, b *Batch, item model.CatalogItem) {
	transcript, notes, err := p.execute(ctx, b, item)
	if err != nil {
		if apperror.AbortsBatch(err) && ctx.Err() == nil {
			b.abort(ctx, err)
		}
		b.fail(ctx, item.ID, err)
		return
	}
	b.succeed(ctx, item.ID, transcript, notes)
}

func (p *implPipeline) execute(ctx context.Context, b *Batch, item model.CatalogItem) (model.Transcript, model.SummaryNotes, error) {
	transcript, cached := p.transcripts.get(item.ID)
	b.advance(ctx, item.ID, model.StateFetching, cached)
	if cached {
		b.advance(ctx, item.ID, model.StateTranscribing, true)
	} else {
		var ran bool
		var err error
		transcript, ran, err = p.transcripts.do(ctx, item.ID, func() (model.Transcript, error) {
			return p.fetchAndTranscribe(ctx, b, item)
		})
		if err != nil {
			return model.Transcript{}, model.SummaryNotes{}, stageError(ctx, apperror.ErrTranscription, "transcribe "+item.ID, err)
		}
		b.advance(ctx, item.ID, model.StateTranscribing, !ran)
	}

	notes, cached := p.notes.get(item.ID)
	b.advance(ctx, item.ID, model.StateSummarizing, cached)
	if !cached {
		var err error
		notes, _, err = p.notes.do(ctx, item.ID, func() (model.SummaryNotes, error) {
			return p.summarize(ctx, item, transcript)
		})
		if err != nil {
			return model.Transcript{}, model.SummaryNotes{}, stageError(ctx, apperror.ErrSummarization, "summarize "+item.ID, err)
		}
	}
	return transcript, notes, nil
}

func (p *implPipeline) fetchAndTranscribe(ctx context.Context, b *Batch, item model.CatalogItem) (model.Transcript, error) {
	if err := p.wait(ctx, apperror.ErrFetch, "fetch "+item.ID); err != nil {
		return model.Transcript{}, err
	}
	asset, err := p.deps.Fetcher.Fetch(ctx, p.deps.Session, item)
	if err != nil {
		return model.Transcript{}, err
	}
	defer func() {
		if err := asset.Close(); err != nil {
			p.logger.Debug(ctx, "Closing media of %s: %v", item.ID, err)
		}
	}()

	b.advance(ctx, item.ID, model.StateTranscribing, false)
	if err := p.wait(ctx, apperror.ErrTranscription, "transcribe "+item.ID); err != nil {
		return model.Transcript{}, err
	}
	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscribeTimeout)
	defer cancel()

	transcript, err := p.deps.Transcriber.Transcribe(tctx, asset)
	if err != nil {
		return model.Transcript{}, err
	}
	transcript.ItemID = item.ID
	p.logger.Info(ctx, "Transcribed %s (%d characters)", item.ID, len(transcript.Text))
	return transcript, nil
}

func (p *implPipeline) summarize(ctx context.Context, item model.CatalogItem, transcript model.Transcript) (model.SummaryNotes, error) {
	if err := p.wait(ctx, apperror.ErrSummarization, "summarize "+item.ID); err != nil {
		return model.SummaryNotes{}, err
	}
	sctx, cancel := context.WithTimeout(ctx, p.cfg.SummarizeTimeout)
	defer cancel()

	notes, err := p.deps.Summarizer.Summarize(sctx, item, transcript)
	if err != nil {
		return model.SummaryNotes{}, err
	}
	notes.ItemID = item.ID
	return notes, nil
}

// wait paces external calls through the shared limiter.
func (p *implPipeline) wait(ctx context.Context, kind error, op string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
			return apperror.Wrap(kind, op, "", ctxErr)
		}
		// The next slot lies beyond the deadline.
		return apperror.Transient(apperror.Wrap(kind, op, "rate limit wait", errors.Join(err, apperror.ErrTimeout)))
	}
	return nil
}

// stageError makes sure every failure carries a kind. Errors that a
// component already classified pass through unchanged.
func stageError(ctx context.Context, kind error, op string, err error) error {
	for _, k := range []error{
		apperror.ErrAuth, apperror.ErrSearch, apperror.ErrFetch, apperror.ErrTranscription,
		apperror.ErrSummarization, apperror.ErrTimeout, apperror.ErrCancelled, apperror.ErrConnectivity,
	} {
		if errors.Is(err, k) {
			return err
		}
	}
	if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
		return apperror.Wrap(kind, op, "", ctxErr)
	}
	// A stage deadline expired inside a component that did not classify it.
	if errors.Is(err, context.DeadlineExceeded) {
		return apperror.Transient(apperror.Wrap(kind, op, "", apperror.Wrap(apperror.ErrTimeout, op, "deadline exceeded", err)))
	}
	return apperror.Wrap(kind, op, "", err)
}
