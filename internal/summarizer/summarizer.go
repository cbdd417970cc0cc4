package summarizer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

func (s *implSummarizer) Name() string { return s.backend.name() }

// Summarize sends the transcript to the model and parses the bullets. Long
// transcripts are summarized per chunk, then the partial notes are merged.
func (s *implSummarizer) Summarize(ctx context.Context, item model.CatalogItem, transcript model.Transcript) (model.SummaryNotes, error) {
	op := "summarize " + item.ID
	if transcript.ItemID != "" && transcript.ItemID != item.ID {
		return model.SummaryNotes{}, apperror.Permanent(apperror.Wrap(apperror.ErrSummarization, op,
			fmt.Sprintf("transcript belongs to item %s", transcript.ItemID), nil))
	}
	text := strings.TrimSpace(transcript.Text)
	if text == "" {
		return model.SummaryNotes{}, apperror.Permanent(apperror.Wrap(apperror.ErrSummarization, op, "empty transcript", nil))
	}

	chunks := splitChunks(text, s.cfg.ChunkChars)
	var raw string
	var err error
	if len(chunks) == 1 {
		raw, err = s.backend.complete(ctx, notesPrompt(item, text, s.cfg.MaxBullets))
	} else {
		raw, err = s.mapReduce(ctx, item, chunks)
	}
	if err != nil {
		return model.SummaryNotes{}, s.classify(ctx, op, err)
	}

	bullets := parseBullets(raw, s.cfg.MaxBullets)
	if len(bullets) == 0 {
		return model.SummaryNotes{}, apperror.Permanent(apperror.Wrap(apperror.ErrSummarization, op, "model returned no notes", nil))
	}

	s.logger.Info(ctx, "Summarized %s into %d bullets with %s", item.ID, len(bullets), s.backend.name())
	return model.SummaryNotes{ItemID: item.ID, Bullets: bullets}, nil
}

func (s *implSummarizer) mapReduce(ctx context.Context, item model.CatalogItem, chunks []string) (string, error) {
	s.logger.Info(ctx, "Transcript of %s is long, summarizing in %d parts", item.ID, len(chunks))

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		raw, err := s.backend.complete(ctx, chunkPrompt(item, chunk, i+1, len(chunks), s.cfg.MaxBullets))
		if err != nil {
			return "", fmt.Errorf("part %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, strings.Join(parseBullets(raw, 0), "\n"))
	}
	return s.backend.complete(ctx, mergePrompt(item, partials, s.cfg.MaxBullets))
}

// classify tags backend failures: rate limits and server errors are
// transient, quota exhaustion and client errors permanent.
func (s *implSummarizer) classify(ctx context.Context, op string, err error) error {
	if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
		return apperror.Wrap(apperror.ErrSummarization, op, "", ctxErr)
	}
	wrapped := apperror.Wrap(apperror.ErrSummarization, op, "", err)
	if errors.Is(err, apperror.ErrTransient) || errors.Is(err, apperror.ErrPermanent) {
		return wrapped
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.Code != "insufficient_quota" &&
			(statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError) {
			return apperror.Transient(wrapped)
		}
		return apperror.Permanent(wrapped)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return apperror.Transient(wrapped)
	}
	return wrapped
}

// splitChunks cuts text on whitespace into pieces of at most limit bytes.
func splitChunks(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		for len(word) > limit {
			if b.Len() > 0 {
				chunks = append(chunks, b.String())
				b.Reset()
			}
			cut := runeCut(word, limit)
			chunks = append(chunks, word[:cut])
			word = word[cut:]
		}
		if b.Len() > 0 && b.Len()+1+len(word) > limit {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(word)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// runeCut returns the largest rune boundary in s at or below limit. A single
// rune wider than limit is kept whole.
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		_, cut = utf8.DecodeRuneInString(s)
	}
	return cut
}
