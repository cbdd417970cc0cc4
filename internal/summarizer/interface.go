package summarizer

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Summarizer condenses a lecture transcript into ordered bullet-point notes.
type Summarizer interface {
	Summarize(ctx context.Context, item model.CatalogItem, transcript model.Transcript) (model.SummaryNotes, error)

	// Name returns the provider name.
	Name() string
}

// completer is one language-model backend: prompt in, raw text out.
type completer interface {
	complete(ctx context.Context, prompt string) (string, error)
	name() string
}
