package pipeline

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Pipeline drives selected lectures through fetch, transcription and
// summarization. Transcripts and notes are cached per item for the lifetime
// of the Pipeline.
type Pipeline interface {
	// Search lists catalog items matching query.
	Search(ctx context.Context, query string) ([]model.CatalogItem, error)
	// Run starts processing items in the background and returns at once.
	Run(ctx context.Context, items []model.CatalogItem) *Batch
}
