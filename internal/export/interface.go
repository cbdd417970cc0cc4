package export

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Exporter writes the user artefacts of a finished item.
type Exporter interface {
	Export(ctx context.Context, item model.CatalogItem, transcript model.Transcript, notes model.SummaryNotes) (Files, error)
}

// Files lists the paths written for one item. Docx paths are empty unless
// docx output is enabled.
type Files struct {
	Transcript     string
	Notes          string
	TranscriptDocx string
	NotesDocx      string
}
