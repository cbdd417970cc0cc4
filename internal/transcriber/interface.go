package transcriber

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Transcriber converts a media stream to text.
type Transcriber interface {
	// Transcribe consumes asset.Body. It does not close the asset.
	Transcribe(ctx context.Context, asset model.MediaAsset) (model.Transcript, error)

	// Name returns the provider name.
	Name() string
}
