package media

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Fetcher retrieves the media stream of a catalog item. The caller owns the
// returned asset and must Close it.
type Fetcher interface {
	Fetch(ctx context.Context, sess *auth.Session, item model.CatalogItem) (model.MediaAsset, error)
}
