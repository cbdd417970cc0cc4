package catalog

import (
	"context"

	"github.com/nguyentantai21042004/cirse-notes/internal/auth"
	"github.com/nguyentantai21042004/cirse-notes/internal/model"
)

// Searcher finds lectures in the library.
type Searcher interface {
	// Search returns the items whose title matches every term of query, in
	// site order. A blank query returns no items and makes no request.
	Search(ctx context.Context, sess *auth.Session, query string) ([]model.CatalogItem, error)
}
