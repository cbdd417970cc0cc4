package logger

import "context"

type contextKey string

const (
	itemIDKey  contextKey = "item_id"
	batchIDKey contextKey = "batch_id"
)

// WithItemID annotates context with the catalog item being processed.
func WithItemID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, itemIDKey, id)
}

// WithBatchID annotates context with the batch identifier.
func WithBatchID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, batchIDKey, id)
}

// ItemIDFromContext returns the item identifier if present.
func ItemIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(itemIDKey).(string)
	return v, ok && v != ""
}

// BatchIDFromContext returns the batch identifier if present.
func BatchIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(batchIDKey).(string)
	return v, ok && v != ""
}
