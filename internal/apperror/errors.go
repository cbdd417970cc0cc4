package apperror

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kinds. Every error leaving a component is tagged with exactly one of these.
var (
	ErrAuth          = errors.New("auth error")
	ErrSearch        = errors.New("search error")
	ErrFetch         = errors.New("fetch error")
	ErrTranscription = errors.New("transcription error")
	ErrSummarization = errors.New("summarization error")
	ErrTimeout       = errors.New("timeout")
	ErrCancelled     = errors.New("cancelled")
	ErrConnectivity  = errors.New("connectivity error")
)

// Retry markers, attached alongside a kind.
var (
	ErrTransient = errors.New("transient")
	ErrPermanent = errors.New("permanent")
)

// Wrap builds an error message that includes operation context while tagging
// it with kind for later classification. Both kind and err stay matchable
// with errors.Is.
func Wrap(kind error, op, message string, err error) error {
	detail := buildDetail(op, message)
	if kind == nil {
		kind = ErrConnectivity
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", kind, detail, err)
	}
	return fmt.Errorf("%w: %s", kind, detail)
}

// Transient tags err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, marker: ErrTransient}
}

// Permanent tags err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, marker: ErrPermanent}
}

type marked struct {
	err    error
	marker error
}

func (m *marked) Error() string {
	return m.err.Error()
}

func (m *marked) Unwrap() []error {
	return []error{m.err, m.marker}
}

// FromContext converts a context failure into the taxonomy. It returns nil
// when ctx is still live.
func FromContext(ctx context.Context, op string) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(Wrap(ErrTimeout, op, "deadline exceeded", err))
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return Wrap(ErrCancelled, op, "cancelled by user", err)
}

// Retryable reports whether err was classified as transient.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout)
}

// AbortsBatch reports whether err means the shared session is unusable and
// the whole batch must stop.
func AbortsBatch(err error) bool {
	return errors.Is(err, ErrAuth) || errors.Is(err, ErrConnectivity)
}

// Reason renders err as the human-readable reason carried by a Failed state.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown failure"
	}
	switch {
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrTranscription) && Retryable(err):
		return msg + " (retryable)"
	}
	return msg
}

func buildDetail(op, message string) string {
	parts := make([]string, 0, 2)
	if op = strings.TrimSpace(op); op != "" {
		parts = append(parts, op)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "failure"
	}
	return strings.Join(parts, ": ")
}
