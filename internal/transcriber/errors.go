package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
)

const maxMessageBytes = 200

type httpStatusError struct {
	StatusCode int
	Message    string
}

func (e *httpStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// apiMessage pulls error.message out of an OpenAI-style error body.
func apiMessage(body []byte) string {
	var payload struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		return strings.TrimSpace(payload.Error.Message)
	}
	msg := strings.Join(strings.Fields(string(body)), " ")
	if len(msg) > maxMessageBytes {
		cut := maxMessageBytes
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut] + "..."
	}
	return msg
}

// classify tags err as transient (rate limits, server errors, timeouts,
// network failures) or permanent (everything the same input would hit again).
func classify(ctx context.Context, op string, err error) error {
	if ctxErr := apperror.FromContext(ctx, op); ctxErr != nil {
		return apperror.Wrap(apperror.ErrTranscription, op, "", ctxErr)
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		wrapped := apperror.Wrap(apperror.ErrTranscription, op, "", err)
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return apperror.Transient(wrapped)
		default:
			return apperror.Permanent(wrapped)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.Transient(apperror.Wrap(apperror.ErrTranscription, op, "network", err))
	}
	return apperror.Wrap(apperror.ErrTranscription, op, "", err)
}
