package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

const (
	defaultRetryBaseDelay = 2 * time.Second
	defaultRetryMaxDelay  = 60 * time.Second
)

type openaiChat struct {
	apiKey      string
	endpoint    string
	model       string
	temperature float64
	maxAttempts int
	httpClient  *http.Client
	sleeper     func(time.Duration)
	logger      logger.Logger
}

func newOpenAIChat(cfg Config, client *http.Client, sleeper func(time.Duration), log logger.Logger) *openaiChat {
	base := strings.TrimSpace(cfg.OpenAIBaseURL)
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	endpoint, err := url.JoinPath(base, "chat", "completions")
	if err != nil {
		endpoint = strings.TrimRight(base, "/") + "/chat/completions"
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &openaiChat{
		apiKey:      strings.TrimSpace(cfg.OpenAIKey),
		endpoint:    endpoint,
		model:       model,
		temperature: cfg.Temperature,
		maxAttempts: cfg.MaxAttempts,
		httpClient:  client,
		sleeper:     sleeper,
		logger:      log,
	}
}

func (c *openaiChat) name() string { return ProviderOpenAI }

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type httpStatusError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("chat request: http %d: %s", e.StatusCode, strings.TrimSpace(msg))
}

func (c *openaiChat) complete(ctx context.Context, prompt string) (string, error) {
	payload := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
	}

	attempts := c.maxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 1; ; attempt++ {
		content, err := c.send(ctx, payload)
		if err == nil {
			return content, nil
		}

		// retryDelay refuses once attempts are exhausted.
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", err
		}
		c.logger.Warn(ctx, "Chat completion attempt %d/%d failed, retrying in %s: %v", attempt, attempts, delay, err)
		if err := c.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
}

func (c *openaiChat) send(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("chat request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("chat request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("chat request: read body: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		retryAfter, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		code, msg := apiError(body)
		return "", &httpStatusError{
			StatusCode: resp.StatusCode,
			Code:       code,
			Message:    msg,
			RetryAfter: retryAfter,
		}
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("chat request: decode response: %w", err)
	}
	for _, choice := range completion.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content, nil
		}
		if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
			return "", apperror.Permanent(fmt.Errorf("model refused: %s", refusal))
		}
		if choice.FinishReason == "content_filter" {
			return "", apperror.Permanent(errors.New("model output blocked by content filter"))
		}
	}
	return "", apperror.Permanent(errors.New("chat request: empty completion"))
}

// retryDelay honours Retry-After on 429/503 and backs off on other server
// errors. Exhausted quota and client errors are final.
func (c *openaiChat) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == "insufficient_quota":
			return 0, false
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			if statusErr.RetryAfter > 0 {
				return capDelay(statusErr.RetryAfter), true
			}
			return backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return backoffDelay(attempt), true
	}
	return 0, false
}

func (c *openaiChat) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoffDelay(attempt int) time.Duration {
	delay := defaultRetryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return capDelay(delay)
}

func capDelay(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > defaultRetryMaxDelay {
		return defaultRetryMaxDelay
	}
	return delay
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

func apiError(body []byte) (code, message string) {
	var payload struct {
		Error *struct {
			Message string `json:"message"`
			Code    any    `json:"code"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		if s, ok := payload.Error.Code.(string); ok {
			code = s
		}
		if code == "" {
			code = payload.Error.Type
		}
		return code, strings.TrimSpace(payload.Error.Message)
	}
	msg := strings.Join(strings.Fields(string(body)), " ")
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return "", msg
}
