package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/nguyentantai21042004/cirse-notes/internal/apperror"
	"github.com/nguyentantai21042004/cirse-notes/internal/logger"
)

// generateFunc performs one Gemini call with a single API key.
type generateFunc func(ctx context.Context, apiKey, model, prompt string, temperature float32) (string, error)

type gemini struct {
	apiKeys     []string
	model       string
	temperature float32
	generate    generateFunc
	logger      logger.Logger

	mu         sync.Mutex
	currentKey int
}

func newGemini(cfg Config, log logger.Logger) *gemini {
	model := cfg.GeminiModel
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &gemini{
		apiKeys:     cfg.GeminiKeys,
		model:       model,
		temperature: float32(cfg.Temperature),
		generate:    generateContent,
		logger:      log,
	}
}

func (g *gemini) name() string { return ProviderGemini }

// complete sends the prompt to Gemini, rotating API keys on 429 / quota errors.
func (g *gemini) complete(ctx context.Context, prompt string) (string, error) {
	attempts := len(g.apiKeys)
	var lastErr error

	for range attempts {
		idx, key := g.key()
		text, err := g.generate(ctx, key, g.model, prompt, g.temperature)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", err
		}
		if rateLimited(err) {
			g.logger.Warn(ctx, "Gemini key %d rate limited, rotating...", idx+1)
			g.rotateKey(idx)
			lastErr = err
			continue
		}
		if unavailable(err) {
			return "", apperror.Transient(fmt.Errorf("generate content: %w", err))
		}
		return "", apperror.Permanent(fmt.Errorf("generate content: %w", err))
	}

	return "", apperror.Transient(fmt.Errorf("all API keys exhausted: %w", lastErr))
}

func (g *gemini) key() (int, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.currentKey, g.apiKeys[g.currentKey]
}

// rotateKey moves past key idx unless another caller already did.
func (g *gemini) rotateKey(idx int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.currentKey == idx {
		g.currentKey = (g.currentKey + 1) % len(g.apiKeys)
	}
}

func rateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

func unavailable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "503") || strings.Contains(msg, "500") || strings.Contains(msg, "UNAVAILABLE") || strings.Contains(msg, "INTERNAL")
}

func generateContent(ctx context.Context, apiKey, model, prompt string, temperature float32) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("create client: %w", err)
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       &temperature,
	}
	result, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	if err != nil {
		return "", err
	}

	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		var text strings.Builder
		for _, part := range result.Candidates[0].Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			return text.String(), nil
		}
	}
	return "", errors.New("empty response from Gemini")
}
