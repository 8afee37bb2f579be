package llm

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatfabric/chatfabric/internal/domain"
)

const (
	maxRetries    = 3
	retryBaseWait = time.Second
)

// Client wraps an OpenAI-compatible endpoint for chat, structured
// extraction, and embeddings.
type Client struct {
	api                 *openai.Client
	embeddingsModel     string
	embeddingDimensions int
}

// Options configures the client.
type Options struct {
	APIKey              string
	BaseURL             string
	EmbeddingsModel     string
	EmbeddingDimensions int
}

// New creates a client. BaseURL is optional and points at any
// OpenAI-compatible endpoint.
func New(opts Options) *Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &Client{
		api:                 openai.NewClientWithConfig(cfg),
		embeddingsModel:     opts.EmbeddingsModel,
		embeddingDimensions: opts.EmbeddingDimensions,
	}
}

// Complete runs a non-streaming chat completion and returns the text.
func (c *Client) Complete(ctx context.Context, model string, messages []openai.ChatCompletionMessage) (string, error) {
	var content string
	err := c.withRetry(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
		})
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("chat completion: no choices returned")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return content, nil
}

// Embed returns the embedding vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var embedding []float32
	err := c.withRetry(ctx, func() error {
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input:      []string{text},
			Model:      openai.EmbeddingModel(c.embeddingsModel),
			Dimensions: c.embeddingDimensions,
		})
		if err != nil {
			return fmt.Errorf("create embedding: %w", err)
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("create embedding: empty response")
		}
		embedding = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return embedding, nil
}

// withRetry retries transient upstream failures with jittered linear backoff.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) || attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		}
	}
	return lastErr
}

// backoff grows linearly per attempt with jitter so a worker fleet retrying
// the same outage does not thunder in lockstep.
func backoff(attempt int) time.Duration {
	return time.Duration(attempt)*retryBaseWait + time.Duration(rand.Int63n(int64(retryBaseWait/2)))
}

// isRetryableError checks if an error is transient and worth retrying.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	retryablePatterns := []string{
		"timeout", "timed out", "connection refused", "connection reset",
		"no such host", "EOF", "503", "502", "504", "429", "500",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
