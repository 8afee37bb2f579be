package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// StreamResult is the accumulated outcome of one streamed completion turn.
type StreamResult struct {
	Content      string
	ToolCalls    []openai.ToolCall
	FinishReason openai.FinishReason
}

// HasToolCalls reports whether the model requested tool execution.
func (r *StreamResult) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// StreamChat runs a streaming chat completion. Every non-empty content delta
// is passed to onToken in emission order. Tool-call deltas are accumulated by
// index and returned whole once the stream ends.
//
// Transient failures are retried with jittered backoff — but only while no
// delta has reached onToken yet; once tokens are out, a retry would replay
// them, so the error surfaces and broker redelivery takes over.
func (c *Client) StreamChat(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool, onToken func(string)) (*StreamResult, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, emitted, err := c.streamOnce(ctx, model, messages, tools, onToken)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if emitted || !isRetryableError(err) || attempt == maxRetries {
			break
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: context cancelled during retry: %w", domain.ErrUpstream, ctx.Err())
		}
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrUpstream, lastErr)
}

// streamOnce runs one streaming attempt. emitted reports whether any content
// delta was handed to onToken before the error.
func (c *Client) streamOnce(ctx context.Context, model string, messages []openai.ChatCompletionMessage, tools []openai.Tool, onToken func(string)) (result *StreamResult, emitted bool, err error) {
	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	result = &StreamResult{}
	var content []byte
	toolCalls := map[int]*openai.ToolCall{}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, emitted, fmt.Errorf("stream recv: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			result.FinishReason = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			content = append(content, choice.Delta.Content...)
			emitted = true
			onToken(choice.Delta.Content)
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := toolCalls[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				toolCalls[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	result.Content = string(content)

	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		result.ToolCalls = append(result.ToolCalls, *toolCalls[idx])
	}

	return result, emitted, nil
}
