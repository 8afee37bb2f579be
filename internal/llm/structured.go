package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// CompleteJSON runs a chat completion constrained to the JSON schema derived
// from out's type and decodes the response into out.
func (c *Client) CompleteJSON(ctx context.Context, model, name string, messages []openai.ChatCompletionMessage, out interface{}) error {
	schema, err := jsonschema.GenerateSchemaForType(out)
	if err != nil {
		return fmt.Errorf("generate schema for %s: %w", name, err)
	}

	err = c.withRetry(ctx, func() error {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   name,
					Schema: schema,
					Strict: true,
				},
			},
		})
		if err != nil {
			return fmt.Errorf("structured completion %s: %w", name, err)
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("structured completion %s: no choices returned", name)
		}
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), out); err != nil {
			return fmt.Errorf("decode structured output %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrUpstream, err)
	}
	return nil
}
