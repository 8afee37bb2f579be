package generator

import (
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// SearchToolName is the function name the model calls to search past
// conversations.
const SearchToolName = "search_conversation_history"

// searchArgs are the decoded arguments of one search tool call.
type searchArgs struct {
	SearchQuery string `json:"search_query"`
	Limit       int    `json:"limit"`
}

// searchTool builds the tool definition offered to the model.
func searchTool(description string, defaultLimit, maxLimit int) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        SearchToolName,
			Description: description,
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"search_query": {
						Type:        jsonschema.String,
						Description: "Semantic search query describing what to look for in previous conversations. Use natural language describing topics, themes, or context rather than exact keywords.",
					},
					"limit": {
						Type:        jsonschema.Integer,
						Description: fmt.Sprintf("Number of most relevant conversations to return (1-%d). Defaults to %d.", maxLimit, defaultLimit),
					},
				},
				Required: []string{"search_query"},
			},
		},
	}
}

// parseSearchArgs decodes tool-call arguments and clamps the limit into
// [1, maxLimit], defaulting when absent.
func parseSearchArgs(raw string, defaultLimit, maxLimit int) (searchArgs, error) {
	var args searchArgs
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return args, fmt.Errorf("decode search arguments: %w", err)
	}
	if args.SearchQuery == "" {
		return args, fmt.Errorf("search_query is required")
	}
	if args.Limit <= 0 {
		args.Limit = defaultLimit
	}
	if args.Limit > maxLimit {
		args.Limit = maxLimit
	}
	return args, nil
}
