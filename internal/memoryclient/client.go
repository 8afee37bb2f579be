package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"time"

	"github.com/chatfabric/chatfabric/internal/domain"
)

// Client calls the memory API. The timeout is a hard ceiling: profile
// fetches during personalization must degrade fast rather than stall the
// first token.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the memory API at baseURL.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SearchResponse is the memory API search payload.
type SearchResponse struct {
	Conversations []domain.SummarySearchResult `json:"conversations"`
	TotalFound    int                          `json:"total_found"`
	SearchQuery   string                       `json:"search_query"`
}

// FetchProfile returns the user's profile, domain.ErrNotFound when none
// exists yet, or domain.ErrTimeout when the memory API is slow.
func (c *Client) FetchProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	url := fmt.Sprintf("%s/users/%s/memories", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr("fetch profile", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("profile for %s: %w", userID, domain.ErrNotFound)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch profile: memory API returned %d: %s: %w", resp.StatusCode, string(body), domain.ErrUpstream)
	}

	var profile domain.UserProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &profile, nil
}

// SearchConversations runs a semantic search over the user's conversation
// summaries.
func (c *Client) SearchConversations(ctx context.Context, userID, query string, limit int) (*SearchResponse, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"query": query,
		"limit": limit,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/conversations/search", c.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr("search conversations", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search conversations: memory API returned %d: %s: %w", resp.StatusCode, string(body), domain.ErrUpstream)
	}

	var result SearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &result, nil
}

func classifyTransportErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrTransient, err)
}
