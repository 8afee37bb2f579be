package memoryclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/chatfabric/internal/domain"
)

func TestFetchProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u1/memories", r.URL.Path)
		json.NewEncoder(w).Encode(domain.UserProfile{
			UserID:    "u1",
			Interests: []string{"cycling"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	profile, err := c.FetchProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cycling"}, profile.Interests)
}

func TestFetchProfileNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.FetchProfile(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchProfileTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(srv.URL, 50*time.Millisecond)
	_, err := c.FetchProfile(context.Background(), "u1")
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestSearchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/users/u1/conversations/search", r.URL.Path)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "vacation", body["query"])
		assert.EqualValues(t, 3, body["limit"])

		json.NewEncoder(w).Encode(SearchResponse{
			Conversations: []domain.SummarySearchResult{
				{
					ConversationSummary: domain.ConversationSummary{
						SessionID: "s1",
						Summary:   "Trip planning",
					},
					RelevanceScore: 0.85,
				},
			},
			TotalFound:  1,
			SearchQuery: "vacation",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.SearchConversations(context.Background(), "u1", "vacation", 3)
	require.NoError(t, err)
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 0.85, resp.Conversations[0].RelevanceScore)
}

func TestSearchConversationsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.SearchConversations(context.Background(), "u1", "q", 5)
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
