package generator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/llm"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/memoryclient"
	"github.com/chatfabric/chatfabric/internal/prompts"
)

type fakePublisher struct {
	tokens      []domain.TokenFragment
	endOfStream int
	completions []domain.CompletionEvent
	failPublish bool
}

func (f *fakePublisher) PublishToken(frag domain.TokenFragment) error {
	f.tokens = append(f.tokens, frag)
	return nil
}

func (f *fakePublisher) PublishEndOfStream(sessionID, chatMessageID string) error {
	f.endOfStream++
	return nil
}

func (f *fakePublisher) PublishCompletion(_ context.Context, ev domain.CompletionEvent) error {
	if f.failPublish {
		return errors.New("broker down")
	}
	f.completions = append(f.completions, ev)
	return nil
}

type fakeCache struct {
	conversations map[string]*domain.Conversation
	replays       []domain.TokenFragment
}

func newFakeCache() *fakeCache {
	return &fakeCache{conversations: map[string]*domain.Conversation{}}
}

func (f *fakeCache) GetConversation(_ context.Context, sessionID string) (*domain.Conversation, error) {
	conv, ok := f.conversations[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

func (f *fakeCache) SaveConversation(_ context.Context, conv *domain.Conversation) error {
	cp := *conv
	f.conversations[conv.SessionID] = &cp
	return nil
}

func (f *fakeCache) AppendReplay(_ context.Context, frag domain.TokenFragment) error {
	f.replays = append(f.replays, frag)
	return nil
}

type fakeStore struct {
	convs map[string]*domain.Conversation
	gets  int
}

func (f *fakeStore) Get(_ context.Context, userID, sessionID string) (*domain.Conversation, error) {
	f.gets++
	conv, ok := f.convs[sessionID]
	if !ok || conv.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *conv
	return &cp, nil
}

type fakeMemory struct {
	profile     *domain.UserProfile
	fetchErr    error
	searches    []searchArgs
	searchResp  *memoryclient.SearchResponse
	fetchCalled int
}

func (f *fakeMemory) FetchProfile(_ context.Context, _ string) (*domain.UserProfile, error) {
	f.fetchCalled++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.profile == nil {
		return nil, domain.ErrNotFound
	}
	return f.profile, nil
}

func (f *fakeMemory) SearchConversations(_ context.Context, _ string, query string, limit int) (*memoryclient.SearchResponse, error) {
	f.searches = append(f.searches, searchArgs{SearchQuery: query, Limit: limit})
	if f.searchResp != nil {
		return f.searchResp, nil
	}
	return &memoryclient.SearchResponse{SearchQuery: query}, nil
}

// fakeModel replays scripted turns: each entry is either streamed text or a
// tool call.
type fakeModel struct {
	turns []fakeTurn
	calls [][]openai.ChatCompletionMessage
	tools [][]openai.Tool
}

type fakeTurn struct {
	text     string
	toolCall *openai.ToolCall
	err      error
}

func (f *fakeModel) StreamChat(_ context.Context, _ string, messages []openai.ChatCompletionMessage, tools []openai.Tool, onToken func(string)) (*llm.StreamResult, error) {
	f.calls = append(f.calls, messages)
	f.tools = append(f.tools, tools)

	turn := f.turns[0]
	f.turns = f.turns[1:]
	if turn.err != nil {
		return nil, turn.err
	}

	for _, r := range turn.text {
		onToken(string(r))
	}
	result := &llm.StreamResult{Content: turn.text}
	if turn.toolCall != nil {
		result.ToolCalls = []openai.ToolCall{*turn.toolCall}
	}
	return result, nil
}

func testWorker(t *testing.T, pub *fakePublisher, cache *fakeCache, mem *fakeMemory, model *fakeModel) *Worker {
	t.Helper()
	return testWorkerWithStore(t, pub, cache, &fakeStore{}, mem, model)
}

func testWorkerWithStore(t *testing.T, pub *fakePublisher, cache *fakeCache, store *fakeStore, mem *fakeMemory, model *fakeModel) *Worker {
	t.Helper()
	lib, err := prompts.NewLibrary(nil)
	require.NoError(t, err)
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewWorker(Options{
		Model:              "test-model",
		MemoryAPITimeout:   2 * time.Second,
		MaxToolRounds:      3,
		SearchLimitDefault: 5,
		SearchLimitMax:     20,
	}, pub, cache, store, mem, model, lib, log)
}

func event() []byte {
	data, _ := json.Marshal(domain.UserMessageEvent{
		SessionID:     "s1",
		UserID:        "u1",
		ChatMessageID: "m1",
		Text:          "Hello",
		SubmittedAt:   time.Now().UTC(),
	})
	return data
}

func TestHappyPathNewSession(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	mem := &fakeMemory{}
	model := &fakeModel{turns: []fakeTurn{{text: "Hi!"}}}

	w := testWorker(t, pub, cache, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	// Every LLM delta became exactly one fragment.
	assert.Len(t, pub.tokens, 3)
	assert.Equal(t, 1, pub.endOfStream)
	require.Len(t, pub.completions, 1)
	assert.Equal(t, domain.EventTypeMessageCompleted, pub.completions[0].EventType)

	conv := cache.conversations["s1"]
	require.NotNil(t, conv)
	// New conversation stores system, user, assistant.
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, domain.RoleSystem, conv.Messages[0].Role)
	assert.Equal(t, "m1_system", conv.Messages[0].ID)
	assert.Equal(t, "Hello", conv.Messages[1].Content)
	assert.Equal(t, "Hi!", conv.Messages[2].Content)

	// First turn fetched the profile.
	assert.Equal(t, 1, mem.fetchCalled)
}

func TestSteadyStateTurnSkipsMemoryFetch(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	existing := domain.NewConversation("s1", "u1")
	existing.Append("m0", domain.RoleUser, "earlier")
	existing.Append("m0", domain.RoleAssistant, "earlier reply")
	require.NoError(t, cache.SaveConversation(context.Background(), existing))

	mem := &fakeMemory{}
	model := &fakeModel{turns: []fakeTurn{{text: "again"}}}

	w := testWorker(t, pub, cache, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	assert.Zero(t, mem.fetchCalled)
	conv := cache.conversations["s1"]
	assert.Len(t, conv.Messages, 4)
	// History rode along in the provider call.
	assert.Equal(t, "earlier", model.calls[0][0].Content)
}

func TestCacheEvictionRestoresFromStore(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()

	// Session persisted long ago; the 24 h TTL evicted the cache entry.
	persisted := domain.NewConversation("s1", "u1")
	persisted.Title = "Old Talk"
	persisted.Append("m0", domain.RoleSystem, "You are a helpful assistant.")
	persisted.Append("m0", domain.RoleUser, "earlier")
	persisted.Append("m0", domain.RoleAssistant, "earlier reply")
	store := &fakeStore{convs: map[string]*domain.Conversation{"s1": persisted}}

	mem := &fakeMemory{}
	model := &fakeModel{turns: []fakeTurn{{text: "welcome back"}}}

	w := testWorkerWithStore(t, pub, cache, store, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	// Restored, not new: no profile fetch, no second system prompt.
	assert.Zero(t, mem.fetchCalled)
	assert.Equal(t, 1, store.gets)

	// The finalized conversation keeps the whole persisted history, so the
	// history writer's upsert cannot shrink the stored transcript.
	conv := cache.conversations["s1"]
	require.NotNil(t, conv)
	require.Len(t, conv.Messages, 5)
	assert.Equal(t, "earlier", conv.Messages[1].Content)
	assert.Equal(t, "Hello", conv.Messages[3].Content)
	assert.Equal(t, "welcome back", conv.Messages[4].Content)

	// The persisted history rode along in the provider call.
	assert.Equal(t, "earlier reply", model.calls[0][2].Content)
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	conv := domain.NewConversation("s1", "u1")
	conv.Append("m1", domain.RoleUser, "Hello")
	conv.Append("m1", domain.RoleAssistant, "Hi!")
	require.NoError(t, cache.SaveConversation(context.Background(), conv))

	model := &fakeModel{}
	w := testWorker(t, pub, cache, &fakeMemory{}, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	// No LLM call, no completion, sentinel only.
	assert.Empty(t, model.calls)
	assert.Empty(t, pub.completions)
	assert.Equal(t, 1, pub.endOfStream)
	assert.Len(t, cache.conversations["s1"].Messages, 2)
}

func TestToolLoop(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	mem := &fakeMemory{searchResp: &memoryclient.SearchResponse{
		Conversations: []domain.SummarySearchResult{{
			ConversationSummary: domain.ConversationSummary{SessionID: "old", Summary: "vacation plans"},
			RelevanceScore:      0.9,
		}},
		TotalFound: 1,
	}}
	args, _ := json.Marshal(map[string]interface{}{"search_query": "vacation", "limit": 3})
	model := &fakeModel{turns: []fakeTurn{
		{toolCall: &openai.ToolCall{
			ID:   "call-1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      SearchToolName,
				Arguments: string(args),
			},
		}},
		{text: "You planned a vacation."},
	}}

	w := testWorker(t, pub, cache, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	require.Len(t, mem.searches, 1)
	assert.Equal(t, "vacation", mem.searches[0].SearchQuery)
	assert.Equal(t, 3, mem.searches[0].Limit)

	// Second call carried the assistant tool-call message plus tool result.
	second := model.calls[1]
	assert.Equal(t, openai.ChatMessageRoleTool, second[len(second)-1].Role)
	assert.Contains(t, second[len(second)-1].Content, "vacation plans")

	conv := cache.conversations["s1"]
	msg, ok := conv.AssistantMessage("m1")
	require.True(t, ok)
	assert.Equal(t, "You planned a vacation.", msg.Content)
}

func TestToolRoundCapForcesTextAnswer(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	mem := &fakeMemory{}
	args, _ := json.Marshal(map[string]interface{}{"search_query": "x"})
	call := &openai.ToolCall{
		ID: "c", Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: SearchToolName, Arguments: string(args)},
	}
	model := &fakeModel{turns: []fakeTurn{
		{toolCall: call}, {toolCall: call}, {toolCall: call}, {text: "final"},
	}}

	w := testWorker(t, pub, cache, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	require.Len(t, model.tools, 4)
	assert.NotEmpty(t, model.tools[0])
	assert.NotEmpty(t, model.tools[2])
	// Fourth round exceeds the cap: tools withheld.
	assert.Empty(t, model.tools[3])
	assert.Len(t, mem.searches, 3)
}

func TestMemoryTimeoutDegradesToBasePrompt(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	mem := &fakeMemory{fetchErr: domain.ErrTimeout}
	model := &fakeModel{turns: []fakeTurn{{text: "ok"}}}

	w := testWorker(t, pub, cache, mem, model)
	require.NoError(t, w.HandleUserMessage(context.Background(), event()))

	// System prompt still present, just not personalized.
	assert.Equal(t, openai.ChatMessageRoleSystem, model.calls[0][0].Role)
	assert.NotContains(t, model.calls[0][0].Content, "What you know about this user")
}

func TestUpstreamFailureAbandonsDelivery(t *testing.T) {
	pub := &fakePublisher{}
	cache := newFakeCache()
	model := &fakeModel{turns: []fakeTurn{{err: domain.ErrUpstream}}}

	w := testWorker(t, pub, cache, &fakeMemory{}, model)
	err := w.HandleUserMessage(context.Background(), event())
	require.Error(t, err)

	// Client got an error event; nothing was finalized.
	require.NotEmpty(t, pub.tokens)
	assert.NotEmpty(t, pub.tokens[len(pub.tokens)-1].Error)
	assert.Empty(t, pub.completions)
	assert.Nil(t, cache.conversations["s1"])
}

func TestCompletionPublishFailureAbandonsDelivery(t *testing.T) {
	pub := &fakePublisher{failPublish: true}
	cache := newFakeCache()
	model := &fakeModel{turns: []fakeTurn{{text: "hi"}}}

	w := testWorker(t, pub, cache, &fakeMemory{}, model)
	err := w.HandleUserMessage(context.Background(), event())
	require.Error(t, err)

	// Cache already finalized: redelivery takes the idempotent path.
	assert.True(t, cache.conversations["s1"].HasAssistantMessage("m1"))
}

func TestMalformedEnvelopeIsDropped(t *testing.T) {
	w := testWorker(t, &fakePublisher{}, newFakeCache(), &fakeMemory{}, &fakeModel{})
	assert.NoError(t, w.HandleUserMessage(context.Background(), []byte("{not json")))
}

func TestParseSearchArgs(t *testing.T) {
	args, err := parseSearchArgs(`{"search_query":"trips","limit":50}`, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, 20, args.Limit)

	args, err = parseSearchArgs(`{"search_query":"trips"}`, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, args.Limit)

	args, err = parseSearchArgs(`{"search_query":"trips","limit":-1}`, 5, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, args.Limit)

	_, err = parseSearchArgs(`{"limit":3}`, 5, 20)
	assert.Error(t, err)

	_, err = parseSearchArgs(`{`, 5, 20)
	assert.Error(t, err)
}
