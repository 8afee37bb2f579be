package historyapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
	"github.com/chatfabric/chatfabric/internal/storage/pg"
)

type fakeStore struct {
	metas map[string][]pg.ConversationMeta
	convs map[string]*domain.Conversation
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		metas: map[string][]pg.ConversationMeta{},
		convs: map[string]*domain.Conversation{},
	}
}

func (f *fakeStore) ListByUser(_ context.Context, userID string) ([]pg.ConversationMeta, error) {
	metas := f.metas[userID]
	if metas == nil {
		metas = []pg.ConversationMeta{}
	}
	return metas, nil
}

func (f *fakeStore) Get(_ context.Context, userID, sessionID string) (*domain.Conversation, error) {
	conv, ok := f.convs[sessionID]
	if !ok || conv.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

func (f *fakeStore) UpdateTitle(_ context.Context, userID, sessionID, title string) error {
	conv, ok := f.convs[sessionID]
	if !ok || conv.UserID != userID {
		return domain.ErrNotFound
	}
	conv.Title = title
	return nil
}

func testRouter(store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: slog.LevelError})
	return NewRouter(NewHandler(store, log), "*")
}

func seedConversation(store *fakeStore) {
	conv := domain.NewConversation("s1", "u1")
	conv.Title = "Bread Talk"
	conv.Append("m1", domain.RoleUser, "How do I make sourdough?")
	conv.Append("m1", domain.RoleAssistant, "Start with a starter...")
	store.convs["s1"] = conv
	store.metas["u1"] = []pg.ConversationMeta{
		{SessionID: "s1", Title: "Bread Talk", LastActivity: time.Now().UTC(), MessageCount: 2},
	}
}

func TestListConversations(t *testing.T) {
	store := newFakeStore()
	seedConversation(store)
	r := testRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u1/conversations", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Conversations []pg.ConversationMeta `json:"conversations"`
		Total         int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	assert.Equal(t, "Bread Talk", resp.Conversations[0].Title)
}

func TestListConversationsUnknownUserIsEmpty(t *testing.T) {
	r := testRouter(newFakeStore())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/nobody/conversations", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversations":[]`)
}

func TestGetMessages(t *testing.T) {
	store := newFakeStore()
	seedConversation(store)
	r := testRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u1/conversations/s1/messages", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp conversationDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "Bread Talk", resp.Title)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "m1_user", resp.Messages[0].ID)
}

func TestGetMessagesCrossPartitionIsNotFound(t *testing.T) {
	store := newFakeStore()
	seedConversation(store)
	r := testRouter(store)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/users/u2/conversations/s1/messages", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateTitle(t *testing.T) {
	store := newFakeStore()
	seedConversation(store)
	r := testRouter(store)

	body := strings.NewReader(`{"title":"  Sourdough Notes  "}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/users/u1/conversations/s1/title", body))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Sourdough Notes", store.convs["s1"].Title)
}

func TestUpdateTitleValidation(t *testing.T) {
	store := newFakeStore()
	seedConversation(store)
	r := testRouter(store)

	for _, body := range []string{`{}`, `{"title":"   "}`} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/users/u1/conversations/s1/title", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestUpdateTitleMissingSession(t *testing.T) {
	r := testRouter(newFakeStore())

	body := strings.NewReader(`{"title":"New"}`)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/users/u1/conversations/nope/title", body))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
