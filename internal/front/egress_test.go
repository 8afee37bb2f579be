package front

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/chatfabric/internal/domain"
	"github.com/chatfabric/chatfabric/internal/logger"
)

type fakeSubscription struct {
	ch chan domain.TokenFragment
}

func (f *fakeSubscription) Tokens() <-chan domain.TokenFragment { return f.ch }
func (f *fakeSubscription) Close()                              {}

type fakeTokenSource struct {
	sub *fakeSubscription
}

func (f *fakeTokenSource) SubscribeTokens(string, int) (TokenSubscription, error) {
	return f.sub, nil
}

type fakeTurnReader struct {
	replays map[string][]domain.TokenFragment
	convs   map[string]*domain.Conversation
}

func (f *fakeTurnReader) GetReplay(_ context.Context, sessionID, chatMessageID string) ([]domain.TokenFragment, error) {
	return f.replays[sessionID+"/"+chatMessageID], nil
}

func (f *fakeTurnReader) GetConversation(_ context.Context, sessionID string) (*domain.Conversation, error) {
	conv, ok := f.convs[sessionID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return conv, nil
}

func egressRouter(source TokenSource, turns TurnReader, opts EgressOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logger.New(logger.Config{Level: slog.LevelError})
	h := NewEgressHandler(source, turns, opts, log)

	r := gin.New()
	r.GET("/stream/:sessionId/:chatMessageId", h.Stream)
	return r
}

func TestStreamLiveTokens(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment, 10)}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", Token: "Hel"}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", Token: "lo"}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", EndOfStream: true}

	r := egressRouter(&fakeTokenSource{sub: sub}, &fakeTurnReader{}, EgressOptions{
		FirstTokenTimeout: time.Second,
		IdleTimeout:       time.Second,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `data: {"token":"Hel"}`)
	assert.Contains(t, body, `data: {"token":"lo"}`)
	assert.Contains(t, body, "data: __END__")
}

func TestStreamFiltersOtherTurns(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment, 10)}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m0", Token: "stale"}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", Token: "fresh"}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", EndOfStream: true}

	r := egressRouter(&fakeTokenSource{sub: sub}, &fakeTurnReader{}, EgressOptions{
		FirstTokenTimeout: time.Second,
		IdleTimeout:       time.Second,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.NotContains(t, body, "stale")
	assert.Contains(t, body, "fresh")
}

func TestStreamReplaysCompletedTurn(t *testing.T) {
	turns := &fakeTurnReader{
		replays: map[string][]domain.TokenFragment{
			"s1/m1": {
				{SessionID: "s1", ChatMessageID: "m1", Token: "replayed"},
				{SessionID: "s1", ChatMessageID: "m1", EndOfStream: true},
			},
		},
	}
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment)}

	r := egressRouter(&fakeTokenSource{sub: sub}, turns, EgressOptions{
		FirstTokenTimeout: time.Second,
		IdleTimeout:       time.Second,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `data: {"token":"replayed"}`)
	assert.Contains(t, body, "data: __END__")
}

func TestStreamFallsBackToStoredTurn(t *testing.T) {
	conv := domain.NewConversation("s1", "u1")
	conv.Append("m1", domain.RoleUser, "hello")
	conv.Append("m1", domain.RoleAssistant, "full answer")

	turns := &fakeTurnReader{convs: map[string]*domain.Conversation{"s1": conv}}
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment)}

	r := egressRouter(&fakeTokenSource{sub: sub}, turns, EgressOptions{
		FirstTokenTimeout: time.Second,
		IdleTimeout:       time.Second,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, `data: {"token":"full answer"}`)
	assert.Contains(t, body, "data: __END__")
}

func TestStreamErrorEvent(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment, 10)}
	sub.ch <- domain.TokenFragment{SessionID: "s1", ChatMessageID: "m1", Error: "generation failed"}

	r := egressRouter(&fakeTokenSource{sub: sub}, &fakeTurnReader{}, EgressOptions{
		FirstTokenTimeout: time.Second,
		IdleTimeout:       time.Second,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "generation failed")
}

func TestStreamFirstTokenTimeout(t *testing.T) {
	sub := &fakeSubscription{ch: make(chan domain.TokenFragment)}

	r := egressRouter(&fakeTokenSource{sub: sub}, &fakeTurnReader{}, EgressOptions{
		FirstTokenTimeout: 30 * time.Millisecond,
		IdleTimeout:       time.Second,
		KeepAliveInterval: 10 * time.Millisecond,
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream/s1/m1", nil)
	r.ServeHTTP(w, req)

	body := w.Body.String()
	assert.Contains(t, body, "event: error")
	assert.Contains(t, body, "stream timed out")
	require.Contains(t, body, ": keepalive")
}
