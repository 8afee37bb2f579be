package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/chatfabric/internal/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(Options{
		Addr:       mr.Addr(),
		SessionTTL: 24 * time.Hour,
		ReplayTTL:  30 * time.Second,
	})
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestConversationRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	conv := domain.NewConversation("s1", "u1")
	conv.Append("m1", domain.RoleUser, "hello")
	conv.Append("m1", domain.RoleAssistant, "hi")

	require.NoError(t, c.SaveConversation(ctx, conv))

	got, err := c.GetConversation(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Len(t, got.Messages, 2)
	assert.True(t, got.HasAssistantMessage("m1"))
}

func TestGetConversationMissing(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.GetConversation(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSaveRefreshesTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	conv := domain.NewConversation("s1", "u1")
	require.NoError(t, c.SaveConversation(ctx, conv))

	mr.FastForward(12 * time.Hour)
	require.NoError(t, c.SaveConversation(ctx, conv))

	assert.Greater(t, mr.TTL("session:s1"), 23*time.Hour)
}

func TestReadRefreshesTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	conv := domain.NewConversation("s1", "u1")
	require.NoError(t, c.SaveConversation(ctx, conv))

	// A read-only path (idempotent redelivery, egress fallback) must slide
	// the TTL just like a write.
	mr.FastForward(12 * time.Hour)
	_, err := c.GetConversation(ctx, "s1")
	require.NoError(t, err)

	assert.Greater(t, mr.TTL("session:s1"), 23*time.Hour)
}

func TestReplayBuffer(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	frags := []domain.TokenFragment{
		{SessionID: "s1", ChatMessageID: "m1", Token: "Hel"},
		{SessionID: "s1", ChatMessageID: "m1", Token: "lo"},
		{SessionID: "s1", ChatMessageID: "m1", EndOfStream: true},
	}
	for _, f := range frags {
		require.NoError(t, c.AppendReplay(ctx, f))
	}

	got, err := c.GetReplay(ctx, "s1", "m1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Token)
	assert.Equal(t, "lo", got[1].Token)
	assert.True(t, got[2].EndOfStream)

	mr.FastForward(time.Minute)
	got, err = c.GetReplay(ctx, "s1", "m1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
