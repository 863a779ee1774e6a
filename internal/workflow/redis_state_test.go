package workflow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedisState(t *testing.T, prefix string) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewRedisStateStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), prefix)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStateMissingKeyIsEmpty(t *testing.T) {
	store, _ := newMiniRedisState(t, "")

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRedisStateRoundTripAndOverwrite(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniRedisState(t, "")

	require.NoError(t, store.Set(ctx, "onboarding", map[string]any{"step": "welcome", "count": 1}))
	require.NoError(t, store.Set(ctx, "onboarding", map[string]any{"step": "done"}))

	got, err := store.Get(ctx, "onboarding")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": "done"}, got)
	assert.True(t, mr.Exists("agent:workflow_state:onboarding"))
}

func TestRedisStateNilValueStoredAsEmptyObject(t *testing.T) {
	ctx := context.Background()
	store, mr := newMiniRedisState(t, "wf:")

	require.NoError(t, store.Set(ctx, "k", nil))
	raw, err := mr.Get("wf:k")
	require.NoError(t, err)
	assert.Equal(t, "{}", raw)
}

func TestRedisStateCorruptValue(t *testing.T) {
	store, mr := newMiniRedisState(t, "wf:")
	require.NoError(t, mr.Set("wf:k", "not json"))

	_, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisStateUnavailable(t *testing.T) {
	store, mr := newMiniRedisState(t, "")
	mr.Close()

	_, err := store.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), "k", map[string]any{"a": 1}))
}
