package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T, key string) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	b := newRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}), key)
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestRedisBackend_LoadMissingKeyIsEmpty(t *testing.T) {
	_, b := newTestRedis(t, "")

	st, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestRedisBackend_DefaultKey(t *testing.T) {
	mr, b := newTestRedis(t, "")
	assert.Equal(t, "picorelay:state", b.key)

	require.NoError(t, b.Save(context.Background(), newState(time.Now())))
	assert.True(t, mr.Exists("picorelay:state"))
}

func TestRedisBackend_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, b := newTestRedis(t, "relay:test")

	s := newLoaded(t, b, WithBootstrap(owner, []int64{admin}))
	_, err := s.UpsertRule(ctx, "-1001", []string{"-2002", "@news_channel"}, true, owner)
	require.NoError(t, err)
	require.NoError(t, s.SetEnabled(ctx, false))

	raw, err := mr.Get("relay:test")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	assert.Contains(t, doc, "rules")

	reloaded := newLoaded(t, b)
	assert.False(t, reloaded.Enabled())
	assert.Equal(t, owner, reloaded.Actors().Owner)
	rule, ok := reloaded.GetRule("-1001")
	require.True(t, ok)
	assert.Equal(t, []string{"-2002", "@news_channel"}, rule.DestinationIDs)
}

func TestRedisBackend_LoadRejectsInvalidDocument(t *testing.T) {
	mr, b := newTestRedis(t, "")
	require.NoError(t, mr.Set("picorelay:state", `{"rules": {}}`))

	_, err := b.Load(context.Background())
	assert.Error(t, err)
}

func TestRedisBackend_PingAndUnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBackend(RedisOptions{Addr: mr.Addr(), Key: "relay:ping"})
	defer b.Close()
	require.NoError(t, b.Ping(context.Background()))

	mr.Close()
	assert.Error(t, b.Ping(context.Background()))
	_, err := b.Load(context.Background())
	assert.Error(t, err)
}
