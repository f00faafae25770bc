package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	s := &Session{ID: "s1", Token: "tok", Email: "a@b.com", ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, st.Save(ctx, s))
	got, err := st.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", got.Email)

	got.Email = "changed"
	again, _ := st.Get(ctx, "tok")
	assert.Equal(t, "a@b.com", again.Email, "stored copy is not aliased")

	require.NoError(t, st.Delete(ctx, "tok"))
	_, err = st.Get(ctx, "tok")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if os.Getenv("INTEGRATION_TESTS") != "1" || addr == "" {
		t.Skip("set INTEGRATION_TESTS=1 and REDIS_ADDRESS to run")
	}
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(ctx).Err())

	st := NewRedisStore(rdb)
	s := &Session{ID: "s1", Token: "redis-test-token", Email: "a@b.com", Mode: ModeOffline, ExpiresAt: time.Now().Add(time.Minute)}
	require.NoError(t, st.Save(ctx, s))
	defer st.Delete(ctx, s.Token)

	ttl, err := rdb.TTL(ctx, "Token:redis-test-token").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	got, err := st.Get(ctx, s.Token)
	require.NoError(t, err)
	assert.Equal(t, ModeOffline, got.Mode)

	require.NoError(t, st.Delete(ctx, s.Token))
	_, err = st.Get(ctx, s.Token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	expired := &Session{Token: "gone", ExpiresAt: time.Now().Add(-time.Second)}
	assert.Error(t, st.Save(ctx, expired))
}
