package services

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // Reduce noise in tests
	}))
}

func newTestRedis(t *testing.T) (*RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc := NewRedisService(mr.Addr(), testLogger())
	t.Cleanup(func() { _ = svc.Close() })
	return svc, mr
}

func TestRedisService_SetGetDel(t *testing.T) {
	svc, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.Ping(ctx))
	require.NoError(t, svc.Set(ctx, "test:key:123", "test value", time.Minute))

	got, err := svc.Get(ctx, "test:key:123")
	require.NoError(t, err)
	assert.Equal(t, "test value", got)

	exists, err := svc.Exists(ctx, "test:key:123")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, svc.Del(ctx, "test:key:123"))
	got, err = svc.Get(ctx, "test:key:123")
	require.NoError(t, err)
	assert.Empty(t, got, "missing key reads as empty, not an error")
}

func TestRedisService_Expiration(t *testing.T) {
	svc, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.Set(ctx, "short", "v", time.Second))
	mr.FastForward(2 * time.Second)

	exists, err := svc.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJSONHelpers(t *testing.T) {
	svc, _ := newTestRedis(t)
	ctx := context.Background()

	type snapshot struct {
		Turn  int    `json:"turn"`
		Phase string `json:"phase"`
	}
	require.NoError(t, SetJSON(ctx, svc, "snap", snapshot{Turn: 4, Phase: "playing"}, 0))

	var got snapshot
	found, err := GetJSON(ctx, svc, "snap", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snapshot{Turn: 4, Phase: "playing"}, got)

	found, err = GetJSON(ctx, svc, "nothing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisOptions(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisOptions("localhost:6379").Addr)

	opts := RedisOptions("redis://:secret@cache:6380/2")
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
}

func TestWaitForRedis(t *testing.T) {
	attempts := 0
	ping := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}
	require.NoError(t, WaitForRedis(context.Background(), ping, testLogger(), 5, time.Millisecond))
	assert.Equal(t, 3, attempts)

	always := func(ctx context.Context) error { return errors.New("down") }
	assert.Error(t, WaitForRedis(context.Background(), always, testLogger(), 2, time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WaitForRedis(ctx, always, testLogger(), 5, time.Second), context.Canceled)
}

func TestMockCache(t *testing.T) {
	c := NewMockCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
	assert.Equal(t, 1, c.SetCount("k"))

	require.NoError(t, c.Del(ctx, "k"))
	exists, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, exists)
}
