package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	tok, ok, err := l.Acquire(ctx, "42:a@x.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "42:a@x.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held key refuses a second lease")

	_, ok, _ = l.Acquire(ctx, "42:b@x.com", time.Minute)
	assert.True(t, ok, "other contacts are independent")

	require.NoError(t, l.Release(ctx, "42:a@x.com", tok))
	_, ok, _ = l.Acquire(ctx, "42:a@x.com", time.Minute)
	assert.True(t, ok)
}

func TestMemoryLocker_Expiry(t *testing.T) {
	l := NewMemoryLocker()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	_, ok, _ := l.Acquire(context.Background(), "42", 90*time.Second)
	require.True(t, ok)

	now = now.Add(91 * time.Second)
	_, ok, _ = l.Acquire(context.Background(), "42", 90*time.Second)
	assert.True(t, ok, "expired lease is reclaimed")
}

func TestMemoryLocker_ReleaseWrongToken(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	_, ok, _ := l.Acquire(ctx, "42", time.Minute)
	require.True(t, ok)
	require.NoError(t, l.Release(ctx, "42", "someone-else"))

	_, ok, _ = l.Acquire(ctx, "42", time.Minute)
	assert.False(t, ok)
}

type fakeRedis struct {
	held     map[string]any
	setErr   error
	evalKeys []string
	evalArgs []any
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = value
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.evalKeys = keys
	f.evalArgs = args
	if len(args) == 1 && f.held[keys[0]] == args[0] {
		delete(f.held, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestRedisLocker(t *testing.T) {
	rdb := &fakeRedis{held: map[string]any{}}
	l := NewRedisLocker(rdb, "outreach:gen:")
	ctx := context.Background()

	tok, ok, err := l.Acquire(ctx, "42:a@x.com", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, rdb.held, "outreach:gen:42:a@x.com")

	_, ok, err = l.Acquire(ctx, "42:a@x.com", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Release(ctx, "42:a@x.com", tok))
	assert.Equal(t, []string{"outreach:gen:42:a@x.com"}, rdb.evalKeys)
	assert.Equal(t, []any{tok}, rdb.evalArgs)
	assert.Empty(t, rdb.held)
}

func TestRedisLocker_Error(t *testing.T) {
	l := NewRedisLocker(&fakeRedis{held: map[string]any{}, setErr: errors.New("connection refused")}, "")

	_, ok, err := l.Acquire(context.Background(), "42", time.Minute)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "lock: acquire 42")
}
