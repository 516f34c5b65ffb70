package resilience

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	got, err := DoVal(context.Background(), fastRetry(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errBoom, http.StatusServiceUnavailable)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoVal_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(), func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(), func(context.Context) error {
		calls++
		return NewTransientError(errBoom, http.StatusTooManyRequests)
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
	err := Do(ctx, cfg, func(context.Context) error {
		calls++
		cancel()
		return NewTransientError(errBoom, 500)
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_Capped(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: time.Second, MaxBackoff: 3 * time.Second}.withDefaults()
	cfg.Jitter = 0
	assert.Equal(t, time.Second, backoff(0, cfg))
	assert.Equal(t, 2*time.Second, backoff(1, cfg))
	assert.Equal(t, 3*time.Second, backoff(5, cfg))
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []string
	b := NewBreaker("apollo", BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		OnStateChange: func(_ string, from, to BreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, NewTransientError(errBoom, 502) }
	for i := 0; i < 2; i++ {
		_, _ = Call(context.Background(), b, fail)
	}
	assert.Equal(t, StateOpen, b.State())

	called := false
	_, err := Call(context.Background(), b, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, b.State())

	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("lusha", BreakerConfig{FailureThreshold: 1, Cooldown: time.Second})
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, NewTransientError(errBoom, 500) }
	_, _ = Call(context.Background(), b, fail)
	now = now.Add(2 * time.Second)
	_, _ = Call(context.Background(), b, fail)

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("apollo", BreakerConfig{FailureThreshold: 1})
	_, err := Call(context.Background(), b, func(context.Context) (int, error) { return 0, errBoom })
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateClosed, b.State())
	assert.Zero(t, b.Failures())
}

func TestBreakers_GetIsStable(t *testing.T) {
	bs := NewBreakers(DefaultBreakerConfig())
	assert.Same(t, bs.Get("apollo"), bs.Get("apollo"))
	assert.NotSame(t, bs.Get("apollo"), bs.Get("lusha"))
	assert.Equal(t, map[string]BreakerState{"apollo": StateClosed, "lusha": StateClosed}, bs.States())
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errBoom))
	assert.True(t, IsTransient(NewTransientError(errBoom, 503)))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	assert.True(t, IsTransient(errors.Join(errBoom, NewTransientError(errBoom, 0))))
}

func TestTransientStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, TransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 402, 404, 409} {
		assert.False(t, TransientStatus(code), code)
	}
}

func TestFromSettings(t *testing.T) {
	rc, bc := FromSettings(5, 100, 3, 10)
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, 3, bc.FailureThreshold)
	assert.Equal(t, 10*time.Second, bc.Cooldown)

	rc, bc = FromSettings(0, 0, 0, 0)
	assert.Equal(t, DefaultRetryConfig().MaxAttempts, rc.MaxAttempts)
	assert.Equal(t, DefaultBreakerConfig().Cooldown, bc.Cooldown)
}
