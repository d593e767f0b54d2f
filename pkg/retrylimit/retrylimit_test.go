package retrylimit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusErr struct {
	code  int
	after time.Duration
}

func (e statusErr) Error() string { return http.StatusText(e.code) }
func (e statusErr) StatusCode() int { return e.code }
func (e statusErr) RetryAfter() time.Duration { return e.after }

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	cfg.RateLimitDelay = time.Millisecond
	cfg.Jitter = false
	return cfg
}

func TestStatusClassifier(t *testing.T) {
	assert.Equal(t, RateLimit, StatusClassifier(statusErr{code: 429}))
	assert.Equal(t, Retry, StatusClassifier(statusErr{code: 502}))
	assert.Equal(t, Stop, StatusClassifier(statusErr{code: 403}))
	assert.Equal(t, Retry, StatusClassifier(errors.New("conn reset")))
	assert.Equal(t, Stop, StatusClassifier(Fatal(errors.New("bad"))))
	assert.Equal(t, RateLimit, StatusClassifier(errors.Join(errors.New("wrapped"), statusErr{code: 429})))
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fastConfig(), func() error {
		calls++
		if calls < 3 {
			return statusErr{code: 500}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnFinalStatus(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, fastConfig(), func() error {
		calls++
		return statusErr{code: 404}
	})
	assert.Equal(t, 1, calls)
	var se statusErr
	assert.True(t, errors.As(err, &se))
}

func TestDo_FatalUnwrapped(t *testing.T) {
	boom := errors.New("boom")
	err := Do(context.Background(), nil, fastConfig(), func() error { return Fatal(boom) })
	assert.Equal(t, boom, err)
}

func TestDo_GivesUp(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxAttempts = 2
	calls := 0
	err := Do(context.Background(), nil, cfg, func() error {
		calls++
		return statusErr{code: 429}
	})
	assert.Equal(t, 2, calls)
	assert.ErrorContains(t, err, "after 2 attempts")
}

func TestDo_RateLimitLowersLimiter(t *testing.T) {
	lim := NewAdaptiveLimiter(8, 1, 10, 1, 0.5)
	calls := 0
	err := Do(context.Background(), lim, fastConfig(), func() error {
		calls++
		if calls == 1 {
			return statusErr{code: 429, after: time.Millisecond}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4.0, lim.CurrentLimit())
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig()
	cfg.InitialDelay = time.Hour
	err := Do(ctx, nil, cfg, func() error {
		cancel()
		return statusErr{code: 503}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	lim := NewAdaptiveLimiter(2, 1, 3, 1, 0.1)
	now := time.Now()
	lim.now = func() time.Time { return now }

	lim.RateLimited()
	assert.Equal(t, 1.0, lim.CurrentLimit())

	lim.Success()
	assert.Equal(t, 1.0, lim.CurrentLimit(), "no increase right after an error")

	now = now.Add(time.Minute)
	lim.Success()
	lim.Success()
	lim.Success()
	assert.Equal(t, 3.0, lim.CurrentLimit())
}
