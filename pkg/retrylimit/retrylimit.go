// Package retrylimit provides adaptive rate limiting and bounded retries for
// outbound API calls.
//
// Example usage:
//
//	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)
//	err := retrylimit.Do(ctx, lim, retrylimit.DefaultConfig(), func() error {
//	    return doSomeWork()
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter manages a rate limit that adjusts automatically based
// on the outcome of requests. It increases on success and decreases on
// errors. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.RWMutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
	now       func() time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
//
// Parameters:
//   - initial: starting requests per second
//   - lo: minimum allowed rate
//   - hi: maximum allowed rate
//   - stepUp: increment on success
//   - stepDown: multiplier applied on failure (e.g., 0.5 to halve)
func NewAdaptiveLimiter(initial, lo, hi rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if initial < 1 {
		initial = 1
	}
	if lo < 1 {
		lo = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, max(1, int(initial))),
		minLimit: lo,
		maxLimit: hi,
		stepUp:   stepUp,
		stepDown: stepDown,
		now:      time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate, unless an error was seen in the last 10 seconds.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.now().Sub(a.lastError) > 10*time.Second {
		a.adjust(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited lowers the rate after a rejected or failed request.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = a.now()
	a.adjust(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) adjust(l rate.Limit) {
	l = min(max(l, a.minLimit), a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(max(1, int(l)))
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer is implemented by errors that say how long to wait.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// FatalError stops retries immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// Fatal marks err as not worth retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Class is how a failed attempt should be treated.
type Class int

const (
	// Retry after the backoff delay.
	Retry Class = iota
	// RateLimit lowers the limiter and retries after the rate-limit delay.
	RateLimit
	// Stop returns the error immediately.
	Stop
)

// Classifier decides how to treat an error. Adapters plug in knowledge of
// their client's error types.
type Classifier func(error) Class

// StatusClassifier treats 429 as rate limiting, 5xx as retryable and any
// other status as final. Errors without a status are retried.
func StatusClassifier(err error) Class {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return Stop
	}
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return Retry
	}
	switch code := sc.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return RateLimit
	case code >= 500 && code < 600:
		return Retry
	default:
		return Stop
	}
}

// Config configures retry behavior.
type Config struct {
	MaxAttempts    int           // Maximum number of attempts, at least 1
	InitialDelay   time.Duration // Delay before the second attempt
	MaxDelay       time.Duration // Cap for exponential backoff
	RateLimitDelay time.Duration // Delay after a rate-limited attempt without Retry-After
	Multiplier     float64       // Backoff multiplier
	Jitter         bool          // Add up to 25% random jitter to backoff delays
	Classify       Classifier    // nil means StatusClassifier
	Log            zerolog.Logger
}

// DefaultConfig suits chat API calls made from event handlers.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RateLimitDelay: time.Second,
		Multiplier:     2.0,
		Jitter:         true,
		Classify:       StatusClassifier,
		Log:            zerolog.Nop(),
	}
}

// Do runs fn until it succeeds, the classifier says stop, ctx is done or
// MaxAttempts is reached. lim may be nil.
func Do(ctx context.Context, lim *AdaptiveLimiter, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Classify == nil {
		cfg.Classify = StatusClassifier
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}

		err = fn()
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				cfg.Log.Debug().Int("attempt", attempt).Msg("request succeeded after retry")
			}
			return nil
		}

		class := cfg.Classify(err)
		if class == Stop {
			var fatal *FatalError
			if errors.As(err, &fatal) {
				return fatal.Err
			}
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		var wait time.Duration
		if class == RateLimit {
			if lim != nil {
				lim.RateLimited()
			}
			wait = cfg.RateLimitDelay
			var ra RetryAfterer
			if errors.As(err, &ra) && ra.RetryAfter() > 0 {
				wait = ra.RetryAfter()
			}
			cfg.Log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("rate limited")
		} else {
			wait = delay
			if cfg.Jitter {
				wait = addJitter(wait)
			}
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
			cfg.Log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("request failed, retrying")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("after %d attempts: %w", cfg.MaxAttempts, err)
}

func addJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	quarter := int64(d / 4)
	if quarter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int64N(quarter))
}
