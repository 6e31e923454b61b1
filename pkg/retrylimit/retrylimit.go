// Package retrylimit wraps outbound HTTP collaborators in an adaptive
// rate limit with bounded retry. The limit climbs while requests succeed
// and is cut when the upstream pushes back.
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdaptiveLimiter adjusts its request rate from request outcomes.
type AdaptiveLimiter struct {
	mu       sync.Mutex
	limiter  *rate.Limiter
	min, max rate.Limit
	stepUp   rate.Limit
	stepDown float64
	lastFail time.Time
}

// NewAdaptiveLimiter creates a limiter starting at initial requests per
// second, raised by stepUp on success and multiplied by stepDown on
// failure, clamped to [min, max].
func NewAdaptiveLimiter(initial, min, max rate.Limit, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	if initial < min {
		initial = min
	}
	burst := int(initial)
	if burst < 1 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burst),
		min:      min,
		max:      max,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a request slot is available or ctx ends.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success nudges the rate up, unless a failure happened very recently.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastFail) > 10*time.Second {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

// Backoff cuts the rate after upstream pushback.
func (a *AdaptiveLimiter) Backoff() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastFail = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// Rate returns the current requests per second.
func (a *AdaptiveLimiter) Rate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(l rate.Limit) {
	if l > a.max {
		l = a.max
	}
	if l < a.min {
		l = a.min
	}
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		b := int(l)
		if b < 1 {
			b = 1
		}
		a.limiter.SetBurst(b)
	}
}

// StatusError carries an HTTP status for retry classification.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true // network-level failures are worth a retry
}

// Do runs fn up to attempts times behind the limiter, backing off
// exponentially from initialDelay between failures. Non-retryable HTTP
// errors (4xx other than 429) stop immediately.
func Do(ctx context.Context, lim *AdaptiveLimiter, attempts int, initialDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	delay := initialDelay

	var err error
	for i := 0; i < attempts; i++ {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		}

		if err = fn(); err == nil {
			if lim != nil {
				lim.Success()
			}
			return nil
		}
		if !retryable(err) {
			return err
		}
		if lim != nil {
			lim.Backoff()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
