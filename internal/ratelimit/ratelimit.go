// Package ratelimit implements a fixed-window per-user hit counter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts hits per user inside a rolling window. A user is limited
// once their hit count within the window reaches the threshold.
//
// Callers that want to notify exactly once should check IsLimited before
// Add: a message that only just tips the counter over is dropped silently,
// a message arriving while already over gets the one-time notice.
type Limiter struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	hits      map[string][]time.Time
	now       func() time.Time
}

// New creates a limiter allowing up to threshold-1 hits per window.
func New(threshold int, window time.Duration) *Limiter {
	return &Limiter{
		threshold: threshold,
		window:    window,
		hits:      make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Add records one hit for the user.
func (l *Limiter) Add(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits[userID] = append(l.prune(userID), l.now())
}

// IsLimited reports whether the user's hit count within the window has
// reached the threshold.
func (l *Limiter) IsLimited(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.prune(userID)
	if len(recent) == 0 {
		delete(l.hits, userID)
		return false
	}
	l.hits[userID] = recent
	return len(recent) >= l.threshold
}

// Reset forgets all hits for the user.
func (l *Limiter) Reset(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, userID)
}

func (l *Limiter) prune(userID string) []time.Time {
	cut := l.now().Add(-l.window)
	var recent []time.Time
	for _, t := range l.hits[userID] {
		if t.After(cut) {
			recent = append(recent, t)
		}
	}
	return recent
}
