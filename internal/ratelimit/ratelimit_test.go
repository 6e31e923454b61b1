package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(threshold int, window time.Duration) (*Limiter, *time.Time) {
	l := New(threshold, window)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllowsUpToThreshold(t *testing.T) {
	l, _ := newTestLimiter(4, 6*time.Second)

	for i := 0; i < 3; i++ {
		l.Add("u1")
		require.False(t, l.IsLimited("u1"), "hit %d should not limit", i+1)
	}

	l.Add("u1")
	assert.True(t, l.IsLimited("u1"), "4th hit within the window must limit")
}

func TestLimiterWindowExpiry(t *testing.T) {
	l, now := newTestLimiter(4, 6*time.Second)

	for i := 0; i < 4; i++ {
		l.Add("u1")
	}
	require.True(t, l.IsLimited("u1"))

	*now = now.Add(6*time.Second + time.Millisecond)
	assert.False(t, l.IsLimited("u1"), "hits outside the window must not count")

	l.Add("u1")
	assert.False(t, l.IsLimited("u1"))
}

func TestLimiterSlidingWindowExactCount(t *testing.T) {
	l, now := newTestLimiter(3, 10*time.Second)

	l.Add("u1")
	*now = now.Add(4 * time.Second)
	l.Add("u1")
	require.False(t, l.IsLimited("u1"))

	*now = now.Add(4 * time.Second)
	l.Add("u1")
	require.True(t, l.IsLimited("u1"), "3 hits inside any 10s window must limit")

	// First hit falls out of the window, count drops back to 2.
	*now = now.Add(3 * time.Second)
	assert.False(t, l.IsLimited("u1"))
}

func TestLimiterUsersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Add("u1")
	l.Add("u1")
	require.True(t, l.IsLimited("u1"))
	assert.False(t, l.IsLimited("u2"))
}

func TestLimiterReset(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	l.Add("u1")
	l.Add("u1")
	require.True(t, l.IsLimited("u1"))

	l.Reset("u1")
	assert.False(t, l.IsLimited("u1"))
}
