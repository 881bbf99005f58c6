package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCallerLimiter_perIPBuckets(t *testing.T) {
	l := newCallerLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, _ := l.allow("10.0.0.1")
		assert.True(t, ok)
	}
	ok, retry := l.allow("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	ok, _ = l.allow("10.0.0.2")
	assert.True(t, ok, "other callers have their own bucket")

	now = now.Add(time.Second)
	ok, _ = l.allow("10.0.0.1")
	assert.True(t, ok, "token refilled after one second")
}

func TestCallerLimiter_sweepDropsIdleBuckets(t *testing.T) {
	l := newCallerLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	l.allow("10.0.0.1")
	now = now.Add(limiterIdleTTL / 2)
	l.allow("10.0.0.2")

	now = now.Add(limiterIdleTTL/2 + time.Second)
	l.sweep()
	assert.Equal(t, 1, l.size())
}
