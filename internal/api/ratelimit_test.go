package api

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Construction(t *testing.T) {
	t.Run("keeps explicit burst", func(t *testing.T) {
		rl := NewRateLimiter(100, 200)

		assert.NotNil(t, rl, "should not be nil")
		assert.Equal(t, 100.0, rl.requestsPerSecond)
		assert.Equal(t, 200, rl.burstSize)
	})

	t.Run("derives burst from rate", func(t *testing.T) {
		assert.Equal(t, 10, NewRateLimiter(10, 0).burstSize)
		assert.Equal(t, 1, NewRateLimiter(0.5, 0).burstSize)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows within limit", func(t *testing.T) {
		rl := NewRateLimiter(10, 10)
		for i := 0; i < 10; i++ {
			assert.True(t, rl.Allow("test"))
		}
	})

	t.Run("blocks over limit", func(t *testing.T) {
		rl := NewRateLimiter(1, 2)

		assert.True(t, rl.Allow("test"))
		assert.True(t, rl.Allow("test"))
		assert.False(t, rl.Allow("test"))
	})

	t.Run("clients are independent", func(t *testing.T) {
		rl := NewRateLimiter(1, 1)

		assert.True(t, rl.Allow("a"))
		assert.False(t, rl.Allow("a"))
		assert.True(t, rl.Allow("b"))
	})
}

func TestRateLimiter_MemoryBounds(t *testing.T) {
	rl := NewRateLimiter(100, 200)

	for i := 0; i < maxLimiters+1; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	rl.mu.RLock()
	count := len(rl.limiters)
	rl.mu.RUnlock()

	assert.LessOrEqual(t, count, maxLimiters)
}
