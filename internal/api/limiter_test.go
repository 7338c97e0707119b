package api

import (
	"testing"
	"time"

	"github.com/axelbriones/woocommerce-zoho-integration-sub001/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(config.APIRateLimitConfig{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	t.Run("BurstThenWait", func(t *testing.T) {
		ok, _ := l.allow("a")
		assert.True(t, ok)
		ok, _ = l.allow("a")
		assert.True(t, ok)

		ok, wait := l.allow("a")
		assert.False(t, ok)
		assert.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)
		assert.Equal(t, "1", retryAfterSeconds(wait))

		now = now.Add(time.Second)
		ok, _ = l.allow("a")
		assert.True(t, ok, "a denied request does not consume a token")
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		ok, _ := l.allow("b")
		assert.True(t, ok)
	})

	t.Run("IdleKeysAreForgotten", func(t *testing.T) {
		assert.Equal(t, 2, l.size())
		now = now.Add(2 * limiterIdleTTL)
		ok, _ := l.allow("c")
		assert.True(t, ok)
		assert.Equal(t, 1, l.size())
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(0))
	assert.Equal(t, "3", retryAfterSeconds(2100*time.Millisecond))
}
