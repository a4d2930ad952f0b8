package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockKeyPrefixesKey(t *testing.T) {
	assert.Equal(t, "lock:breaker:highGasPrice", lockKey("breaker:highGasPrice"))
}

func TestRateLimitKeyPrefixesKey(t *testing.T) {
	assert.Equal(t, "ratelimit:api:203.0.113.5", rateLimitKey("api:203.0.113.5"))
}

func TestHasPatternDetectsGlobWildcards(t *testing.T) {
	assert.True(t, hasPattern("ch:book:*"))
	assert.True(t, hasPattern("ch:book:?"))
	assert.True(t, hasPattern("ch:[ab]"))
	assert.False(t, hasPattern("ch:opportunity"))
}
