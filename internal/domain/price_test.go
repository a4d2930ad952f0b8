package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPricePointAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)
	p := PricePoint{ObservedAt: now.Add(-4 * time.Second)}
	assert.Equal(t, 4*time.Second, p.Age(now))
}

func TestPricePointValid(t *testing.T) {
	assert.True(t, PricePoint{Price: 1.5}.Valid())
	assert.False(t, PricePoint{Price: 0}.Valid())
	assert.False(t, PricePoint{Price: -1}.Valid())
}
