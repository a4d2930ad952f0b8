package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpportunityAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	o := Opportunity{DetectedAt: now.Add(-3 * time.Second)}

	assert.Equal(t, 3*time.Second, o.Age(now))
}

func TestOpportunityNetProfitPercentage(t *testing.T) {
	withArb := Opportunity{Arbitrage: &ArbitragePayload{NetProfitPercentage: 0.012}}
	pct, ok := withArb.NetProfitPercentage()
	assert.True(t, ok)
	assert.Equal(t, 0.012, pct)

	withoutArb := Opportunity{Type: OpportunityMempool, Mempool: &MempoolPayload{}}
	pct, ok = withoutArb.NetProfitPercentage()
	assert.False(t, ok)
	assert.Zero(t, pct)
}
