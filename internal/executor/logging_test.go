package executor

import (
	"testing"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingExecutorReportsSuccessWithoutBroadcasting(t *testing.T) {
	e := NewLoggingExecutor(discardLogger())

	opp := domain.Opportunity{ID: "opp-1", Type: domain.OpportunityPriceArbitrage, Symbol: "ETH/USDC"}
	result, err := e.Execute(t.Context(), opp)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "dry-run:opp-1", result.TxRef)
	assert.Zero(t, result.GasUsed)
}
