package executor

import (
	"context"
	"log/slog"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// LoggingExecutor is the default domain.Executor wired into the engine: it
// records what would have been executed without signing or broadcasting a
// transaction, which is out of scope for this engine. A host that adds real
// execution supplies its own domain.Executor in place of this one.
type LoggingExecutor struct {
	log *slog.Logger
}

// NewLoggingExecutor creates a LoggingExecutor.
func NewLoggingExecutor(log *slog.Logger) *LoggingExecutor {
	return &LoggingExecutor{log: log.With(slog.String("component", "logging_executor"))}
}

// Execute logs the opportunity that reached execution and reports success
// without touching a wallet, RPC endpoint, or mempool.
func (e *LoggingExecutor) Execute(ctx context.Context, opp domain.Opportunity) (domain.ExecutionResult, error) {
	e.log.InfoContext(ctx, "dry-run execution",
		slog.String("opportunity_id", opp.ID),
		slog.String("type", string(opp.Type)),
		slog.String("symbol", opp.Symbol),
	)
	return domain.ExecutionResult{Success: true, TxRef: "dry-run:" + opp.ID}, nil
}

var _ domain.Executor = (*LoggingExecutor)(nil)
