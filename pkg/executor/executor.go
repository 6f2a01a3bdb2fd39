package executor

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SwapExecutor performs the trade on the chosen venue and returns an
// opaque settlement reference, unique per invocation. Retrying is the
// state machine's responsibility; implementations never retry.
type SwapExecutor interface {
	Execute(ctx context.Context, venue string) (string, error)
}

// SimulatedExecutor settles trades against a simulated network: it
// waits the configured confirmation delay and mints a settlement
// reference. It stands in for real transaction submission.
type SimulatedExecutor struct {
	confirmDelay time.Duration
	logger       zerolog.Logger
}

// NewSimulatedExecutor creates an executor with the given confirmation delay
func NewSimulatedExecutor(confirmDelay time.Duration, logger zerolog.Logger) *SimulatedExecutor {
	return &SimulatedExecutor{
		confirmDelay: confirmDelay,
		logger:       logger.With().Str("component", "executor").Logger(),
	}
}

// Execute implements SwapExecutor. The reference is uuid-backed, so
// collisions across concurrent and sequential settlements are
// negligible.
func (e *SimulatedExecutor) Execute(ctx context.Context, venue string) (string, error) {
	if e.confirmDelay > 0 {
		timer := time.NewTimer(e.confirmDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ref := "5Kj" + strings.ReplaceAll(uuid.NewString(), "-", "")
	e.logger.Debug().Str("venue", venue).Str("settlement_ref", ref).Msg("Swap settled")
	return ref, nil
}
