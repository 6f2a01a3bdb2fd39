package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/nikolaydubina/fpdecimal"
	"github.com/rs/zerolog"

	"github.com/eterna-labs/swapflow/pkg/broadcast"
	"github.com/eterna-labs/swapflow/pkg/core"
	"github.com/eterna-labs/swapflow/pkg/executor"
	"github.com/eterna-labs/swapflow/pkg/messaging"
	"github.com/eterna-labs/swapflow/pkg/queue"
	"github.com/eterna-labs/swapflow/pkg/store"
	"github.com/eterna-labs/swapflow/pkg/venue"
)

// Stage descriptions published alongside status transitions
const (
	stageRouting   = "Fetching quotes from Raydium & Meteora..."
	stageSubmitted = "Submitting transaction..."
	stageCompleted = "Swap executed successfully"
)

// Metrics receives pipeline-level counters; a nil-safe no-op is used
// when observability is not wired.
type Metrics interface {
	OrderStarted(ctx context.Context)
	OrderCompleted(ctx context.Context, elapsed time.Duration)
	OrderRetried(ctx context.Context)
	OrderFailed(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) OrderStarted(context.Context)                  {}
func (noopMetrics) OrderCompleted(context.Context, time.Duration) {}
func (noopMetrics) OrderRetried(context.Context)                  {}
func (noopMetrics) OrderFailed(context.Context)                   {}

// Config tunes the state machine
type Config struct {
	// ApplyFeeToOutput deducts the venue fee from the destination
	// amount. Off by default: the quoted price is treated as net.
	ApplyFeeToOutput bool
}

// StateMachine drives one order through its lifecycle:
// pending → routing → building → submitted → completed, with failed
// reachable from any non-terminal state. Each Process call handles one
// delivery attempt and reports an explicit Outcome; it never retries
// internally.
type StateMachine struct {
	cfg         Config
	router      *venue.Router
	executor    executor.SwapExecutor
	store       store.OrderStore
	broadcaster *broadcast.Broadcaster
	sender      messaging.SettlementSender
	metrics     Metrics
	logger      zerolog.Logger
}

// NewStateMachine wires the pipeline components together. sender and
// metrics may be nil.
func NewStateMachine(cfg Config, router *venue.Router, exec executor.SwapExecutor, orderStore store.OrderStore, broadcaster *broadcast.Broadcaster, sender messaging.SettlementSender, metrics Metrics, logger zerolog.Logger) *StateMachine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &StateMachine{
		cfg:         cfg,
		router:      router,
		executor:    exec,
		store:       orderStore,
		broadcaster: broadcaster,
		sender:      sender,
		metrics:     metrics,
		logger:      logger.With().Str("component", "state_machine").Logger(),
	}
}

// Process runs one attempt for the job. The returned Outcome tells the
// worker what to do with the job; Process itself only emits events and
// persists state.
func (m *StateMachine) Process(ctx context.Context, job *queue.Job) Outcome {
	started := time.Now()
	log := m.logger.With().
		Str("order_id", job.Payload.OrderID).
		Int("attempt", job.Attempt).
		Logger()

	amountIn, err := fpdecimal.FromString(job.Payload.AmountIn)
	if err != nil {
		return Fatal(fmt.Errorf("unparseable amount %q: %w", job.Payload.AmountIn, err))
	}

	order := core.NewOrder(job.Payload.OrderID, job.Payload.TokenIn, job.Payload.TokenOut, amountIn)
	if err := order.Validate(); err != nil {
		return Fatal(fmt.Errorf("invalid order: %w", err))
	}

	m.metrics.OrderStarted(ctx)

	// routing
	if out := m.advance(ctx, order, core.StatusRouting, stageRouting); out != nil {
		return m.softFail(ctx, job, *out)
	}
	m.broadcaster.Publish(core.NewStageEvent(order.OrderID, core.StatusRouting, stageRouting))

	route, err := m.router.Route(ctx, order.TokenIn, order.AmountIn)
	if err != nil {
		return m.softFail(ctx, job, Retry(err))
	}

	// building
	best := route.Best
	amountOut := order.AmountIn.Mul(best.Price)
	if m.cfg.ApplyFeeToOutput {
		amountOut = amountOut.Mul(fpdecimal.FromFloat(1 - best.FeeRate))
	}
	buildingStage := fmt.Sprintf("Building transaction via %s...", best.Venue)

	order.Price = best.Price
	order.AmountOut = amountOut
	order.Venue = best.Venue
	if out := m.advance(ctx, order, core.StatusBuilding, buildingStage); out != nil {
		return m.softFail(ctx, job, *out)
	}
	m.broadcaster.Publish(core.NewBuildingEvent(order.OrderID, buildingStage, route))

	// submitted
	if out := m.advance(ctx, order, core.StatusSubmitted, stageSubmitted); out != nil {
		return m.softFail(ctx, job, *out)
	}
	m.broadcaster.Publish(core.NewStageEvent(order.OrderID, core.StatusSubmitted, stageSubmitted))

	ref, err := m.executor.Execute(ctx, best.Venue)
	if err != nil {
		return m.softFail(ctx, job, Retry(fmt.Errorf("execution on %s failed: %w", best.Venue, err)))
	}

	// completed
	order.SettlementRef = ref
	if out := m.advance(ctx, order, core.StatusCompleted, stageCompleted); out != nil {
		return m.softFail(ctx, job, *out)
	}
	m.broadcaster.Publish(core.NewCompletedEvent(order.OrderID, stageCompleted, ref, best.Venue, best.Price, amountOut, best.FeeRate))
	m.publishSettlement(ctx, order)

	m.metrics.OrderCompleted(ctx, time.Since(started))
	log.Info().
		Str("venue", best.Venue).
		Str("price", best.Price.String()).
		Str("amount_out", amountOut.String()).
		Str("settlement_ref", ref).
		Dur("elapsed", time.Since(started)).
		Msg("Order completed")
	return Succeeded()
}

// advance moves the order to the next status and persists it. A store
// write failure is retryable; a lifecycle violation is fatal.
func (m *StateMachine) advance(ctx context.Context, order *core.Order, next core.Status, stage string) *Outcome {
	if !order.Status.CanTransition(next) {
		out := Fatal(fmt.Errorf("illegal transition %s -> %s for order %s", order.Status, next, order.OrderID))
		return &out
	}
	order.Status = next
	order.Stage = stage
	order.UpdatedAt = time.Now().UTC()
	if err := m.store.Upsert(ctx, order); err != nil {
		out := Retry(fmt.Errorf("persisting %s state: %w", next, err))
		return &out
	}
	return nil
}

// softFail emits the per-attempt failure event and passes the outcome
// through. Every failing attempt gets its own event; the distinct
// final event comes from the dead-letter handler.
func (m *StateMachine) softFail(ctx context.Context, job *queue.Job, out Outcome) Outcome {
	if out.Kind == OutcomeRetry {
		m.metrics.OrderRetried(ctx)
		m.broadcaster.Publish(core.NewFailedEvent(job.Payload.OrderID, out.Err.Error(), job.Attempt, false))
		m.logger.Warn().
			Str("order_id", job.Payload.OrderID).
			Int("attempt", job.Attempt).
			Err(out.Err).
			Msg("Attempt failed")
	}
	return out
}

// publishSettlement ships the terminal record downstream. Settlement
// transport failures are logged, never surfaced: the order itself has
// already settled.
func (m *StateMachine) publishSettlement(ctx context.Context, order *core.Order) {
	if m.sender == nil {
		return
	}
	if err := m.sender.SendSettlement(ctx, messaging.FromOrder(order)); err != nil {
		m.logger.Error().
			Str("order_id", order.OrderID).
			Err(err).
			Msg("Failed to publish settlement record")
	}
}

// HandleDeadLetter is the queue's exhaustion callback: it persists the
// terminal failed state, emits the final failure event, and publishes
// the settlement record.
func (m *StateMachine) HandleDeadLetter(job *queue.Job, cause error) {
	ctx := context.Background()
	reason := "unknown failure"
	if cause != nil {
		reason = cause.Error()
	}

	amountIn, err := fpdecimal.FromString(job.Payload.AmountIn)
	if err != nil {
		amountIn = fpdecimal.Zero
	}

	order := core.NewOrder(job.Payload.OrderID, job.Payload.TokenIn, job.Payload.TokenOut, amountIn)
	order.Status = core.StatusFailed
	order.Stage = "Order failed permanently: " + reason
	order.FailReason = reason
	order.FailAttempt = job.Attempt
	order.UpdatedAt = time.Now().UTC()

	if err := m.store.Upsert(ctx, order); err != nil {
		m.logger.Error().
			Str("order_id", order.OrderID).
			Err(err).
			Msg("Failed to persist dead-lettered order")
	}

	m.metrics.OrderFailed(ctx)
	m.broadcaster.Publish(core.NewFailedEvent(order.OrderID, reason, job.Attempt, true))
	m.publishSettlement(ctx, order)

	m.logger.Error().
		Str("order_id", order.OrderID).
		Int("attempts", job.Attempt).
		Str("reason", reason).
		Msg("Order failed permanently")
}
