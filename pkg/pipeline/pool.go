package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eterna-labs/swapflow/pkg/queue"
)

// DefaultConcurrency is the worker count used when none is configured
const DefaultConcurrency = 10

// WorkerPool runs a fixed number of workers, each looping
// dequeue → process → ack/nack. The pool size caps how many orders are
// in flight at once; everything else waits in the queue.
type WorkerPool struct {
	queue   queue.JobQueue
	machine *StateMachine
	size    int
	logger  zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a pool of size workers; size <= 0 falls back
// to DefaultConcurrency.
func NewWorkerPool(q queue.JobQueue, machine *StateMachine, size int, logger zerolog.Logger) *WorkerPool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	return &WorkerPool{
		queue:   q,
		machine: machine,
		size:    size,
		logger:  logger.With().Str("component", "worker_pool").Logger(),
	}
}

// Size returns the configured worker count
func (p *WorkerPool) Size() int {
	return p.size
}

// Start launches the workers. Calling Start twice is a no-op.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info().Int("workers", p.size).Msg("Starting worker pool")
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(workerCtx, i)
	}
}

// Stop cancels the workers and waits for in-flight attempts to finish
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("Worker pool stopped")
}

func (p *WorkerPool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With().Int("worker", id).Logger()

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			log.Error().Err(err).Msg("Dequeue failed")
			continue
		}

		outcome := p.machine.Process(ctx, job)
		switch outcome.Kind {
		case OutcomeSucceeded:
			if err := p.queue.Ack(ctx, job); err != nil {
				log.Error().Err(err).Str("order_id", job.Payload.OrderID).Msg("Ack failed")
			}
		case OutcomeRetry:
			if err := p.queue.Nack(ctx, job, outcome.Err); err != nil {
				log.Error().Err(err).Str("order_id", job.Payload.OrderID).Msg("Nack failed")
			}
		case OutcomeFatal:
			// No retry can help; dead-letter immediately and drop the job
			p.machine.HandleDeadLetter(job, outcome.Err)
			if err := p.queue.Ack(ctx, job); err != nil {
				log.Error().Err(err).Str("order_id", job.Payload.OrderID).Msg("Ack after fatal failed")
			}
		}
	}
}
