package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MemoryQueue is the in-process JobQueue. Redelivery delays run on
// timers; pending work survives only as long as the process, which is
// the same durability the in-memory order book backend offers.
type MemoryQueue struct {
	cfg         Config
	onExhausted DeadLetterFunc
	logger      zerolog.Logger

	mu       sync.Mutex
	ready    []*Job
	inflight map[string]*Job
	timers   map[*time.Timer]struct{}
	closed   bool

	notify chan struct{}
	done   chan struct{}
}

// NewMemoryQueue creates an in-memory queue with the given retry
// policy. onExhausted may be nil, in which case exhausted jobs are
// logged and discarded.
func NewMemoryQueue(cfg Config, onExhausted DeadLetterFunc, logger zerolog.Logger) *MemoryQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	return &MemoryQueue{
		cfg:         cfg,
		onExhausted: onExhausted,
		logger:      logger.With().Str("component", "memory_queue").Logger(),
		inflight:    make(map[string]*Job),
		timers:      make(map[*time.Timer]struct{}),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Enqueue implements JobQueue
func (q *MemoryQueue) Enqueue(ctx context.Context, p Payload) error {
	job := &Job{
		Payload:     p,
		Attempt:     0,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.ready = append(q.ready, job)
	q.mu.Unlock()

	q.signal()
	q.logger.Debug().Str("order_id", p.OrderID).Msg("Job enqueued")
	return nil
}

// Dequeue implements JobQueue. Claims are serialized under the queue
// lock, so no two consumers ever receive the same job instance.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			job.Attempt++
			q.inflight[job.Payload.OrderID] = job
			remaining := len(q.ready)
			q.mu.Unlock()

			// Keep the wake-up chain alive for other waiters
			if remaining > 0 {
				q.signal()
			}
			return job, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrQueueClosed
		case <-q.notify:
		}
	}
}

// Ack implements JobQueue
func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[job.Payload.OrderID]; !ok {
		return ErrNotInFlight
	}
	delete(q.inflight, job.Payload.OrderID)
	return nil
}

// Nack implements JobQueue. Below the attempt bound the job is
// scheduled for redelivery after exponential backoff; at the bound it
// is handed to the dead-letter callback and discarded.
func (q *MemoryQueue) Nack(ctx context.Context, job *Job, cause error) error {
	q.mu.Lock()
	if _, ok := q.inflight[job.Payload.OrderID]; !ok {
		q.mu.Unlock()
		return ErrNotInFlight
	}
	delete(q.inflight, job.Payload.OrderID)

	if job.Attempt >= job.MaxAttempts {
		q.mu.Unlock()
		q.logger.Warn().
			Str("order_id", job.Payload.OrderID).
			Int("attempts", job.Attempt).
			Err(cause).
			Msg("Job exhausted all attempts")
		if q.onExhausted != nil {
			q.onExhausted(job, cause)
		}
		return nil
	}

	delay := q.cfg.RetryDelay(job.Attempt)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		if q.closed {
			q.mu.Unlock()
			return
		}
		q.ready = append(q.ready, job)
		q.mu.Unlock()
		q.signal()
	})
	q.timers[timer] = struct{}{}
	q.mu.Unlock()

	q.logger.Debug().
		Str("order_id", job.Payload.OrderID).
		Int("attempt", job.Attempt).
		Dur("redelivery_in", delay).
		Err(cause).
		Msg("Job scheduled for redelivery")
	return nil
}

// Close implements JobQueue
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = make(map[*time.Timer]struct{})
	q.mu.Unlock()

	close(q.done)
	return nil
}

// Depth returns the number of jobs currently ready for delivery
func (q *MemoryQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
