package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Queue errors
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrNotInFlight = errors.New("job is not in flight")
)

// Defaults for the retry policy
const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = 2000 * time.Millisecond
)

// Payload carries the order fields a worker needs to process one swap
type Payload struct {
	OrderID  string `json:"orderId"`
	TokenIn  string `json:"tokenIn"`
	TokenOut string `json:"tokenOut"`
	AmountIn string `json:"amountIn"`
}

// Job wraps one order's processing attempt. A job is owned by the
// queue until claimed via Dequeue; ownership transfers to the claiming
// worker for the duration of one attempt and returns to the queue on
// Nack. Attempt starts at 0 and is incremented on each delivery, so a
// worker always observes a 1-based attempt number.
type Job struct {
	Payload     Payload   `json:"payload"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"maxAttempts"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// Encode serializes the job for durable storage
func (j *Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// DecodeJob deserializes a stored job
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Config holds the retry policy shared by all queue implementations
type Config struct {
	// MaxAttempts bounds total deliveries per job
	MaxAttempts int
	// BackoffBase is the delay before the first redelivery; each
	// further redelivery doubles it.
	BackoffBase time.Duration
}

// DefaultConfig returns the reference retry policy: 3 attempts,
// exponential backoff starting at 2000ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		BackoffBase: DefaultBackoffBase,
	}
}

// RetryDelay returns the redelivery delay after the given failed
// attempt (1-based): base, 2×base, 4×base, ...
func (c Config) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	// 2^30 × base already far exceeds any sane schedule
	shift := attempt - 1
	if shift > 30 {
		shift = 30
	}
	return c.BackoffBase * time.Duration(1<<shift)
}

// DeadLetterFunc is invoked exactly once when a job exhausts its
// attempts, before the queue discards it. Exhaustion is surfaced
// explicitly instead of silently dropping the job.
type DeadLetterFunc func(job *Job, cause error)

// JobQueue is a durable, at-least-once work queue. Delivery may
// repeat across retries, but the queue serializes claims so a job is
// never in flight with two workers at once.
type JobQueue interface {
	// Enqueue adds a new job for the payload
	Enqueue(ctx context.Context, p Payload) error
	// Dequeue blocks until a job is ready or ctx is done
	Dequeue(ctx context.Context) (*Job, error)
	// Ack removes a delivered job permanently
	Ack(ctx context.Context, job *Job) error
	// Nack schedules redelivery after backoff, or routes the job to
	// the dead-letter callback when attempts are exhausted.
	Nack(ctx context.Context, job *Job, cause error) error
	// Close drains nothing and wakes all blocked consumers
	Close() error
}
