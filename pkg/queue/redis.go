package queue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions represents configuration options for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// GetRedisClient creates a new Redis client from the given options
func GetRedisClient(options *RedisOptions) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     options.Addr,
		Password: options.Password,
		DB:       options.DB,
	})
}

// RedisQueue implements JobQueue on Redis. Ready jobs live in a list,
// delayed redeliveries in a sorted set scored by their ready time, and
// claimed jobs in a processing list; entries stranded there by a crash
// are swept back to the ready list on startup. A background mover
// promotes due delayed jobs back to the ready list.
type RedisQueue struct {
	client      *redis.Client
	cfg         Config
	onExhausted DeadLetterFunc
	logger      *zap.Logger

	readyKey      string
	delayedKey    string
	processingKey string

	mu          sync.Mutex
	inflightRaw map[string]string

	moverCtx    context.Context
	moverCancel context.CancelFunc
	moverDone   chan struct{}
}

// NewRedisQueue creates a Redis-backed queue under the given key prefix
func NewRedisQueue(client *redis.Client, prefix string, cfg Config, onExhausted DeadLetterFunc, logger *zap.Logger) *RedisQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &RedisQueue{
		client:        client,
		cfg:           cfg,
		onExhausted:   onExhausted,
		logger:        logger,
		readyKey:      fmt.Sprintf("%s:ready", prefix),
		delayedKey:    fmt.Sprintf("%s:delayed", prefix),
		processingKey: fmt.Sprintf("%s:processing", prefix),
		inflightRaw:   make(map[string]string),
		moverCtx:      ctx,
		moverCancel:   cancel,
		moverDone:     make(chan struct{}),
	}

	// Sweep before any consumer can claim, so in-flight jobs of this
	// run are never confused with leftovers of the previous one.
	reclaimCtx, done := context.WithTimeout(ctx, 5*time.Second)
	q.reclaimStale(reclaimCtx)
	done()

	go q.runMover()
	return q
}

// reclaimStale moves jobs a previous run left in the processing list
// back onto the ready list for redelivery.
func (q *RedisQueue) reclaimStale(ctx context.Context) {
	var n int
	for {
		_, err := q.client.RPopLPush(ctx, q.processingKey, q.readyKey).Result()
		if err == redis.Nil {
			break
		}
		if err != nil {
			q.logger.Error("failed to reclaim stale jobs", zap.Error(err))
			return
		}
		n++
	}
	if n > 0 {
		q.logger.Warn("reclaimed stale in-flight jobs", zap.Int("count", n))
	}
}

// Enqueue implements JobQueue
func (q *RedisQueue) Enqueue(ctx context.Context, p Payload) error {
	job := &Job{
		Payload:     p,
		Attempt:     0,
		MaxAttempts: q.cfg.MaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if err := q.client.LPush(ctx, q.readyKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Dequeue implements JobQueue. The pop moves the raw job into the
// processing list atomically, so only one consumer ever claims it.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := q.moverCtx.Err(); err != nil {
			return nil, ErrQueueClosed
		}

		raw, err := q.client.BRPopLPush(ctx, q.readyKey, q.processingKey, time.Second).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		job, err := DecodeJob([]byte(raw))
		if err != nil {
			// Poisoned entry: drop it from processing and move on
			q.client.LRem(ctx, q.processingKey, 1, raw)
			q.logger.Error("failed to decode job, discarding", zap.Error(err))
			continue
		}

		job.Attempt++
		q.mu.Lock()
		q.inflightRaw[job.Payload.OrderID] = raw
		q.mu.Unlock()
		return job, nil
	}
}

// Ack implements JobQueue
func (q *RedisQueue) Ack(ctx context.Context, job *Job) error {
	raw, ok := q.takeRaw(job.Payload.OrderID)
	if !ok {
		return ErrNotInFlight
	}
	if err := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// Nack implements JobQueue
func (q *RedisQueue) Nack(ctx context.Context, job *Job, cause error) error {
	raw, ok := q.takeRaw(job.Payload.OrderID)
	if !ok {
		return ErrNotInFlight
	}

	if job.Attempt >= job.MaxAttempts {
		if err := q.client.LRem(ctx, q.processingKey, 1, raw).Err(); err != nil {
			return fmt.Errorf("failed to discard exhausted job: %w", err)
		}
		q.logger.Warn("job exhausted all attempts",
			zap.String("orderID", job.Payload.OrderID),
			zap.Int("attempts", job.Attempt),
			zap.Error(cause))
		if q.onExhausted != nil {
			q.onExhausted(job, cause)
		}
		return nil
	}

	// Re-encode with the delivered attempt count so the next delivery
	// resumes from it.
	data, err := job.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode job for redelivery: %w", err)
	}
	readyAt := time.Now().Add(q.cfg.RetryDelay(job.Attempt))

	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey, 1, raw)
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to schedule redelivery: %w", err)
	}

	q.logger.Debug("job scheduled for redelivery",
		zap.String("orderID", job.Payload.OrderID),
		zap.Int("attempt", job.Attempt),
		zap.Time("readyAt", readyAt))
	return nil
}

// Close implements JobQueue
func (q *RedisQueue) Close() error {
	q.moverCancel()
	<-q.moverDone
	return nil
}

func (q *RedisQueue) takeRaw(orderID string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	raw, ok := q.inflightRaw[orderID]
	if ok {
		delete(q.inflightRaw, orderID)
	}
	return raw, ok
}

// runMover promotes due delayed jobs back onto the ready list
func (q *RedisQueue) runMover() {
	defer close(q.moverDone)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-q.moverCtx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(q.moverCtx); err != nil && q.moverCtx.Err() == nil {
				q.logger.Error("failed to promote delayed jobs", zap.Error(err))
			}
		}
	}
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, raw := range due {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey, raw)
		pipe.LPush(ctx, q.readyKey, raw)
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
