package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestRedis initializes a Redis client for testing.
// It assumes Redis is running on localhost:6379 and skips otherwise.
func setupTestRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   0,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		t.Skipf("Skipping Redis tests: Cannot connect to Redis (%v)", err)
	}
	if err := client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("Failed to flush Redis DB: %v", err)
	}
	return client
}

func TestRedisQueueEnqueueDequeueAck(t *testing.T) {
	client := setupTestRedis(t)
	q := NewRedisQueue(client, "test:swapjobs", fastRetryConfig(), nil, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testPayload("order-r1")))

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "order-r1", job.Payload.OrderID)
	assert.Equal(t, 1, job.Attempt)

	require.NoError(t, q.Ack(ctx, job))

	// Processing list is empty after ack
	n, err := client.LLen(ctx, "test:swapjobs:processing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisQueueNackSchedulesDelayedRedelivery(t *testing.T) {
	client := setupTestRedis(t)
	q := NewRedisQueue(client, "test:swapjobs", fastRetryConfig(), nil, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testPayload("order-r2")))

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := q.Dequeue(dctx)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, job, errors.New("venue down")))

	// Job parked in the delayed set until the mover promotes it
	n, err := client.ZCard(ctx, "test:swapjobs:delayed").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	redelivered, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "order-r2", redelivered.Payload.OrderID)
	assert.Equal(t, 2, redelivered.Attempt)
	require.NoError(t, q.Ack(ctx, redelivered))
}

func TestRedisQueueReclaimsStaleProcessingOnStartup(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()

	// A crashed consumer leaves its claimed job in the processing list
	stale := &Job{
		Payload:     testPayload("order-r4"),
		Attempt:     1,
		MaxAttempts: DefaultMaxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}
	data, err := stale.Encode()
	require.NoError(t, err)
	require.NoError(t, client.LPush(ctx, "test:swapjobs:processing", data).Err())

	q := NewRedisQueue(client, "test:swapjobs", fastRetryConfig(), nil, zap.NewNop())
	defer q.Close()

	n, err := client.LLen(ctx, "test:swapjobs:processing").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "startup sweep empties the processing list")

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	job, err := q.Dequeue(dctx)
	require.NoError(t, err)
	assert.Equal(t, "order-r4", job.Payload.OrderID)
	assert.Equal(t, 2, job.Attempt, "redelivery resumes from the stranded attempt")
	require.NoError(t, q.Ack(ctx, job))
}

func TestRedisQueueExhaustionDeadLetters(t *testing.T) {
	client := setupTestRedis(t)

	deadLetters := make(chan *Job, 1)
	q := NewRedisQueue(client, "test:swapjobs", fastRetryConfig(), func(job *Job, cause error) {
		deadLetters <- job
	}, zap.NewNop())
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testPayload("order-r3")))

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(dctx)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, job, errors.New("still down")))
	}

	select {
	case job := <-deadLetters:
		assert.Equal(t, "order-r3", job.Payload.OrderID)
		assert.Equal(t, 3, job.Attempt)
	case <-time.After(time.Second):
		t.Fatal("Expected dead letter after exhaustion")
	}
}
