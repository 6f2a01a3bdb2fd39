package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(orderID string) Payload {
	return Payload{
		OrderID:  orderID,
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: "10",
	}
}

// fastRetryConfig keeps redelivery delays short enough for tests
func fastRetryConfig() Config {
	return Config{MaxAttempts: 3, BackoffBase: 50 * time.Millisecond}
}

func TestMemoryQueueEnqueueDequeue(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-1")))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "order-1", job.Payload.OrderID)
	assert.Equal(t, 1, job.Attempt, "first delivery carries attempt 1")
	assert.Equal(t, 3, job.MaxAttempts)

	require.NoError(t, q.Ack(context.Background(), job))
}

func TestMemoryQueueDequeueBlocksUntilWork(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	got := make(chan *Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			got <- job
		}
	}()

	select {
	case <-got:
		t.Fatal("Dequeue returned before any job was enqueued")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-2")))

	select {
	case job := <-got:
		assert.Equal(t, "order-2", job.Payload.OrderID)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake after enqueue")
	}
}

func TestMemoryQueueDequeueContextCanceled(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueNackRedeliversAfterBackoff(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-3")))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Nack(context.Background(), job, errors.New("venue down")))

	// Not ready before the backoff elapses
	assert.Equal(t, 0, q.Depth())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	redelivered, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-3", redelivered.Payload.OrderID)
	assert.Equal(t, 2, redelivered.Attempt, "redelivery increments the attempt")
}

func TestMemoryQueueAttemptNumbersAcrossRedeliveries(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-4")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var attempts []int
	for i := 0; i < 2; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		attempts = append(attempts, job.Attempt)
		require.NoError(t, q.Nack(ctx, job, errors.New("boom")))
	}
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	attempts = append(attempts, job.Attempt)

	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestMemoryQueueExhaustionSignalsDeadLetter(t *testing.T) {
	var deadLetters atomic.Int32
	var gotCause error
	var gotJob *Job

	q := NewMemoryQueue(fastRetryConfig(), func(job *Job, cause error) {
		deadLetters.Add(1)
		gotJob = job
		gotCause = cause
	}, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-5")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cause := errors.New("venue unreachable")
	for i := 0; i < 3; i++ {
		job, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, q.Nack(ctx, job, cause))
	}

	assert.Equal(t, int32(1), deadLetters.Load(), "dead letter fires exactly once")
	require.NotNil(t, gotJob)
	assert.Equal(t, "order-5", gotJob.Payload.OrderID)
	assert.Equal(t, 3, gotJob.Attempt)
	assert.Equal(t, cause, gotCause)

	// The job is gone: no further delivery
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	_, err := q.Dequeue(shortCtx)
	assert.Error(t, err)
}

func TestMemoryQueueBackoffDelaysGrow(t *testing.T) {
	cfg := Config{MaxAttempts: 3, BackoffBase: 40 * time.Millisecond}
	q := NewMemoryQueue(cfg, nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-6")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// First redelivery after ~base
	start := time.Now()
	require.NoError(t, q.Nack(ctx, job, errors.New("x")))
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	first := time.Since(start)

	// Second redelivery after ~2x base
	start = time.Now()
	require.NoError(t, q.Nack(ctx, job, errors.New("x")))
	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	second := time.Since(start)

	assert.GreaterOrEqual(t, first, cfg.BackoffBase)
	assert.GreaterOrEqual(t, second, 2*cfg.BackoffBase)
	assert.Greater(t, second, first)
	require.NoError(t, q.Ack(ctx, job))
}

func TestMemoryQueueAckedJobCannotBeNacked(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-7")))

	job, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Ack(context.Background(), job))

	assert.ErrorIs(t, q.Nack(context.Background(), job, errors.New("late")), ErrNotInFlight)
	assert.ErrorIs(t, q.Ack(context.Background(), job), ErrNotInFlight)
}

func TestMemoryQueueSingleClaimUnderContention(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), testPayload("order-8")))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var claims atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Dequeue(ctx); err == nil {
				claims.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claims.Load(), "exactly one consumer claims the job")
}

func TestMemoryQueueManyJobsAllDelivered(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())
	defer q.Close()

	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), testPayload(fmt.Sprintf("order-%d", i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var delivered atomic.Int32
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				q.Ack(ctx, job)
				if delivered.Add(1) == n {
					cancel()
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(n), delivered.Load())
}

func TestMemoryQueueCloseWakesConsumers(t *testing.T) {
	q := NewMemoryQueue(fastRetryConfig(), nil, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}

	assert.ErrorIs(t, q.Enqueue(context.Background(), testPayload("late")), ErrQueueClosed)
}
