package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eterna-labs/swapflow/pkg/core"
	"github.com/eterna-labs/swapflow/pkg/queue"
	"github.com/eterna-labs/swapflow/pkg/venue"
)

// chanSub forwards events into a buffered channel
type chanSub struct {
	ch chan core.ProgressEvent
}

func newChanSub() *chanSub {
	return &chanSub{ch: make(chan core.ProgressEvent, 32)}
}

func (c *chanSub) Send(event core.ProgressEvent) error {
	select {
	case c.ch <- event:
		return nil
	default:
		return errors.New("subscriber buffer full")
	}
}

func (c *chanSub) waitFor(t *testing.T, want core.Status, timeout time.Duration) core.ProgressEvent {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-c.ch:
			if ev.Status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s", want)
		}
	}
}

func TestWorkerPoolDefaultSize(t *testing.T) {
	pool := NewWorkerPool(nil, nil, 0, zerolog.Nop())
	assert.Equal(t, DefaultConcurrency, pool.Size())
}

func TestWorkerPoolProcessesOrderEndToEnd(t *testing.T) {
	fix := newFixture(t, Config{},
		&stubSource{name: venue.VenueRaydium, price: 150},
		&stubSource{name: venue.VenueMeteora, price: 151},
		&stubExecutor{},
	)
	q := queue.NewMemoryQueue(queue.DefaultConfig(), fix.machine.HandleDeadLetter, zerolog.Nop())
	defer q.Close()

	pool := NewWorkerPool(q, fix.machine, 2, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	sub := newChanSub()
	fix.broadcaster.Register("order-e2e", sub)

	require.NoError(t, q.Enqueue(context.Background(), queue.Payload{
		OrderID:  "order-e2e",
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: "10",
	}))

	ev := sub.waitFor(t, core.StatusCompleted, 3*time.Second)
	require.NotNil(t, ev.Completed)

	got, err := fix.store.Get(context.Background(), "order-e2e")
	require.NoError(t, err)
	assert.Equal(t, core.StatusCompleted, got.Status)
}

func TestWorkerPoolRetriesThenDeadLetters(t *testing.T) {
	fix := newFixture(t, Config{},
		&stubSource{name: venue.VenueRaydium, err: errors.New("venue down")},
		&stubSource{name: venue.VenueMeteora, err: errors.New("venue down")},
		&stubExecutor{},
	)
	// Fast backoff so three attempts complete quickly
	q := queue.NewMemoryQueue(queue.Config{MaxAttempts: 3, BackoffBase: 30 * time.Millisecond},
		fix.machine.HandleDeadLetter, zerolog.Nop())
	defer q.Close()

	pool := NewWorkerPool(q, fix.machine, 2, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	sub := newChanSub()
	fix.broadcaster.Register("order-fail", sub)

	require.NoError(t, q.Enqueue(context.Background(), queue.Payload{
		OrderID:  "order-fail",
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: "10",
	}))

	// One non-final failure per attempt, then the terminal one
	deadline := time.After(5 * time.Second)
	var softFailures int
	for {
		var ev core.ProgressEvent
		select {
		case ev = <-sub.ch:
		case <-deadline:
			t.Fatal("timed out waiting for terminal failure")
		}
		if ev.Status != core.StatusFailed {
			continue
		}
		require.NotNil(t, ev.Failed)
		if !ev.Failed.Final {
			softFailures++
			continue
		}
		assert.Equal(t, 3, ev.Failed.Attempt)
		assert.Contains(t, ev.Failed.Reason, "venue down")
		break
	}
	assert.Equal(t, 3, softFailures, "every attempt emits its own non-final failure")

	got, err := fix.store.Get(context.Background(), "order-fail")
	require.NoError(t, err)
	assert.Equal(t, core.StatusFailed, got.Status)
	assert.Equal(t, 3, got.FailAttempt)

	sent := fix.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "failed", sent[0].Status)
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	exec := &stubExecutor{delay: 50 * time.Millisecond}
	fix := newFixture(t, Config{},
		&stubSource{name: venue.VenueRaydium, price: 150},
		&stubSource{name: venue.VenueMeteora, price: 151},
		exec,
	)
	q := queue.NewMemoryQueue(queue.DefaultConfig(), fix.machine.HandleDeadLetter, zerolog.Nop())
	defer q.Close()

	pool := NewWorkerPool(q, fix.machine, 2, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	subs := make([]*chanSub, 6)
	for i := range subs {
		subs[i] = newChanSub()
		orderID := fmt.Sprintf("order-cap-%d", i)
		fix.broadcaster.Register(orderID, subs[i])
		require.NoError(t, q.Enqueue(context.Background(), queue.Payload{
			OrderID:  orderID,
			TokenIn:  "SOL",
			TokenOut: "USDC",
			AmountIn: "1",
		}))
	}

	for i := range subs {
		subs[i].waitFor(t, core.StatusCompleted, 5*time.Second)
	}

	assert.LessOrEqual(t, exec.maxActive.Load(), int32(2), "never more in flight than workers")
	assert.Equal(t, int32(6), exec.calls.Load())
}

func TestWorkerPoolFatalJobsAreDeadLettered(t *testing.T) {
	fix := newFixture(t, Config{},
		&stubSource{name: venue.VenueRaydium, price: 150},
		&stubSource{name: venue.VenueMeteora, price: 151},
		&stubExecutor{},
	)
	q := queue.NewMemoryQueue(queue.DefaultConfig(), fix.machine.HandleDeadLetter, zerolog.Nop())
	defer q.Close()

	pool := NewWorkerPool(q, fix.machine, 1, zerolog.Nop())
	pool.Start(context.Background())
	defer pool.Stop()

	sub := newChanSub()
	fix.broadcaster.Register("order-bad", sub)

	require.NoError(t, q.Enqueue(context.Background(), queue.Payload{
		OrderID:  "order-bad",
		TokenIn:  "SOL",
		TokenOut: "SOL", // invalid pair, no retry can fix it
		AmountIn: "10",
	}))

	ev := sub.waitFor(t, core.StatusFailed, 3*time.Second)
	require.NotNil(t, ev.Failed)
	assert.True(t, ev.Failed.Final, "fatal jobs skip the retry schedule")
	assert.Equal(t, 1, ev.Failed.Attempt)
}

func TestWorkerPoolStopIsGraceful(t *testing.T) {
	fix := newFixture(t, Config{},
		&stubSource{name: venue.VenueRaydium, price: 150},
		&stubSource{name: venue.VenueMeteora, price: 151},
		&stubExecutor{},
	)
	q := queue.NewMemoryQueue(queue.DefaultConfig(), nil, zerolog.Nop())
	defer q.Close()

	pool := NewWorkerPool(q, fix.machine, 4, zerolog.Nop())
	pool.Start(context.Background())

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	// Stop again is harmless
	pool.Stop()
}
