package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestExecuteReturnsSettlementRef(t *testing.T) {
	exec := NewSimulatedExecutor(0, zerolog.Nop())

	ref, err := exec.Execute(context.Background(), "Raydium")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.HasPrefix(ref, "5Kj") {
		t.Errorf("Expected settlement ref with 5Kj prefix, got %s", ref)
	}
	if len(ref) <= 5 {
		t.Errorf("Expected non-trivial settlement ref, got %s", ref)
	}
}

func TestExecuteRefsUniqueAcrossConcurrentCalls(t *testing.T) {
	exec := NewSimulatedExecutor(0, zerolog.Nop())

	const n = 200
	refs := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := exec.Execute(context.Background(), "Meteora")
			if err != nil {
				t.Errorf("Execute failed: %v", err)
				return
			}
			refs <- ref
		}()
	}
	wg.Wait()
	close(refs)

	seen := make(map[string]bool, n)
	for ref := range refs {
		if seen[ref] {
			t.Fatalf("Duplicate settlement ref: %s", ref)
		}
		seen[ref] = true
	}
	if len(seen) != n {
		t.Errorf("Expected %d unique refs, got %d", n, len(seen))
	}
}

func TestExecuteContextCanceled(t *testing.T) {
	exec := NewSimulatedExecutor(time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exec.Execute(ctx, "Raydium"); err == nil {
		t.Error("Expected error from canceled context")
	}
}
