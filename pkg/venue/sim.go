package venue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// Known venue names
const (
	VenueRaydium = "Raydium"
	VenueMeteora = "Meteora"
)

// SimulatedSource is a venue quote source that samples prices around
// a shared baseline with bounded random variance and artificial
// network latency. It stands in for a real on-chain quote API.
type SimulatedSource struct {
	name   string
	cfg    *Config
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSource creates a simulated venue with its own rand stream
func NewSimulatedSource(name string, cfg *Config, logger *slog.Logger) *SimulatedSource {
	return &SimulatedSource{
		name:   name,
		cfg:    cfg,
		logger: logger.With("component", "venue", "venue", name),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewSeededSource creates a simulated venue with a fixed seed.
// Used by tests that need reproducible price samples.
func NewSeededSource(name string, cfg *Config, logger *slog.Logger, seed int64) *SimulatedSource {
	s := NewSimulatedSource(name, cfg, logger)
	s.rng = rand.New(rand.NewSource(seed))
	return s
}

// Name implements QuoteSource
func (s *SimulatedSource) Name() string {
	return s.name
}

// Quote implements QuoteSource. Each call is an independent latency
// and price sample: delay in [MinDelay, MaxDelay], price within
// ±VariancePct of the baseline.
func (s *SimulatedSource) Quote(ctx context.Context, token string) (core.Quote, error) {
	delay, variance := s.sample()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return core.Quote{}, ctx.Err()
		}
	}

	price := s.cfg.BasePrice * variance
	s.logger.Debug("quote sampled", "token", token, "price", price, "delay", delay)

	return core.Quote{
		Venue:   s.name,
		Price:   fpdecimal.FromFloat(price),
		FeeRate: s.cfg.FeeRate,
	}, nil
}

// sample draws latency and variance under the lock; rand.Rand is not
// safe for concurrent use.
func (s *SimulatedSource) sample() (time.Duration, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delay := s.cfg.MinDelay
	if spread := s.cfg.MaxDelay - s.cfg.MinDelay; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}

	variance := 1 + (s.rng.Float64()*2-1)*s.cfg.VariancePct/100
	return delay, variance
}
