package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// QuoteSource is a single liquidity venue. Implementations are
// expected to answer within bounded latency; the router deliberately
// adds no timeout of its own, so a hung source stalls the routing
// attempt (a known, accepted risk of the current design).
type QuoteSource interface {
	// Name returns the venue name, stable across calls
	Name() string
	// Quote returns the venue's current price for converting the
	// given token, including the venue fee rate.
	Quote(ctx context.Context, token string) (core.Quote, error)
}

// Config holds the venue simulation settings
type Config struct {
	// BasePrice is the shared market baseline both venues quote around
	BasePrice float64
	// VariancePct is the per-quote random variance, in percent
	VariancePct float64
	// FeeRate is the venue fee reported with every quote
	FeeRate float64
	// MinDelay/MaxDelay bound the artificial network latency
	MinDelay time.Duration
	MaxDelay time.Duration
	// ConfirmDelay is the simulated settlement confirmation time
	ConfirmDelay time.Duration
}

// LoadConfig loads venue simulation settings from environment variables
func LoadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("VENUE_BASE_PRICE", 150.0)
	v.SetDefault("VENUE_VARIANCE_PCT", 1.0)
	v.SetDefault("VENUE_FEE_RATE", core.DefaultFeeRate)
	v.SetDefault("VENUE_MIN_DELAY_MS", 200)
	v.SetDefault("VENUE_MAX_DELAY_MS", 500)
	v.SetDefault("VENUE_CONFIRM_DELAY_MS", 2000)

	v.AutomaticEnv()

	cfg := &Config{
		BasePrice:    v.GetFloat64("VENUE_BASE_PRICE"),
		VariancePct:  v.GetFloat64("VENUE_VARIANCE_PCT"),
		FeeRate:      v.GetFloat64("VENUE_FEE_RATE"),
		MinDelay:     time.Duration(v.GetInt("VENUE_MIN_DELAY_MS")) * time.Millisecond,
		MaxDelay:     time.Duration(v.GetInt("VENUE_MAX_DELAY_MS")) * time.Millisecond,
		ConfirmDelay: time.Duration(v.GetInt("VENUE_CONFIRM_DELAY_MS")) * time.Millisecond,
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid venue configuration: %w", err)
	}

	return cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.BasePrice <= 0 {
		return fmt.Errorf("VENUE_BASE_PRICE must be positive")
	}
	if cfg.VariancePct < 0 {
		return fmt.Errorf("VENUE_VARIANCE_PCT must not be negative")
	}
	if cfg.FeeRate < 0 || cfg.FeeRate >= 1 {
		return fmt.Errorf("VENUE_FEE_RATE must be in [0, 1)")
	}
	if cfg.MinDelay < 0 || cfg.MaxDelay < cfg.MinDelay {
		return fmt.Errorf("venue delay bounds are inverted")
	}
	return nil
}
