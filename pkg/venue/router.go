package venue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikolaydubina/fpdecimal"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// Router queries exactly two venue quote sources concurrently and
// selects the better one. Selection is higher-price-wins: the order's
// source token is being sold, so a higher price yields more of the
// destination token. Ties go to the first source.
type Router struct {
	first  QuoteSource
	second QuoteSource
	logger *slog.Logger
}

// NewRouter creates a Router over the two given sources. Source order
// is significant: it is the deterministic tie-break.
func NewRouter(first, second QuoteSource, logger *slog.Logger) *Router {
	return &Router{
		first:  first,
		second: second,
		logger: logger.With("component", "router"),
	}
}

type quoteReply struct {
	quote core.Quote
	err   error
}

// Route fetches one quote from each source concurrently, joins both
// results, and returns the selected best quote along with both raw
// quotes for audit. Either source failing aborts the whole attempt;
// there is no degradation to a single-venue result.
func (r *Router) Route(ctx context.Context, token string, amount fpdecimal.Decimal) (core.RouteResult, error) {
	firstCh := make(chan quoteReply, 1)
	secondCh := make(chan quoteReply, 1)

	go func() {
		q, err := r.first.Quote(ctx, token)
		firstCh <- quoteReply{quote: q, err: err}
	}()
	go func() {
		q, err := r.second.Quote(ctx, token)
		secondCh <- quoteReply{quote: q, err: err}
	}()

	// Join both replies before deciding anything; no early return on
	// the first response and no partial results.
	a := <-firstCh
	b := <-secondCh

	if a.err != nil {
		return core.RouteResult{}, fmt.Errorf("venue %s quote failed: %w", r.first.Name(), a.err)
	}
	if b.err != nil {
		return core.RouteResult{}, fmt.Errorf("venue %s quote failed: %w", r.second.Name(), b.err)
	}

	best := a.quote
	if b.quote.Price.GreaterThan(a.quote.Price) {
		best = b.quote
	}

	r.logger.Info("quotes gathered",
		"token", token,
		"amount", amount.String(),
		r.first.Name(), a.quote.Price.String(),
		r.second.Name(), b.quote.Price.String(),
		"selected", best.Venue)

	return core.RouteResult{
		Best:   best,
		Quotes: []core.Quote{a.quote, b.quote},
	}, nil
}
