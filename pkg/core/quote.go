package core

import (
	"encoding/json"

	"github.com/nikolaydubina/fpdecimal"
)

// DefaultFeeRate is the venue fee reported with every quote (0.3%).
// The fee is reported for observability; whether it reduces the
// computed output amount is a pipeline policy switch.
const DefaultFeeRate = 0.003

// Quote is one venue's price for converting the source token.
// Quotes are ephemeral: produced per routing attempt, never persisted.
type Quote struct {
	Venue   string
	Price   fpdecimal.Decimal
	FeeRate float64
}

// MarshalJSON implements Marshaler interface
func (q Quote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Venue   string  `json:"venue"`
		Price   string  `json:"price"`
		FeeRate float64 `json:"feeRate"`
	}{
		Venue:   q.Venue,
		Price:   q.Price.String(),
		FeeRate: q.FeeRate,
	})
}

// UnmarshalJSON implements Unmarshaler interface
func (q *Quote) UnmarshalJSON(data []byte) error {
	var in struct {
		Venue   string  `json:"venue"`
		Price   string  `json:"price"`
		FeeRate float64 `json:"feeRate"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	q.Venue = in.Venue
	q.FeeRate = in.FeeRate
	if p, err := fpdecimal.FromString(in.Price); err == nil {
		q.Price = p
	} else {
		q.Price = fpdecimal.Zero
	}
	return nil
}

// RouteResult is the outcome of one quote-aggregation pass: the
// selected venue plus every quote gathered, kept for audit.
type RouteResult struct {
	Best   Quote   `json:"best"`
	Quotes []Quote `json:"quotes"`
}
