package core

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nikolaydubina/fpdecimal"
)

// Status represents the lifecycle state of a swap order
type Status string

// Order lifecycle states, in strict forward order. An order reaches
// completed or failed exactly once and never transitions afterwards.
const (
	StatusPending   Status = "pending"
	StatusRouting   Status = "routing"
	StatusBuilding  Status = "building"
	StatusSubmitted Status = "submitted"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// statusRank orders the forward stages; failed is reachable from any
// non-terminal state and carries no rank.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusRouting:   1,
	StatusBuilding:  2,
	StatusSubmitted: 3,
	StatusCompleted: 4,
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no further transitions may occur
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next respects the
// strict forward order of the lifecycle.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok1 := statusRank[s]
	to, ok2 := statusRank[next]
	return ok1 && ok2 && to == from+1
}

// Validation errors
var (
	ErrMissingToken  = errors.New("token pair must not be empty")
	ErrSameToken     = errors.New("source and destination token must differ")
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Order stores one swap order. Identity fields (OrderID, TokenIn,
// TokenOut, AmountIn) are written once at ingress; result fields are
// only ever mutated by the single worker holding the order's job.
type Order struct {
	OrderID  string
	TokenIn  string
	TokenOut string
	AmountIn fpdecimal.Decimal

	Status Status
	Stage  string

	// Result fields, zero until the order completes
	Price         fpdecimal.Decimal
	AmountOut     fpdecimal.Decimal
	Venue         string
	SettlementRef string

	// Failure detail, set on the failed path only
	FailReason  string
	FailAttempt int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder creates a pending order with the given identity fields
func NewOrder(orderID, tokenIn, tokenOut string, amountIn fpdecimal.Decimal) *Order {
	now := time.Now().UTC()
	return &Order{
		OrderID:   orderID,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  amountIn,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the order's identity invariants
func (o *Order) Validate() error {
	if o.TokenIn == "" || o.TokenOut == "" {
		return ErrMissingToken
	}
	if o.TokenIn == o.TokenOut {
		return ErrSameToken
	}
	if !o.AmountIn.GreaterThan(fpdecimal.Zero) {
		return ErrInvalidAmount
	}
	return nil
}

// orderJSON mirrors Order with decimals rendered as strings
type orderJSON struct {
	OrderID       string    `json:"orderId"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	AmountIn      string    `json:"amountIn"`
	Status        Status    `json:"status"`
	Stage         string    `json:"stage,omitempty"`
	Price         string    `json:"price,omitempty"`
	AmountOut     string    `json:"amountOut,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	SettlementRef string    `json:"settlementRef,omitempty"`
	FailReason    string    `json:"failReason,omitempty"`
	FailAttempt   int       `json:"failAttempt,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// MarshalJSON implements custom JSON marshaling for Order
func (o *Order) MarshalJSON() ([]byte, error) {
	out := orderJSON{
		OrderID:       o.OrderID,
		TokenIn:       o.TokenIn,
		TokenOut:      o.TokenOut,
		AmountIn:      o.AmountIn.String(),
		Status:        o.Status,
		Stage:         o.Stage,
		Venue:         o.Venue,
		SettlementRef: o.SettlementRef,
		FailReason:    o.FailReason,
		FailAttempt:   o.FailAttempt,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if !o.Price.Equal(fpdecimal.Zero) {
		out.Price = o.Price.String()
	}
	if !o.AmountOut.Equal(fpdecimal.Zero) {
		out.AmountOut = o.AmountOut.String()
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements custom JSON unmarshaling for Order
func (o *Order) UnmarshalJSON(data []byte) error {
	var in orderJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	o.OrderID = in.OrderID
	o.TokenIn = in.TokenIn
	o.TokenOut = in.TokenOut
	o.Status = in.Status
	o.Stage = in.Stage
	o.Venue = in.Venue
	o.SettlementRef = in.SettlementRef
	o.FailReason = in.FailReason
	o.FailAttempt = in.FailAttempt
	o.CreatedAt = in.CreatedAt
	o.UpdatedAt = in.UpdatedAt

	if amt, err := fpdecimal.FromString(in.AmountIn); err == nil {
		o.AmountIn = amt
	} else {
		o.AmountIn = fpdecimal.Zero
	}
	o.Price = fpdecimal.Zero
	if in.Price != "" {
		if p, err := fpdecimal.FromString(in.Price); err == nil {
			o.Price = p
		}
	}
	o.AmountOut = fpdecimal.Zero
	if in.AmountOut != "" {
		if a, err := fpdecimal.FromString(in.AmountOut); err == nil {
			o.AmountOut = a
		}
	}
	return nil
}
