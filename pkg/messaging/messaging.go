package messaging

import (
	"context"
	"time"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// SettlementSender defines an interface for publishing settlement
// records once an order reaches a terminal state. This decouples the
// pipeline from the concrete transport (Kafka in production).
type SettlementSender interface {
	SendSettlement(ctx context.Context, settlement *SettlementMessage) error
	Close() error
}

// SettlementMessage is the record published for every terminal order.
// Decimal fields are carried as strings so downstream consumers never
// see float rounding.
type SettlementMessage struct {
	OrderID       string    `json:"orderId"`
	Status        string    `json:"status"`
	TokenIn       string    `json:"tokenIn"`
	TokenOut      string    `json:"tokenOut"`
	AmountIn      string    `json:"amountIn"`
	AmountOut     string    `json:"amountOut,omitempty"`
	Price         string    `json:"price,omitempty"`
	Venue         string    `json:"venue,omitempty"`
	SettlementRef string    `json:"settlementRef,omitempty"`
	FailReason    string    `json:"failReason,omitempty"`
	SettledAt     time.Time `json:"settledAt"`
}

// FromOrder builds the settlement record for a terminal order
func FromOrder(order *core.Order) *SettlementMessage {
	msg := &SettlementMessage{
		OrderID:    order.OrderID,
		Status:     string(order.Status),
		TokenIn:    order.TokenIn,
		TokenOut:   order.TokenOut,
		AmountIn:   order.AmountIn.String(),
		Venue:      order.Venue,
		FailReason: order.FailReason,
		SettledAt:  time.Now().UTC(),
	}
	if order.Status == core.StatusCompleted {
		msg.Price = order.Price.String()
		msg.AmountOut = order.AmountOut.String()
		msg.SettlementRef = order.SettlementRef
	}
	return msg
}
