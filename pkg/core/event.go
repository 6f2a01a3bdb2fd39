package core

import "github.com/nikolaydubina/fpdecimal"

// ProgressEvent is one status update produced by the order pipeline
// and delivered to the subscriber registered for the order. Exactly
// one of the payload pointers is set for building and terminal
// events; plain stage events carry only status and stage text.
type ProgressEvent struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Stage   string `json:"stage,omitempty"`

	Quotes    *QuotesPayload    `json:"quotes,omitempty"`
	Completed *CompletedPayload `json:"completed,omitempty"`
	Failed    *FailedPayload    `json:"failed,omitempty"`
}

// QuotesPayload carries both raw venue quotes and the selection,
// attached to the building event.
type QuotesPayload struct {
	Quotes   []Quote `json:"quotes"`
	Selected string  `json:"selected"`
}

// CompletedPayload is the terminal success payload
type CompletedPayload struct {
	SettlementRef string  `json:"settlementRef"`
	Price         string  `json:"price"`
	AmountOut     string  `json:"amountOut"`
	Venue         string  `json:"venue"`
	FeeRate       float64 `json:"feeRate"`
}

// FailedPayload is the failure payload. Final distinguishes retry
// exhaustion from a per-attempt failure that will be redelivered.
type FailedPayload struct {
	Reason  string `json:"reason"`
	Attempt int    `json:"attempt,omitempty"`
	Final   bool   `json:"final"`
}

// NewStageEvent creates a plain stage-transition event
func NewStageEvent(orderID string, status Status, stage string) ProgressEvent {
	return ProgressEvent{OrderID: orderID, Status: status, Stage: stage}
}

// NewBuildingEvent creates the building event carrying the route result
func NewBuildingEvent(orderID, stage string, route RouteResult) ProgressEvent {
	return ProgressEvent{
		OrderID: orderID,
		Status:  StatusBuilding,
		Stage:   stage,
		Quotes: &QuotesPayload{
			Quotes:   route.Quotes,
			Selected: route.Best.Venue,
		},
	}
}

// NewCompletedEvent creates the terminal success event
func NewCompletedEvent(orderID, stage, settlementRef, venue string, price, amountOut fpdecimal.Decimal, feeRate float64) ProgressEvent {
	return ProgressEvent{
		OrderID: orderID,
		Status:  StatusCompleted,
		Stage:   stage,
		Completed: &CompletedPayload{
			SettlementRef: settlementRef,
			Price:         price.String(),
			AmountOut:     amountOut.String(),
			Venue:         venue,
			FeeRate:       feeRate,
		},
	}
}

// NewFailedEvent creates a failure event; final marks retry exhaustion
func NewFailedEvent(orderID, reason string, attempt int, final bool) ProgressEvent {
	stage := "Error: " + reason
	if final {
		stage = "Order failed permanently: " + reason
	}
	return ProgressEvent{
		OrderID: orderID,
		Status:  StatusFailed,
		Stage:   stage,
		Failed: &FailedPayload{
			Reason:  reason,
			Attempt: attempt,
			Final:   final,
		},
	}
}
