package messaging

import (
	"context"
	"sync"
)

// MockSettlementSender records settlements in memory for testing.
type MockSettlementSender struct {
	mu   sync.Mutex
	sent []*SettlementMessage
	err  error
}

// NewMockSettlementSender creates a new MockSettlementSender.
func NewMockSettlementSender() *MockSettlementSender {
	return &MockSettlementSender{}
}

// SendSettlement records the message, or returns the injected error.
func (m *MockSettlementSender) SendSettlement(ctx context.Context, settlement *SettlementMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, settlement)
	return nil
}

// Sent returns a snapshot of the recorded settlements.
func (m *MockSettlementSender) Sent() []*SettlementMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*SettlementMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// FailWith makes every subsequent send return err.
func (m *MockSettlementSender) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Close does nothing.
func (m *MockSettlementSender) Close() error {
	return nil
}

// Ensure MockSettlementSender implements SettlementSender
var _ SettlementSender = (*MockSettlementSender)(nil)
