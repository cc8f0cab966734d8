package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpa-trading-engine/internal/risk"
)

// MockGateway is an in-process gateway for paper trading and tests. Orders
// are recorded and acknowledged; fills are injected by the caller through
// PushUpdate, or generated immediately when AutoFill is set.
type MockGateway struct {
	mu         sync.Mutex
	updates    chan OrderUpdate
	submitted  []SubmittedOrder
	cancelled  []string
	rejectNext bool
	failCancel int // remaining Cancel calls to fail, for retry paths
	AutoFill   bool
}

// SubmittedOrder records one Submit call
type SubmittedOrder struct {
	OrderID string
	Request *risk.OrderRequest
}

// NewMockGateway creates a mock gateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		updates: make(chan OrderUpdate, 64),
	}
}

// RejectNext makes the next Submit fail with ErrRejected
func (g *MockGateway) RejectNext() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectNext = true
}

// FailCancels makes the next n Cancel calls return an error
func (g *MockGateway) FailCancels(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failCancel = n
}

// Submit records the order and acknowledges it
func (g *MockGateway) Submit(ctx context.Context, req *risk.OrderRequest, clientOrderID string) (Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.rejectNext {
		g.rejectNext = false
		return Ack{}, fmt.Errorf("%w: %s", ErrRejected, req.Symbol)
	}

	g.submitted = append(g.submitted, SubmittedOrder{OrderID: clientOrderID, Request: req})
	ack := Ack{OrderID: clientOrderID, Symbol: req.Symbol, Timestamp: time.Now()}

	if g.AutoFill {
		g.updates <- OrderUpdate{
			OrderID:      clientOrderID,
			Symbol:       req.Symbol,
			FilledQty:    req.Quantity,
			AvgPrice:     req.Price,
			RemainingQty: 0,
			Status:       StatusFilled,
			Timestamp:    time.Now(),
		}
	}
	return ack, nil
}

// Cancel records the cancellation
func (g *MockGateway) Cancel(ctx context.Context, symbol, orderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failCancel > 0 {
		g.failCancel--
		return fmt.Errorf("cancel %s: connection reset", orderID)
	}
	g.cancelled = append(g.cancelled, orderID)
	return nil
}

// Updates returns the fill report channel
func (g *MockGateway) Updates() <-chan OrderUpdate {
	return g.updates
}

// PushUpdate injects a fill report
func (g *MockGateway) PushUpdate(update OrderUpdate) {
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now()
	}
	g.updates <- update
}

// Submitted returns a copy of the recorded submissions
func (g *MockGateway) Submitted() []SubmittedOrder {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SubmittedOrder, len(g.submitted))
	copy(out, g.submitted)
	return out
}

// Cancelled returns a copy of the recorded cancellations
func (g *MockGateway) Cancelled() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.cancelled))
	copy(out, g.cancelled)
	return out
}
