package exchange

import (
	"context"
	"errors"
	"time"

	"vpa-trading-engine/internal/risk"
)

// OrderStatus mirrors the exchange-side order lifecycle
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether the status ends the order's life
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// ErrRejected is returned by Submit when the exchange refuses the order
var ErrRejected = errors.New("order rejected by exchange")

// Ack acknowledges an accepted order submission
type Ack struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderUpdate is one fill/cancel/reject report for an order. FilledQty and
// AvgPrice are cumulative over the order's life.
type OrderUpdate struct {
	OrderID      string      `json:"order_id"`
	Symbol       string      `json:"symbol"`
	FilledQty    float64     `json:"filled_qty"`
	AvgPrice     float64     `json:"avg_price"`
	RemainingQty float64     `json:"remaining_qty"`
	Status       OrderStatus `json:"status"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Gateway is the order execution boundary. Submit and Cancel may block on
// the network; fill reports arrive asynchronously on Updates.
type Gateway interface {
	Submit(ctx context.Context, req *risk.OrderRequest, clientOrderID string) (Ack, error)
	Cancel(ctx context.Context, symbol, orderID string) error
	Updates() <-chan OrderUpdate
}
