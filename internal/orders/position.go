package orders

import (
	"time"

	"vpa-trading-engine/internal/market"
)

// Fill is one accepted execution against an order
type Fill struct {
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Position is a live or archived holding for one pair. It is owned
// exclusively by the pair's state machine and mutated only through
// transitions.
type Position struct {
	Symbol      string           `json:"symbol"`
	Side        market.Direction `json:"side"`
	EntryPrice  float64          `json:"entry_price"` // volume-weighted across fills
	Quantity    float64          `json:"quantity"`
	ClosedQty   float64          `json:"closed_qty"`
	StopPrice   float64          `json:"stop_price"`
	TakeProfit  float64          `json:"take_profit"`
	Status      State            `json:"status"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    time.Time        `json:"closed_at,omitempty"`
	ExitPrice   float64          `json:"exit_price,omitempty"`
	RealizedPnL float64          `json:"realized_pnl"`
	CloseReason string           `json:"close_reason,omitempty"`
	Fills       []Fill           `json:"fills"`
}

// OpenQuantity is the quantity still held
func (p *Position) OpenQuantity() float64 {
	return p.Quantity - p.ClosedQty
}

// UnrealizedPnL values the open quantity at price
func (p *Position) UnrealizedPnL(price float64) float64 {
	qty := p.OpenQuantity()
	if p.Side == market.DirectionLong {
		return (price - p.EntryPrice) * qty
	}
	return (p.EntryPrice - price) * qty
}
