package market

import "time"

// BookLevel is one price level of an order book side
type BookLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderBook is a depth snapshot. Bids are sorted best (highest) first, asks
// best (lowest) first. Snapshots are immutable once taken.
type OrderBook struct {
	Symbol    string      `json:"symbol"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp time.Time   `json:"timestamp"`
}

// BestBid returns the highest bid price, or false on an empty side
func (b OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask price, or false on an empty side
func (b OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	return b.Asks[0].Price, true
}

// Levels returns the side a taker order of the given direction consumes:
// asks for a long entry, bids for a short entry.
func (b OrderBook) Levels(side Direction) []BookLevel {
	if side == DirectionLong {
		return b.Asks
	}
	return b.Bids
}
