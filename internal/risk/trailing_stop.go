package risk

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
)

// TrailingConfig holds trailing stop parameters, as fractions of price
type TrailingConfig struct {
	TriggerPct float64 `json:"trigger_pct"` // unrealized profit activating the trail
	OffsetPct  float64 `json:"offset_pct"`  // distance the stop trails the water mark
}

// DefaultTrailingConfig returns the standard trailing parameters
func DefaultTrailingConfig() TrailingConfig {
	return TrailingConfig{
		TriggerPct: 0.02,
		OffsetPct:  0.01,
	}
}

// TrailingPosition tracks one position's trailing stop state
type TrailingPosition struct {
	Symbol        string
	Side          market.Direction
	EntryPrice    float64
	CurrentStop   float64
	OriginalStop  float64
	HighWaterMark float64 // highest price since entry, for longs
	LowWaterMark  float64 // lowest price since entry, for shorts
	Activated     bool
	LastUpdate    time.Time
}

// StopUpdate reports a stop movement or trigger for one price update
type StopUpdate struct {
	Symbol       string
	OldStop      float64
	NewStop      float64
	Triggered    bool
	TriggerPrice float64
}

// TrailingStops ratchets protective stops behind favorable price movement.
// Once activated, a long's stop only ever moves up and a short's only ever
// moves down.
type TrailingStops struct {
	mu        sync.RWMutex
	positions map[string]*TrailingPosition
	config    TrailingConfig
	logger    zerolog.Logger
}

// NewTrailingStops creates a trailing stop tracker
func NewTrailingStops(config TrailingConfig, logger zerolog.Logger) *TrailingStops {
	if config.TriggerPct <= 0 {
		config.TriggerPct = 0.02
	}
	if config.OffsetPct <= 0 {
		config.OffsetPct = 0.01
	}
	return &TrailingStops{
		positions: make(map[string]*TrailingPosition),
		config:    config,
		logger:    logger.With().Str("component", "TrailingStops").Logger(),
	}
}

// Track starts trailing a newly opened position
func (t *TrailingStops) Track(symbol string, side market.Direction, entryPrice, stop float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.positions[symbol] = &TrailingPosition{
		Symbol:        symbol,
		Side:          side,
		EntryPrice:    entryPrice,
		CurrentStop:   stop,
		OriginalStop:  stop,
		HighWaterMark: entryPrice,
		LowWaterMark:  entryPrice,
		LastUpdate:    time.Now(),
	}
	t.logger.Debug().
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("entry", entryPrice).
		Float64("stop", stop).
		Msg("Trailing position tracked")
}

// Untrack stops trailing a position
func (t *TrailingStops) Untrack(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, symbol)
}

// OnPrice applies a price update. Returns nil when nothing changed, a stop
// movement when the ratchet tightened, or a triggered update when price
// crossed the stop.
func (t *TrailingStops) OnPrice(symbol string, price float64) *StopUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()

	pos, ok := t.positions[symbol]
	if !ok {
		return nil
	}
	defer func() { pos.LastUpdate = time.Now() }()

	if pos.Side == market.DirectionLong {
		return t.updateLong(pos, price)
	}
	return t.updateShort(pos, price)
}

func (t *TrailingStops) updateLong(pos *TrailingPosition, price float64) *StopUpdate {
	if price <= pos.CurrentStop {
		return &StopUpdate{
			Symbol:       pos.Symbol,
			OldStop:      pos.CurrentStop,
			NewStop:      pos.CurrentStop,
			Triggered:    true,
			TriggerPrice: price,
		}
	}

	if price > pos.HighWaterMark {
		pos.HighWaterMark = price
	}

	profit := (price - pos.EntryPrice) / pos.EntryPrice
	if !pos.Activated && profit >= t.config.TriggerPct {
		pos.Activated = true
		t.logger.Debug().
			Str("symbol", pos.Symbol).
			Float64("profit_pct", profit*100).
			Msg("Trailing stop activated")
	}
	if !pos.Activated {
		return nil
	}

	newStop := pos.HighWaterMark * (1 - t.config.OffsetPct)
	// The ratchet only tightens.
	if newStop <= pos.CurrentStop {
		return nil
	}
	oldStop := pos.CurrentStop
	pos.CurrentStop = newStop
	return &StopUpdate{
		Symbol:  pos.Symbol,
		OldStop: oldStop,
		NewStop: newStop,
	}
}

func (t *TrailingStops) updateShort(pos *TrailingPosition, price float64) *StopUpdate {
	if price >= pos.CurrentStop {
		return &StopUpdate{
			Symbol:       pos.Symbol,
			OldStop:      pos.CurrentStop,
			NewStop:      pos.CurrentStop,
			Triggered:    true,
			TriggerPrice: price,
		}
	}

	if price < pos.LowWaterMark {
		pos.LowWaterMark = price
	}

	profit := (pos.EntryPrice - price) / pos.EntryPrice
	if !pos.Activated && profit >= t.config.TriggerPct {
		pos.Activated = true
		t.logger.Debug().
			Str("symbol", pos.Symbol).
			Float64("profit_pct", profit*100).
			Msg("Trailing stop activated")
	}
	if !pos.Activated {
		return nil
	}

	newStop := pos.LowWaterMark * (1 + t.config.OffsetPct)
	if newStop >= pos.CurrentStop {
		return nil
	}
	oldStop := pos.CurrentStop
	pos.CurrentStop = newStop
	return &StopUpdate{
		Symbol:  pos.Symbol,
		OldStop: oldStop,
		NewStop: newStop,
	}
}

// Position returns a copy of a tracked position's trailing state
func (t *TrailingStops) Position(symbol string) (TrailingPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return TrailingPosition{}, false
	}
	return *pos, true
}

// CurrentStop returns the live stop price for a symbol
func (t *TrailingStops) CurrentStop(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	pos, ok := t.positions[symbol]
	if !ok {
		return 0, false
	}
	return pos.CurrentStop, true
}
