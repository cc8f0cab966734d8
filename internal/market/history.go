package market

import (
	"sync"
)

// History keeps a bounded rolling window of closed candles per
// (symbol, timeframe) for pattern detection and multi-timeframe analysis.
type History struct {
	mu      sync.RWMutex
	maxBars int
	candles map[accumulatorKey][]Candle
}

// NewHistory creates a history store keeping at most maxBars candles per series
func NewHistory(maxBars int) *History {
	if maxBars <= 0 {
		maxBars = 100
	}
	return &History{
		maxBars: maxBars,
		candles: make(map[accumulatorKey][]Candle),
	}
}

// Append records a closed candle, evicting the oldest bar once the window is full
func (h *History) Append(candle Candle) {
	if !candle.Closed {
		return
	}
	key := accumulatorKey{symbol: candle.Symbol, timeframe: candle.Timeframe}

	h.mu.Lock()
	defer h.mu.Unlock()

	series := append(h.candles[key], candle)
	if len(series) > h.maxBars {
		series = series[len(series)-h.maxBars:]
	}
	h.candles[key] = series
}

// Window returns a copy of the most recent n candles for the series,
// oldest first. Fewer than n are returned when the window has not filled yet.
func (h *History) Window(symbol string, tf Timeframe, n int) []Candle {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.candles[accumulatorKey{symbol: symbol, timeframe: tf}]
	if n > 0 && len(series) > n {
		series = series[len(series)-n:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out
}

// LastClose returns the most recent close price for the series
func (h *History) LastClose(symbol string, tf Timeframe) (float64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	series := h.candles[accumulatorKey{symbol: symbol, timeframe: tf}]
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1].Close, true
}

// Closes returns the close prices of the most recent n candles, oldest first
func (h *History) Closes(symbol string, tf Timeframe, n int) []float64 {
	window := h.Window(symbol, tf, n)
	closes := make([]float64, len(window))
	for i, c := range window {
		closes[i] = c.Close
	}
	return closes
}
