package market

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/metrics"
)

// CandleHandler receives closed, immutable candles in boundary order
type CandleHandler func(Candle)

type accumulatorKey struct {
	symbol    string
	timeframe Timeframe
}

// Aggregator rolls raw ticks into closed candles, one accumulator per
// (symbol, timeframe). Ticks arriving after their candle boundary has closed
// are dropped and counted, never applied retroactively.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []Timeframe
	open       map[accumulatorKey]*Candle
	lastClosed map[accumulatorKey]time.Time
	lastTick   map[accumulatorKey]time.Time // newest tick applied per accumulator
	handler    CandleHandler
	logger     zerolog.Logger

	lateTicks int64
}

// NewAggregator creates an aggregator that builds candles for the given
// timeframes and delivers closed candles to handler.
func NewAggregator(timeframes []Timeframe, handler CandleHandler, logger zerolog.Logger) *Aggregator {
	if len(timeframes) == 0 {
		timeframes = []Timeframe{Timeframe1m}
	}
	return &Aggregator{
		timeframes: timeframes,
		open:       make(map[accumulatorKey]*Candle),
		lastClosed: make(map[accumulatorKey]time.Time),
		lastTick:   make(map[accumulatorKey]time.Time),
		handler:    handler,
		logger:     logger.With().Str("component", "Aggregator").Logger(),
	}
}

// OnTick updates the open accumulators for the tick's symbol. Crossing a
// timeframe boundary closes the previous candle and emits it before the tick
// is applied to a fresh accumulator.
func (a *Aggregator) OnTick(tick Tick) {
	a.mu.Lock()

	var closed []Candle
	for _, tf := range a.timeframes {
		if c := a.applyTick(tick, tf); c != nil {
			closed = append(closed, *c)
		}
	}
	a.mu.Unlock()

	// Handler runs outside the lock so a slow consumer cannot stall
	// accumulation for other timeframes.
	for _, c := range closed {
		metrics.CandlesClosed.WithLabelValues(c.Symbol, string(c.Timeframe)).Inc()
		a.handler(c)
	}
}

// applyTick returns the candle closed by this tick, if any. Caller holds the lock.
func (a *Aggregator) applyTick(tick Tick, tf Timeframe) *Candle {
	key := accumulatorKey{symbol: tick.Symbol, timeframe: tf}
	boundary := tick.Timestamp.Truncate(tf.Duration())

	// Late tick: belongs to a boundary that has already been closed and
	// emitted. Revising an emitted candle would invalidate every pattern
	// already derived from it, so the tick is dropped.
	if last, ok := a.lastClosed[key]; ok && !boundary.After(last) {
		a.lateTicks++
		metrics.LateTicksDropped.WithLabelValues(tick.Symbol, string(tf)).Inc()
		a.logger.Debug().
			Str("symbol", tick.Symbol).
			Str("timeframe", string(tf)).
			Time("tick_time", tick.Timestamp).
			Time("closed_boundary", last).
			Msg("Dropped late tick")
		return nil
	}

	cur := a.open[key]
	if cur == nil {
		a.open[key] = newAccumulator(tick, tf, boundary)
		a.lastTick[key] = tick.Timestamp
		return nil
	}

	if boundary.After(cur.OpenTime) {
		// Boundary elapsed: seal the previous candle and start fresh. A
		// kline may have closed this boundary already, in which case the
		// tick-built twin is discarded rather than emitted twice.
		sealed := cur
		sealed.Closed = true
		a.open[key] = newAccumulator(tick, tf, boundary)
		a.lastTick[key] = tick.Timestamp
		if last, ok := a.lastClosed[key]; ok && !sealed.OpenTime.After(last) {
			a.lateTicks++
			metrics.LateTicksDropped.WithLabelValues(tick.Symbol, string(tf)).Inc()
			return nil
		}
		a.lastClosed[key] = sealed.OpenTime
		return sealed
	}

	// A jitter-delayed tick still contributes range and volume, but only
	// the newest tick may set the close.
	if !tick.Timestamp.Before(a.lastTick[key]) {
		cur.Close = tick.Price
		a.lastTick[key] = tick.Timestamp
	}
	if tick.Price > cur.High {
		cur.High = tick.Price
	}
	if tick.Price < cur.Low {
		cur.Low = tick.Price
	}
	cur.Volume += tick.Quantity
	return nil
}

func newAccumulator(tick Tick, tf Timeframe, boundary time.Time) *Candle {
	return &Candle{
		Symbol:    tick.Symbol,
		Timeframe: tf,
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Volume:    tick.Quantity,
		OpenTime:  boundary,
		CloseTime: boundary.Add(tf.Duration()),
	}
}

// OnClosedKline accepts an already-closed candle from an exchange kline
// stream, bypassing tick accumulation. Out-of-order or duplicate candles are
// dropped, preserving boundary-ordered emission.
func (a *Aggregator) OnClosedKline(candle Candle) {
	key := accumulatorKey{symbol: candle.Symbol, timeframe: candle.Timeframe}

	a.mu.Lock()
	if last, ok := a.lastClosed[key]; ok && !candle.OpenTime.After(last) {
		a.lateTicks++
		metrics.LateTicksDropped.WithLabelValues(candle.Symbol, string(candle.Timeframe)).Inc()
		a.mu.Unlock()
		return
	}
	a.lastClosed[key] = candle.OpenTime
	a.mu.Unlock()

	candle.Closed = true
	metrics.CandlesClosed.WithLabelValues(candle.Symbol, string(candle.Timeframe)).Inc()
	a.handler(candle)
}

// LateTickCount returns the number of ticks dropped as late so far
func (a *Aggregator) LateTickCount() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lateTicks
}
