// Package engine wires the market feed, pattern detection, confluence
// scoring, signal gating, risk sizing and order execution into one
// coordinator. Each trading pair moves through the pipeline independently;
// the risk ledger is the only state shared across pairs.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpa-trading-engine/internal/cache"
	"vpa-trading-engine/internal/confluence"
	"vpa-trading-engine/internal/database"
	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/exchange"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"
	"vpa-trading-engine/internal/vpa"

	"github.com/rs/zerolog"
)

const recentSignalLimit = 50

// Config holds engine wiring configuration
type Config struct {
	Symbols        []string
	ReferencePairs []string
	Timeframes     []market.Timeframe
	RollingWindow  int
	AlignThreshold float64
}

// Engine is the trading pipeline coordinator
type Engine struct {
	cfg    Config
	logger zerolog.Logger

	bus        *events.EventBus
	history    *market.History
	aggregator *market.Aggregator
	detector   *vpa.Detector
	relational *confluence.RelationalScorer
	calendar   *confluence.Calendar
	technical  *confluence.TechnicalScorer
	signals    *signal.Engine
	riskMgr    *risk.Manager
	ledger     *risk.Ledger
	tracker    *orders.Tracker
	feed       *exchange.Feed

	recorder *database.Recorder   // nil when persistence is disabled
	posCache *cache.PositionCache // nil when caching is disabled
	hotState *cache.HotState      // nil when caching is disabled

	work map[string]chan market.Candle // per-pair evaluation queues

	mu         sync.RWMutex
	traded     map[string]bool
	lastPrices map[string]float64
	recent     []signal.Signal
	startedAt  time.Time

	runCtx context.Context
}

// Deps carries the externally constructed pipeline components
type Deps struct {
	Bus        *events.EventBus
	History    *market.History
	Detector   *vpa.Detector
	Relational *confluence.RelationalScorer
	Calendar   *confluence.Calendar
	Technical  *confluence.TechnicalScorer
	Signals    *signal.Engine
	RiskMgr    *risk.Manager
	Ledger     *risk.Ledger
	Tracker    *orders.Tracker
	Recorder   *database.Recorder
	PosCache   *cache.PositionCache
	HotState   *cache.HotState
}

// New creates the engine and hooks the pipeline together. The feed is
// attached separately with SetFeed so paper and live runs share the wiring.
func New(cfg Config, deps Deps, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		logger:     logger.With().Str("component", "engine").Logger(),
		bus:        deps.Bus,
		history:    deps.History,
		detector:   deps.Detector,
		relational: deps.Relational,
		calendar:   deps.Calendar,
		technical:  deps.Technical,
		signals:    deps.Signals,
		riskMgr:    deps.RiskMgr,
		ledger:     deps.Ledger,
		tracker:    deps.Tracker,
		recorder:   deps.Recorder,
		posCache:   deps.PosCache,
		hotState:   deps.HotState,
		traded:     make(map[string]bool),
		lastPrices: make(map[string]float64),
		work:       make(map[string]chan market.Candle, len(cfg.Symbols)),
	}

	for _, symbol := range cfg.Symbols {
		e.traded[symbol] = true
		e.work[symbol] = make(chan market.Candle, 16)
	}

	e.aggregator = market.NewAggregator(cfg.Timeframes, e.onCandleClosed, logger)

	e.bus.Subscribe(events.EventPositionOpened, e.onPositionOpened)
	e.bus.Subscribe(events.EventPositionClosed, e.onPositionClosed)

	return e
}

// SetFeed attaches the market data feed
func (e *Engine) SetFeed(feed *exchange.Feed) {
	e.feed = feed
}

// Run starts the engine and blocks until the context is cancelled
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.runCtx = ctx
	e.startedAt = time.Now().UTC()
	e.mu.Unlock()

	go e.tracker.Run(ctx)
	if e.recorder != nil {
		go e.recorder.Run(ctx)
	}
	for _, queue := range e.work {
		go e.runWorker(ctx, queue)
	}

	if e.feed != nil {
		if err := e.feed.Start(); err != nil {
			return fmt.Errorf("failed to start feed: %w", err)
		}
	}

	if e.hotState != nil {
		go e.publishStatus(ctx)
	}

	e.logger.Info().
		Strs("symbols", e.cfg.Symbols).
		Msg("Engine started")

	<-ctx.Done()

	if e.feed != nil {
		e.feed.Stop()
	}
	if e.recorder != nil {
		e.recorder.Wait()
	}
	return nil
}

// OnTick implements exchange.FeedHandler
func (e *Engine) OnTick(tick market.Tick) {
	e.mu.Lock()
	e.lastPrices[tick.Symbol] = tick.Price
	ctx := e.runCtx
	e.mu.Unlock()

	e.aggregator.OnTick(tick)

	if ctx == nil {
		ctx = context.Background()
	}
	if e.isTraded(tick.Symbol) {
		e.tracker.OnPrice(ctx, tick.Symbol, tick.Price)
	}
}

// OnClosedKline implements exchange.FeedHandler
func (e *Engine) OnClosedKline(candle market.Candle) {
	e.aggregator.OnClosedKline(candle)
}

// onCandleClosed receives every closed candle from the aggregator. History
// is recorded for all symbols; the signal pipeline only runs for traded
// symbols on the primary timeframe, each on its own worker so one pair's
// slow order submission never stalls another pair's evaluation.
func (e *Engine) onCandleClosed(candle market.Candle) {
	e.history.Append(candle)

	if !e.isTraded(candle.Symbol) || candle.Timeframe != e.primaryTimeframe() {
		return
	}

	queue := e.work[candle.Symbol]
	select {
	case queue <- candle:
	default:
		// Worker is behind, likely waiting on the exchange. The newest
		// candle reflects the current state, so shed the oldest queued one.
		select {
		case <-queue:
		default:
		}
		select {
		case queue <- candle:
		default:
		}
		e.logger.Warn().Str("symbol", candle.Symbol).Msg("Evaluation backlog, oldest candle shed")
	}
}

// runWorker evaluates one pair's closed candles in arrival order
func (e *Engine) runWorker(ctx context.Context, queue chan market.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle := <-queue:
			e.evaluate(candle)
		}
	}
}

// publishStatus pushes the status document to Redis on a fixed cadence
func (e *Engine) publishStatus(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.hotState.SetStatus(ctx, e.Status())
		}
	}
}

func (e *Engine) evaluate(candle market.Candle) {
	now := candle.CloseTime
	symbol := candle.Symbol
	tf := candle.Timeframe

	if e.hotState != nil {
		e.hotState.SetLastPrice(e.runContext(), symbol, candle.Close)
	}

	window := e.history.Window(symbol, tf, e.cfg.RollingWindow)
	matches := e.detector.Detect(window)
	for _, m := range matches {
		e.bus.PublishPattern(m.Symbol, string(m.Timeframe), string(m.Pattern), string(m.Direction), m.Strength)
	}

	rel := e.relational.Score(symbol, now)
	fund := e.calendar.Score(symbol, now)
	tech := e.technical.Score(symbol, now)
	conf := confluence.Combine(rel, fund, tech, e.cfg.AlignThreshold, now)

	emaDev, ok := e.technical.Deviation(symbol, tf)
	if !ok {
		return
	}

	sig, reason := e.signals.Evaluate(
		matches, conf, emaDev,
		e.calendar.InTradingWindow(now), e.calendar.InBlackout(now),
		now,
	)
	if sig == nil {
		if len(matches) > 0 {
			e.logger.Debug().Str("symbol", symbol).Str("reason", reason).Msg("Signal gated")
		}
		return
	}

	e.bus.PublishSignal(sig.Symbol, string(sig.Direction), string(sig.Pattern.Pattern), sig.Pattern.Strength, sig.Confidence)
	e.rememberSignal(*sig)
	if e.recorder != nil {
		e.recorder.RecordSignal(sig)
	}
	if e.hotState != nil {
		e.hotState.PushSignal(e.runContext(), sig)
	}

	e.execute(sig, candle)
}

// execute sizes and submits an order for a freshly emitted signal. A pair
// with any in-flight order or open position skips the signal entirely.
func (e *Engine) execute(sig *signal.Signal, candle market.Candle) {
	machine, ok := e.tracker.Machine(sig.Symbol)
	if !ok {
		return
	}
	if machine.State() != orders.StateIdle {
		// An opposing signal on an open position closes it instead of
		// opening a second one.
		if pos, open := machine.Position(); open && machine.State() == orders.StateOpen &&
			pos.Side == sig.Direction.Opposite() {
			if err := machine.Close(e.runContext(), "signal_reverse"); err != nil {
				e.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("Signal-reverse close failed")
			}
			return
		}
		e.logger.Debug().
			Str("symbol", sig.Symbol).
			Str("state", string(machine.State())).
			Msg("Pair busy, signal skipped")
		return
	}

	book := e.bookSnapshot(sig.Symbol, candle.Close)
	if e.hotState != nil {
		e.hotState.SetBook(e.runContext(), book)
	}
	atr := risk.ATR(e.history.Window(sig.Symbol, candle.Timeframe, 15), 14)

	req, err := e.riskMgr.Evaluate(sig, e.ledger.Equity(), book, atr)
	if err != nil {
		e.logger.Info().Err(err).Str("symbol", sig.Symbol).Msg("Signal rejected by risk checks")
		return
	}

	ctx := e.runContext()
	if err := machine.Submit(ctx, req); err != nil {
		e.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("Order submission failed")
	}
}

// bookSnapshot builds a depth snapshot around the last trade price. The tick
// feed carries no depth, so paper sizing walks a synthetic book with evenly
// staggered levels.
func (e *Engine) bookSnapshot(symbol string, lastPrice float64) market.OrderBook {
	e.mu.RLock()
	if p, ok := e.lastPrices[symbol]; ok {
		lastPrice = p
	}
	e.mu.RUnlock()

	const levels = 5
	const step = 0.0005
	const depthQty = 10.0

	book := market.OrderBook{Symbol: symbol, Timestamp: time.Now().UTC()}
	for i := 1; i <= levels; i++ {
		offset := lastPrice * step * float64(i)
		book.Bids = append(book.Bids, market.BookLevel{Price: lastPrice - offset, Quantity: depthQty})
		book.Asks = append(book.Asks, market.BookLevel{Price: lastPrice + offset, Quantity: depthQty})
	}
	return book
}

func (e *Engine) onPositionOpened(event events.Event) {
	symbol, _ := event.Data["symbol"].(string)
	machine, ok := e.tracker.Machine(symbol)
	if !ok {
		return
	}
	pos, ok := machine.Position()
	if !ok {
		return
	}
	if e.posCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.posCache.Save(ctx, &pos); err != nil {
			e.logger.Warn().Err(err).Str("symbol", symbol).Msg("Position cache save failed")
		}
	}
}

func (e *Engine) onPositionClosed(event events.Event) {
	symbol, _ := event.Data["symbol"].(string)
	machine, ok := e.tracker.Machine(symbol)
	if !ok {
		return
	}
	if e.posCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		e.posCache.Delete(ctx, symbol)
	}
	if e.recorder != nil {
		if pos, ok := machine.LastClosed(); ok {
			e.recorder.RecordClosedPosition(&pos)
		}
		e.recorder.RecordLedgerSnapshot(e.ledger.Snapshot())
	}
}

func (e *Engine) rememberSignal(sig signal.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, sig)
	if len(e.recent) > recentSignalLimit {
		e.recent = e.recent[len(e.recent)-recentSignalLimit:]
	}
}

func (e *Engine) isTraded(symbol string) bool {
	return e.traded[symbol]
}

func (e *Engine) primaryTimeframe() market.Timeframe {
	if len(e.cfg.Timeframes) == 0 {
		return market.Timeframe1m
	}
	return e.cfg.Timeframes[0]
}

func (e *Engine) runContext() context.Context {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.runCtx != nil {
		return e.runCtx
	}
	return context.Background()
}

// Status implements the API status surface
func (e *Engine) Status() map[string]interface{} {
	e.mu.RLock()
	startedAt := e.startedAt
	e.mu.RUnlock()

	snap := e.ledger.Snapshot()
	return map[string]interface{}{
		"symbols":        e.cfg.Symbols,
		"timeframes":     timeframeStrings(e.cfg.Timeframes),
		"started_at":     startedAt,
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
		"breaker_active": snap.BreakerActive,
		"equity":         snap.Equity,
		"states":         e.PairStates(),
	}
}

// Positions returns open positions keyed by symbol
func (e *Engine) Positions() map[string]*orders.Position {
	out := make(map[string]*orders.Position)
	for _, pos := range e.tracker.Positions() {
		copied := pos
		out[pos.Symbol] = &copied
	}
	return out
}

// PairStates returns the state machine state per traded pair
func (e *Engine) PairStates() map[string]orders.State {
	return e.tracker.States()
}

// LedgerSnapshot returns the current risk ledger snapshot
func (e *Engine) LedgerSnapshot() risk.LedgerSnapshot {
	return e.ledger.Snapshot()
}

// RecentSignals returns the most recently emitted signals, oldest first
func (e *Engine) RecentSignals() []signal.Signal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]signal.Signal, len(e.recent))
	copy(out, e.recent)
	return out
}

// ResetHalt clears a pair halt after manual review
func (e *Engine) ResetHalt(symbol string) error {
	machine, ok := e.tracker.Machine(symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %s", symbol)
	}
	machine.ResetHalt()
	return nil
}

func timeframeStrings(tfs []market.Timeframe) []string {
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = string(tf)
	}
	return out
}
