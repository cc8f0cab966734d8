package engine

import (
	"testing"
	"time"

	"vpa-trading-engine/internal/confluence"
	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/exchange"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"
	"vpa-trading-engine/internal/vpa"

	"github.com/rs/zerolog"
)

func testEngine() *Engine {
	logger := zerolog.Nop()
	bus := events.NewEventBus()
	history := market.NewHistory(100)
	timeframes := []market.Timeframe{market.Timeframe1m, market.Timeframe5m}

	ledger := risk.NewLedger(10000, 0.05)
	trailing := risk.NewTrailingStops(risk.DefaultTrailingConfig(), logger)
	gateway := exchange.NewMockGateway()
	tracker := orders.NewTracker(
		[]string{"BTCUSDT"}, gateway, ledger, trailing, bus,
		orders.DefaultMachineConfig(), logger,
	)

	return New(Config{
		Symbols:        []string{"BTCUSDT"},
		ReferencePairs: []string{"ETHUSDT"},
		Timeframes:     timeframes,
		RollingWindow:  100,
		AlignThreshold: 0.3,
	}, Deps{
		Bus:        bus,
		History:    history,
		Detector:   vpa.NewDetector(20, vpa.DefaultThresholds()),
		Relational: confluence.NewRelationalScorer(history, []string{"ETHUSDT"}, market.Timeframe1m, 50, logger),
		Calendar:   confluence.NewCalendar(30*time.Minute, time.Hour),
		Technical:  confluence.NewTechnicalScorer(history, timeframes, 20, 0.001),
		Signals:    signal.NewEngine(0.5, 0.001, false, logger),
		RiskMgr:    risk.NewManager(ledger, risk.DefaultManagerConfig(), logger),
		Ledger:     ledger,
		Tracker:    tracker,
	}, logger)
}

func TestStatusReportsPairStates(t *testing.T) {
	e := testEngine()

	status := e.Status()
	if status["breaker_active"] != false {
		t.Errorf("fresh engine reports active breaker")
	}
	states, ok := status["states"].(map[string]orders.State)
	if !ok {
		t.Fatalf("missing pair states in status")
	}
	if states["BTCUSDT"] != orders.StateIdle {
		t.Errorf("BTCUSDT state = %v, want IDLE", states["BTCUSDT"])
	}
}

func TestResetHaltUnknownSymbol(t *testing.T) {
	e := testEngine()
	if err := e.ResetHalt("DOGEUSDT"); err == nil {
		t.Error("expected error for unknown symbol")
	}
	if err := e.ResetHalt("BTCUSDT"); err != nil {
		t.Errorf("unexpected error for known symbol: %v", err)
	}
}

func TestRecentSignalsBounded(t *testing.T) {
	e := testEngine()
	for i := 0; i < recentSignalLimit+10; i++ {
		e.rememberSignal(signal.Signal{Symbol: "BTCUSDT", Confidence: float64(i)})
	}

	recent := e.RecentSignals()
	if len(recent) != recentSignalLimit {
		t.Fatalf("expected %d retained signals, got %d", recentSignalLimit, len(recent))
	}
	if recent[len(recent)-1].Confidence != float64(recentSignalLimit+9) {
		t.Errorf("newest signal not retained: %v", recent[len(recent)-1].Confidence)
	}
}

func TestReferencePairsFeedHistoryOnly(t *testing.T) {
	e := testEngine()

	base := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	e.onCandleClosed(market.Candle{
		Symbol:    "ETHUSDT",
		Timeframe: market.Timeframe1m,
		Open:      2000, High: 2001, Low: 1999, Close: 2000,
		Volume:   5,
		OpenTime: base, CloseTime: base.Add(time.Minute),
		Closed: true,
	})

	if got, ok := e.history.LastClose("ETHUSDT", market.Timeframe1m); !ok || got != 2000 {
		t.Errorf("reference candle not recorded: %v %v", got, ok)
	}
	if len(e.RecentSignals()) != 0 {
		t.Error("reference pair produced a signal")
	}
}

func TestCandleBacklogShedsOldest(t *testing.T) {
	e := testEngine()
	base := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)

	// No worker is draining, so the queue fills; enqueueing must never
	// block the feed path and the newest candle must survive.
	for i := 0; i < 20; i++ {
		open := base.Add(time.Duration(i) * time.Minute)
		e.onCandleClosed(market.Candle{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1m,
			Open:      100, High: 101, Low: 99, Close: 100,
			Volume:   1,
			OpenTime: open, CloseTime: open.Add(time.Minute),
			Closed: true,
		})
	}

	queue := e.work["BTCUSDT"]
	if len(queue) != cap(queue) {
		t.Fatalf("queue length = %d, want full at %d", len(queue), cap(queue))
	}
	var last market.Candle
	for {
		select {
		case c := <-queue:
			last = c
			continue
		default:
		}
		break
	}
	if want := base.Add(19 * time.Minute); !last.OpenTime.Equal(want) {
		t.Errorf("newest queued candle opens at %v, want %v", last.OpenTime, want)
	}
}

func TestSyntheticBookStraddlesLastPrice(t *testing.T) {
	e := testEngine()
	e.OnTick(market.Tick{
		Symbol: "BTCUSDT", Price: 50000, Quantity: 1,
		Timestamp: time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC),
	})

	book := e.bookSnapshot("BTCUSDT", 0)
	bid, ok := book.BestBid()
	if !ok || bid >= 50000 {
		t.Errorf("best bid %v not below last price", bid)
	}
	ask, ok := book.BestAsk()
	if !ok || ask <= 50000 {
		t.Errorf("best ask %v not above last price", ask)
	}
	if len(book.Bids) != len(book.Asks) {
		t.Errorf("asymmetric book: %d bids, %d asks", len(book.Bids), len(book.Asks))
	}
}
