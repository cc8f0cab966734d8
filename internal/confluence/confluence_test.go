package confluence

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func dim(d Dimension, score float64) DimensionScore {
	return DimensionScore{Dimension: d, Symbol: "BTCUSDT", Score: score}
}

func TestCombineTwoOfThreeLong(t *testing.T) {
	now := time.Now()
	result := Combine(dim(Relational, 0.6), dim(Fundamental, 0), dim(Technical, 0.7), 0.3, now)

	if result.AlignedCount != 2 {
		t.Errorf("aligned count = %d, want 2", result.AlignedCount)
	}
	if result.Direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG", result.Direction)
	}
}

func TestCombineDirectionNoneBelowTwoAligned(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name             string
		rel, fund, tech  float64
		wantAligned      int
		wantDirection    market.Direction
	}{
		{"all quiet", 0.1, -0.2, 0.0, 0, market.DirectionNone},
		{"single long", 0.8, 0.1, -0.2, 1, market.DirectionNone},
		{"split vote", 0.8, -0.9, 0.1, 1, market.DirectionNone},
		{"three short", -0.5, -0.6, -0.9, 3, market.DirectionShort},
		{"two short one long", -0.5, -0.6, 0.9, 2, market.DirectionShort},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := Combine(dim(Relational, tc.rel), dim(Fundamental, tc.fund), dim(Technical, tc.tech), 0.3, now)
			if result.AlignedCount != tc.wantAligned {
				t.Errorf("aligned count = %d, want %d", result.AlignedCount, tc.wantAligned)
			}
			if result.Direction != tc.wantDirection {
				t.Errorf("direction = %s, want %s", result.Direction, tc.wantDirection)
			}
			if result.AlignedCount < 0 || result.AlignedCount > 3 {
				t.Errorf("aligned count out of range: %d", result.AlignedCount)
			}
			if result.AlignedCount < 2 && result.Direction != market.DirectionNone {
				t.Errorf("direction %s with only %d aligned", result.Direction, result.AlignedCount)
			}
		})
	}
}

func TestCalendarScoreInsideWindow(t *testing.T) {
	release := time.Date(2026, 2, 11, 13, 30, 0, 0, time.UTC)
	cal := NewCalendar(30*time.Minute, 60*time.Minute)
	cal.Add(MacroEvent{
		Kind:        EventCPI,
		ReleaseTime: release,
		Forecast:    3.0,
		Actual:      3.4, // hot inflation print
		Released:    true,
	})

	// Just after the release: CPI above forecast is crypto bearish.
	score := cal.Score("BTCUSDT", release.Add(time.Minute))
	if score.Score >= 0 {
		t.Errorf("hot CPI should score bearish, got %.2f", score.Score)
	}

	// The score decays toward zero across the window.
	later := cal.Score("BTCUSDT", release.Add(45*time.Minute))
	if math.Abs(later.Score) >= math.Abs(score.Score) {
		t.Errorf("score should decay: early %.3f, later %.3f", score.Score, later.Score)
	}

	// Outside the window the dimension is silent.
	after := cal.Score("BTCUSDT", release.Add(61*time.Minute))
	if after.Score != 0 {
		t.Errorf("score outside window = %.3f, want 0", after.Score)
	}
}

func TestCalendarWindows(t *testing.T) {
	release := time.Date(2026, 2, 11, 13, 30, 0, 0, time.UTC)
	cal := NewCalendar(30*time.Minute, 60*time.Minute)
	cal.Add(MacroEvent{Kind: EventNFP, ReleaseTime: release, Forecast: 180, Actual: 0})

	if !cal.InBlackout(release.Add(-10 * time.Minute)) {
		t.Error("10 minutes before a release should be blacked out")
	}
	if cal.InBlackout(release.Add(-2 * time.Hour)) {
		t.Error("2 hours before a release should not be blacked out")
	}
	if cal.InTradingWindow(release.Add(5 * time.Minute)) {
		t.Error("unreleased event must not open a trading window")
	}

	cal.Add(MacroEvent{Kind: EventNFP, ReleaseTime: release, Forecast: 180, Actual: 210, Released: true})
	if !cal.InTradingWindow(release.Add(5 * time.Minute)) {
		t.Error("released event should open the trading window")
	}
	if cal.InTradingWindow(release.Add(2 * time.Hour)) {
		t.Error("trading window should close after the post-release duration")
	}
}

func seedHistory(h *market.History, symbol string, tf market.Timeframe, closes []float64) {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	for i, c := range closes {
		h.Append(market.Candle{
			Symbol:    symbol,
			Timeframe: tf,
			Open:      c,
			High:      c + 0.5,
			Low:       c - 0.5,
			Close:     c,
			Volume:    100,
			OpenTime:  base.Add(time.Duration(i) * tf.Duration()),
			CloseTime: base.Add(time.Duration(i+1) * tf.Duration()),
			Closed:    true,
		})
	}
}

func risingCloses(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestTechnicalScoreAllTimeframesBullish(t *testing.T) {
	h := market.NewHistory(100)
	tfs := []market.Timeframe{market.Timeframe1m, market.Timeframe5m}
	for _, tf := range tfs {
		seedHistory(h, "BTCUSDT", tf, risingCloses(30, 100, 1))
	}

	scorer := NewTechnicalScorer(h, tfs, 20, 0.001)
	score := scorer.Score("BTCUSDT", time.Now())
	if score.Score != 1.0 {
		t.Errorf("both timeframes rising should score 1.0, got %.2f", score.Score)
	}

	dev, ok := scorer.Deviation("BTCUSDT", market.Timeframe1m)
	if !ok || dev <= 0 {
		t.Errorf("price above EMA should have positive deviation, got %.4f ok=%v", dev, ok)
	}
}

func TestTechnicalScoreInsufficientHistory(t *testing.T) {
	h := market.NewHistory(100)
	seedHistory(h, "BTCUSDT", market.Timeframe1m, risingCloses(5, 100, 1))

	scorer := NewTechnicalScorer(h, []market.Timeframe{market.Timeframe1m}, 20, 0.001)
	if score := scorer.Score("BTCUSDT", time.Now()); score.Score != 0 {
		t.Errorf("short history should score 0, got %.2f", score.Score)
	}
}

func TestEMAConvergesToConstant(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 250
	}
	if got := EMA(prices, 20); math.Abs(got-250) > 1e-9 {
		t.Errorf("EMA of constant series = %.6f, want 250", got)
	}
}

// closesFromReturns builds a close series from per-bar fractional returns
func closesFromReturns(start float64, returns []float64) []float64 {
	out := make([]float64, len(returns)+1)
	out[0] = start
	for i, r := range returns {
		out[i+1] = out[i] * (1 + r)
	}
	return out
}

func TestRelationalLaggardInheritsBias(t *testing.T) {
	h := market.NewHistory(100)
	// Target moves at exactly half the reference's bar returns, so the two
	// are perfectly correlated while the target lags every reference move.
	refReturns := make([]float64, 39)
	targetReturns := make([]float64, 39)
	for i := range refReturns {
		r := 0.02
		if i%2 == 1 {
			r = -0.01
		}
		refReturns[i] = r
		targetReturns[i] = r / 2
	}
	seedHistory(h, "ETHUSDT", market.Timeframe1m, closesFromReturns(100, refReturns))
	seedHistory(h, "BTCUSDT", market.Timeframe1m, closesFromReturns(50, targetReturns))

	scorer := NewRelationalScorer(h, []string{"ETHUSDT"}, market.Timeframe1m, 40, testLogger())
	score := scorer.Score("BTCUSDT", time.Now())
	if score.Score <= 0 {
		t.Errorf("lagging behind a correlated rising reference should bias long, got %.3f", score.Score)
	}
	if score.Score < -1 || score.Score > 1 {
		t.Errorf("score out of range: %.3f", score.Score)
	}
}

func TestRelationalNoReferenceData(t *testing.T) {
	h := market.NewHistory(100)
	seedHistory(h, "BTCUSDT", market.Timeframe1m, risingCloses(40, 100, 1))

	scorer := NewRelationalScorer(h, []string{"ETHUSDT"}, market.Timeframe1m, 40, testLogger())
	if score := scorer.Score("BTCUSDT", time.Now()); score.Score != 0 {
		t.Errorf("missing reference history should score 0, got %.3f", score.Score)
	}
}
