package vpa

import (
	"reflect"
	"testing"
	"time"

	"vpa-trading-engine/internal/market"
)

func makeCandle(symbol string, open, high, low, close, volume float64, openTime time.Time) market.Candle {
	return market.Candle{
		Symbol:    symbol,
		Timeframe: market.Timeframe1m,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		OpenTime:  openTime,
		CloseTime: openTime.Add(time.Minute),
		Closed:    true,
	}
}

// trendingHistory builds n closed candles with closes stepping by step per
// bar, spread 2.0, and volumes alternating 90/110 (mean 100, stddev 10).
func trendingHistory(n int, startClose, step float64) []market.Candle {
	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	for i := 0; i < n; i++ {
		close := startClose + step*float64(i)
		vol := 90.0
		if i%2 == 1 {
			vol = 110.0
		}
		candles[i] = makeCandle("BTCUSDT", close-step, close+0.5, close-1.5, close, vol, base.Add(time.Duration(i)*time.Minute))
	}
	return candles
}

func findMatch(matches []Match, kind Pattern) (Match, bool) {
	for _, m := range matches {
		if m.Pattern == kind {
			return m, true
		}
	}
	return Match{}, false
}

func TestDetectorRequiresFullWindow(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())
	window := trendingHistory(10, 100, 0.5)
	if got := d.Detect(window); got != nil {
		t.Errorf("expected nil matches on short window, got %d", len(got))
	}
}

func TestDetectStoppingVolume(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 100, 0.5) // uptrend, last close 109.5
	bar := makeCandle("BTCUSDT", 109.5, 110.0, 105.0, 105.5, 300,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	matches := d.Detect(window)
	m, ok := findMatch(matches, StoppingVolume)
	if !ok {
		t.Fatalf("expected StoppingVolume, got %v", matches)
	}
	if m.Direction != market.DirectionShort {
		t.Errorf("expected SHORT against the prior uptrend, got %s", m.Direction)
	}
	if m.Strength < 0.99 {
		t.Errorf("expected strength near 1.0 for a 20-sigma volume bar, got %.2f", m.Strength)
	}
	if m.Symbol != "BTCUSDT" || m.Timeframe != market.Timeframe1m {
		t.Errorf("match not tagged with source candle: %+v", m)
	}
}

func TestZeroCutoffsFallBackToDefaults(t *testing.T) {
	// A config layer that only carries the volume and spread cutoffs leaves
	// UpperThird/LowerThird at zero; the detector must still classify close
	// position sensibly instead of demanding a close exactly on the extreme.
	d := NewDetector(20, Thresholds{
		UltraHighVolume: 2.5,
		HighVolume:      1.5,
		LowVolume:       -0.5,
		UltraLowVolume:  -1.5,
		WideSpread:      1.5,
		NarrowSpread:    0.75,
	})

	history := trendingHistory(20, 100, 0.5) // uptrend, last close 109.5
	bar := makeCandle("BTCUSDT", 109.5, 110.0, 105.0, 105.5, 300,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	matches := d.Detect(window)
	if _, ok := findMatch(matches, StoppingVolume); !ok {
		t.Fatalf("expected StoppingVolume with zero close-position cutoffs, got %v", matches)
	}
}

func TestDetectIsDeterministic(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 100, 0.5)
	bar := makeCandle("BTCUSDT", 109.5, 110.0, 105.0, 105.5, 300,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	first := d.Detect(window)
	second := d.Detect(window)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("replay produced different matches:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestDetectNoDemand(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 100, 0.5)
	// Narrow up bar on below-average volume into the uptrend.
	bar := makeCandle("BTCUSDT", 109.6, 110.3, 109.4, 110.2, 87,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	matches := d.Detect(window)
	m, ok := findMatch(matches, NoDemand)
	if !ok {
		t.Fatalf("expected NoDemand, got %v", matches)
	}
	if m.Direction != market.DirectionShort {
		t.Errorf("NoDemand should be bearish, got %s", m.Direction)
	}
	if m.Strength <= 0 || m.Strength > 1 {
		t.Errorf("strength out of range: %.2f", m.Strength)
	}
}

func TestDetectTestOfSupport(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 100, 0) // flat range, support 98.5
	bar := makeCandle("BTCUSDT", 99.3, 99.8, 98.0, 99.5, 75,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	matches := d.Detect(window)
	m, ok := findMatch(matches, Test)
	if !ok {
		t.Fatalf("expected Test, got %v", matches)
	}
	if m.Direction != market.DirectionLong {
		t.Errorf("test of support should be bullish, got %s", m.Direction)
	}
}

func TestDetectClimaxLow(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 110, -0.5) // downtrend, last close 100.5
	// Ultra high volume wide down bar closing on its low.
	bar := makeCandle("BTCUSDT", 100.5, 100.6, 95.0, 95.2, 300,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	matches := d.Detect(window)
	m, ok := findMatch(matches, ClimaxLow)
	if !ok {
		t.Fatalf("expected ClimaxLow, got %v", matches)
	}
	if m.Direction != market.DirectionLong {
		t.Errorf("ClimaxLow should be bullish, got %s", m.Direction)
	}
}

func TestDetectNothingOnAverageBar(t *testing.T) {
	d := NewDetector(20, DefaultThresholds())

	history := trendingHistory(20, 100, 0.5)
	// Average volume, average spread, mid-range close.
	bar := makeCandle("BTCUSDT", 109.5, 110.5, 108.5, 109.5, 100,
		history[len(history)-1].CloseTime)
	window := append(history, bar)

	if matches := d.Detect(window); len(matches) != 0 {
		t.Errorf("expected no matches on an unremarkable bar, got %v", matches)
	}
}

func TestTrendDetection(t *testing.T) {
	cases := []struct {
		name string
		step float64
		want market.Direction
	}{
		{"rising closes", 0.5, market.DirectionLong},
		{"falling closes", -0.5, market.DirectionShort},
		{"flat closes", 0, market.DirectionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			history := trendingHistory(20, 100, tc.step)
			if got := detectTrend(history); got != tc.want {
				t.Errorf("detectTrend = %s, want %s", got, tc.want)
			}
		})
	}
}
