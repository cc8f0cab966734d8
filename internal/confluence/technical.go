package confluence

import (
	"time"

	"vpa-trading-engine/internal/market"
)

// TechnicalScorer reads multi-timeframe EMA alignment. Each timeframe votes
// bullish or bearish when price deviates from its EMA beyond the threshold;
// the score is the net vote, so full agreement across timeframes reaches ±1.
type TechnicalScorer struct {
	history    *market.History
	timeframes []market.Timeframe
	emaPeriod  int
	deviation  float64 // fractional EMA deviation for a timeframe to vote
}

// NewTechnicalScorer scores EMA trend agreement over the given timeframes
func NewTechnicalScorer(history *market.History, timeframes []market.Timeframe, emaPeriod int, deviation float64) *TechnicalScorer {
	if emaPeriod <= 0 {
		emaPeriod = 20
	}
	if deviation <= 0 {
		deviation = 0.001
	}
	if len(timeframes) == 0 {
		timeframes = []market.Timeframe{market.Timeframe1m, market.Timeframe5m, market.Timeframe15m, market.Timeframe1h}
	}
	return &TechnicalScorer{
		history:    history,
		timeframes: timeframes,
		emaPeriod:  emaPeriod,
		deviation:  deviation,
	}
}

// Score computes the technical dimension for symbol at now
func (t *TechnicalScorer) Score(symbol string, now time.Time) DimensionScore {
	score := DimensionScore{
		Dimension: Technical,
		Symbol:    symbol,
		Timestamp: now,
	}

	var bullish, bearish, voting int
	for _, tf := range t.timeframes {
		dev, ok := t.Deviation(symbol, tf)
		if !ok {
			continue
		}
		voting++
		if dev > t.deviation {
			bullish++
		} else if dev < -t.deviation {
			bearish++
		}
	}
	if voting == 0 {
		return score
	}

	score.Score = float64(bullish-bearish) / float64(voting)
	return score
}

// Deviation returns the fractional distance of the last close from the EMA
// on the given timeframe. ok is false when the history is too short.
func (t *TechnicalScorer) Deviation(symbol string, tf market.Timeframe) (float64, bool) {
	closes := t.history.Closes(symbol, tf, 0)
	if len(closes) < t.emaPeriod {
		return 0, false
	}
	ema := EMA(closes, t.emaPeriod)
	if ema == 0 {
		return 0, false
	}
	return (closes[len(closes)-1] - ema) / ema, true
}

// EMA computes an exponential moving average seeded with the SMA of the
// first period values.
func EMA(prices []float64, period int) float64 {
	if len(prices) == 0 {
		return 0
	}
	if len(prices) < period {
		period = len(prices)
	}

	var sma float64
	for _, p := range prices[:period] {
		sma += p
	}
	ema := sma / float64(period)

	multiplier := 2.0 / (float64(period) + 1)
	for _, p := range prices[period:] {
		ema = (p-ema)*multiplier + ema
	}
	return ema
}
