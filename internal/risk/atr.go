package risk

import (
	"math"

	"vpa-trading-engine/internal/market"
)

// ATR computes the average true range over the last period bars of the
// window (oldest first). Returns 0 when the window is too short.
func ATR(window []market.Candle, period int) float64 {
	if period <= 0 {
		period = 14
	}
	if len(window) < period+1 {
		return 0
	}

	bars := window[len(window)-period-1:]
	var sum float64
	for i := 1; i < len(bars); i++ {
		cur := bars[i]
		prevClose := bars[i-1].Close
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prevClose), math.Abs(cur.Low-prevClose)))
		sum += tr
	}
	return sum / float64(period)
}
