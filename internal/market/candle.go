package market

import (
	"time"
)

// Timeframe represents a supported candle interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
)

// AllTimeframes returns all supported timeframes for multi-timeframe analysis
var AllTimeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h}

// Duration returns the wall-clock length of the timeframe
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	default:
		return time.Minute
	}
}

// Tick is a single trade/price update from the exchange feed
type Tick struct {
	Symbol    string
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// Candle is one OHLCV bar. Once Closed is true the candle is immutable and
// may be shared across goroutines without synchronization.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Closed    bool      `json:"closed"`
}

// Spread returns the high-low range of the bar
func (c Candle) Spread() float64 {
	return c.High - c.Low
}

// Body returns the absolute open-close distance
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// IsBullish reports whether the bar closed at or above its open
func (c Candle) IsBullish() bool {
	return c.Close >= c.Open
}

// ClosePosition returns where the close sits within the bar's range:
// 0.0 = closed at the low, 1.0 = closed at the high, 0.5 for zero-spread bars.
func (c Candle) ClosePosition() float64 {
	spread := c.Spread()
	if spread == 0 {
		return 0.5
	}
	return (c.Close - c.Low) / spread
}
