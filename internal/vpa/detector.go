package vpa

import (
	"math"
	"time"

	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/metrics"
)

// Pattern represents a volume/price analysis pattern
type Pattern string

const (
	ClimaxHigh     Pattern = "CLIMAX_HIGH"      // Ultra high volume, wide spread buying exhaustion
	ClimaxLow      Pattern = "CLIMAX_LOW"       // Ultra high volume selling climax
	NoDemand       Pattern = "NO_DEMAND"        // Low volume up bar in an up move
	NoSupply       Pattern = "NO_SUPPLY"        // Low volume down bar in a down move
	StoppingVolume Pattern = "STOPPING_VOLUME"  // Extreme volume with a close against the trend
	Test           Pattern = "TEST"             // Low volume probe of support/resistance
	Upthrust       Pattern = "UPTHRUST"         // Wide spread up bar closing weak
	Spring         Pattern = "SPRING"           // Wide spread down bar closing strong
	EffortVsResult Pattern = "EFFORT_VS_RESULT" // High volume, minimal price movement
)

// Match is one detected pattern on a closed candle. Read-only after creation.
type Match struct {
	Pattern       Pattern          `json:"pattern"`
	Symbol        string           `json:"symbol"`
	Timeframe     market.Timeframe `json:"timeframe"`
	Candle        market.Candle    `json:"candle"`
	Direction     market.Direction `json:"direction"`
	Strength      float64          `json:"strength"` // 0.0 to 1.0
	VolumeZScore  float64          `json:"volume_z_score"`
	SpreadRatio   float64          `json:"spread_ratio"`
	ClosePosition float64          `json:"close_position"`
	DetectedAt    time.Time        `json:"detected_at"`
}

// Thresholds holds the detector's tunable cutoffs
type Thresholds struct {
	UltraHighVolume float64 // volume z-score for climax/stopping bars
	HighVolume      float64 // volume z-score for effort bars
	LowVolume       float64 // volume z-score below which a bar is "low volume"
	UltraLowVolume  float64 // volume z-score for test bars
	WideSpread      float64 // spread ratio above which a bar is "wide"
	NarrowSpread    float64 // spread ratio below which a bar is "narrow"
	UpperThird      float64 // close position marking a strong close
	LowerThird      float64 // close position marking a weak close
}

// DefaultThresholds returns the standard VPA cutoffs
func DefaultThresholds() Thresholds {
	return Thresholds{
		UltraHighVolume: 2.5,
		HighVolume:      1.5,
		LowVolume:       -0.5,
		UltraLowVolume:  -1.5,
		WideSpread:      1.5,
		NarrowSpread:    0.75,
		UpperThird:      0.67,
		LowerThird:      0.33,
	}
}

// Detector classifies closed candles into VPA patterns using a rolling
// window of prior candles. Detection is a pure function of the window, so a
// replay over the same history produces identical matches.
type Detector struct {
	lookback   int
	thresholds Thresholds
	rules      []rule
}

// withDefaults fills zero-valued cutoffs from DefaultThresholds. Zero is
// never a usable cutoff for any of them, so absence and zero read the same.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.UltraHighVolume == 0 {
		t.UltraHighVolume = d.UltraHighVolume
	}
	if t.HighVolume == 0 {
		t.HighVolume = d.HighVolume
	}
	if t.LowVolume == 0 {
		t.LowVolume = d.LowVolume
	}
	if t.UltraLowVolume == 0 {
		t.UltraLowVolume = d.UltraLowVolume
	}
	if t.WideSpread == 0 {
		t.WideSpread = d.WideSpread
	}
	if t.NarrowSpread == 0 {
		t.NarrowSpread = d.NarrowSpread
	}
	if t.UpperThird == 0 {
		t.UpperThird = d.UpperThird
	}
	if t.LowerThird == 0 {
		t.LowerThird = d.LowerThird
	}
	return t
}

// NewDetector creates a detector with the given rolling-window length.
// Zero-valued cutoffs take their defaults.
func NewDetector(lookback int, thresholds Thresholds) *Detector {
	if lookback <= 0 {
		lookback = 20
	}
	thresholds = thresholds.withDefaults()
	return &Detector{
		lookback:   lookback,
		thresholds: thresholds,
		rules:      defaultRules(thresholds),
	}
}

// Lookback returns the rolling-window length the detector requires
func (d *Detector) Lookback() int {
	return d.lookback
}

// Detect evaluates every rule against the newest candle in window. The last
// element is the candle under test, the preceding elements are its history.
// An empty result is a valid outcome; several rules may match the same bar.
func (d *Detector) Detect(window []market.Candle) []Match {
	if len(window) < d.lookback+1 {
		return nil
	}

	current := window[len(window)-1]
	history := window[:len(window)-1]
	if len(history) > d.lookback {
		history = history[len(history)-d.lookback:]
	}

	m := computeBarMetrics(current, history)

	var matches []Match
	for _, r := range d.rules {
		if !r.match(m) {
			continue
		}
		match := Match{
			Pattern:       r.kind,
			Symbol:        current.Symbol,
			Timeframe:     current.Timeframe,
			Candle:        current,
			Direction:     r.direction(m),
			Strength:      r.strength(m),
			VolumeZScore:  m.VolumeZ,
			SpreadRatio:   m.SpreadRatio,
			ClosePosition: m.ClosePos,
			DetectedAt:    current.CloseTime,
		}
		metrics.PatternsDetected.WithLabelValues(current.Symbol, string(r.kind)).Inc()
		matches = append(matches, match)
	}
	return matches
}

// BarMetrics are the per-bar measurements the rule table evaluates
type BarMetrics struct {
	VolumeZ     float64 // volume z-score against the rolling mean
	SpreadZ     float64 // spread z-score against the rolling mean
	SpreadRatio float64 // current spread over average spread (1.0 = average)
	ClosePos    float64 // 0 = closed at low, 1 = closed at high
	Bullish     bool
	Trend       market.Direction // short-term trend of the history window

	// Support/resistance context for test bars
	BrokeSupport    bool
	BrokeResistance bool
	ClosedInside    bool
}

func computeBarMetrics(current market.Candle, history []market.Candle) BarMetrics {
	volumes := make([]float64, len(history))
	spreads := make([]float64, len(history))
	support := math.Inf(1)
	resistance := math.Inf(-1)
	for i, c := range history {
		volumes[i] = c.Volume
		spreads[i] = c.Spread()
		if c.Low < support {
			support = c.Low
		}
		if c.High > resistance {
			resistance = c.High
		}
	}

	volMean, volStd := meanStd(volumes)
	sprMean, sprStd := meanStd(spreads)

	m := BarMetrics{
		ClosePos: current.ClosePosition(),
		Bullish:  current.IsBullish(),
		Trend:    detectTrend(history),
	}
	if volStd > 0 {
		m.VolumeZ = (current.Volume - volMean) / volStd
	}
	if sprStd > 0 {
		m.SpreadZ = (current.Spread() - sprMean) / sprStd
	}
	m.SpreadRatio = 1.0
	if sprMean > 0 {
		m.SpreadRatio = current.Spread() / sprMean
	}

	m.BrokeSupport = current.Low < support
	m.BrokeResistance = current.High > resistance
	m.ClosedInside = current.Close >= support && current.Close <= resistance

	return m
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

// detectTrend fits a line through the last five closes and classifies the
// normalized slope.
func detectTrend(history []market.Candle) market.Direction {
	const bars = 5
	if len(history) < bars {
		return market.DirectionNone
	}
	closes := history[len(history)-bars:]

	// Least-squares slope over x = 0..bars-1.
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range closes {
		x := float64(i)
		sumX += x
		sumY += c.Close
		sumXY += x * c.Close
		sumXX += x * x
	}
	n := float64(bars)
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return market.DirectionNone
	}
	slope := (n*sumXY - sumX*sumY) / denom

	avg := sumY / n
	if avg == 0 {
		return market.DirectionNone
	}
	normalized := slope / avg * 100

	switch {
	case normalized > 0.05:
		return market.DirectionLong
	case normalized < -0.05:
		return market.DirectionShort
	default:
		return market.DirectionNone
	}
}
