package vpa

import (
	"math"

	"vpa-trading-engine/internal/market"
)

// rule is one row of the pattern table. match and direction are pure
// predicates over the bar metrics; strength maps the triggering measurement
// into [0, 1].
type rule struct {
	kind      Pattern
	match     func(BarMetrics) bool
	direction func(BarMetrics) market.Direction
	strength  func(BarMetrics) float64
}

// zStrength scales a z-score so that 3 sigma maps to full strength
func zStrength(z float64) float64 {
	s := math.Abs(z) / 3.0
	if s > 1 {
		return 1
	}
	return s
}

func fixedDirection(d market.Direction) func(BarMetrics) market.Direction {
	return func(BarMetrics) market.Direction { return d }
}

func volumeStrength(m BarMetrics) float64 { return zStrength(m.VolumeZ) }
func spreadStrength(m BarMetrics) float64 { return zStrength(m.SpreadZ) }

func defaultRules(t Thresholds) []rule {
	return []rule{
		{
			// Ultra high volume wide up bar closing strong at the top of an
			// up move: buying exhaustion.
			kind: ClimaxHigh,
			match: func(m BarMetrics) bool {
				return m.VolumeZ >= t.UltraHighVolume &&
					m.SpreadRatio >= t.WideSpread &&
					m.Bullish &&
					m.ClosePos >= t.UpperThird &&
					m.Trend == market.DirectionLong
			},
			direction: fixedDirection(market.DirectionShort),
			strength:  volumeStrength,
		},
		{
			kind: ClimaxLow,
			match: func(m BarMetrics) bool {
				return m.VolumeZ >= t.UltraHighVolume &&
					m.SpreadRatio >= t.WideSpread &&
					!m.Bullish &&
					m.ClosePos <= t.LowerThird &&
					m.Trend == market.DirectionShort
			},
			direction: fixedDirection(market.DirectionLong),
			strength:  volumeStrength,
		},
		{
			// Up bar on low volume during an up move: the rally lacks demand.
			kind: NoDemand,
			match: func(m BarMetrics) bool {
				return m.VolumeZ <= t.LowVolume &&
					m.SpreadRatio <= t.NarrowSpread &&
					m.Bullish &&
					m.Trend == market.DirectionLong
			},
			direction: fixedDirection(market.DirectionShort),
			strength:  volumeStrength,
		},
		{
			kind: NoSupply,
			match: func(m BarMetrics) bool {
				return m.VolumeZ <= t.LowVolume &&
					m.SpreadRatio <= t.NarrowSpread &&
					!m.Bullish &&
					m.Trend == market.DirectionShort
			},
			direction: fixedDirection(market.DirectionLong),
			strength:  volumeStrength,
		},
		{
			// Extreme volume with the close fighting the prevailing trend:
			// large players absorbing the move.
			kind: StoppingVolume,
			match: func(m BarMetrics) bool {
				if m.VolumeZ < t.UltraHighVolume || m.Trend == market.DirectionNone {
					return false
				}
				if m.Trend == market.DirectionShort {
					return m.ClosePos >= t.UpperThird
				}
				return m.ClosePos <= t.LowerThird
			},
			direction: func(m BarMetrics) market.Direction {
				return m.Trend.Opposite()
			},
			strength: volumeStrength,
		},
		{
			// Ultra low volume probe beyond the recent range that closes
			// back inside: a successful test of the level.
			kind: Test,
			match: func(m BarMetrics) bool {
				return m.VolumeZ <= t.UltraLowVolume &&
					m.ClosedInside &&
					(m.BrokeSupport || m.BrokeResistance)
			},
			direction: func(m BarMetrics) market.Direction {
				if m.BrokeSupport {
					return market.DirectionLong
				}
				return market.DirectionShort
			},
			strength: volumeStrength,
		},
		{
			// Wide spread push above the range that closes weak near the
			// low of the bar.
			kind: Upthrust,
			match: func(m BarMetrics) bool {
				return m.SpreadRatio >= t.WideSpread &&
					m.BrokeResistance &&
					m.ClosePos <= t.LowerThird
			},
			direction: fixedDirection(market.DirectionShort),
			strength:  spreadStrength,
		},
		{
			kind: Spring,
			match: func(m BarMetrics) bool {
				return m.SpreadRatio >= t.WideSpread &&
					m.BrokeSupport &&
					m.ClosePos >= t.UpperThird
			},
			direction: fixedDirection(market.DirectionLong),
			strength:  spreadStrength,
		},
		{
			// High volume that produced almost no spread: effort without
			// result, the move is being absorbed.
			kind: EffortVsResult,
			match: func(m BarMetrics) bool {
				return m.VolumeZ >= t.HighVolume &&
					m.SpreadRatio <= t.NarrowSpread &&
					m.Trend != market.DirectionNone
			},
			direction: func(m BarMetrics) market.Direction {
				return m.Trend.Opposite()
			},
			strength: volumeStrength,
		},
	}
}
