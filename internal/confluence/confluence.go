package confluence

import (
	"time"

	"vpa-trading-engine/internal/market"
)

// Dimension identifies one of the three analytical dimensions
type Dimension string

const (
	Relational  Dimension = "RELATIONAL"
	Fundamental Dimension = "FUNDAMENTAL"
	Technical   Dimension = "TECHNICAL"
)

// DimensionScore is one dimension's directional reading for a pair.
// Score is in [-1, 1]; the sign is the directional bias. Scores are
// superseded by newer ones, never mutated.
type DimensionScore struct {
	Dimension Dimension `json:"dimension"`
	Symbol    string    `json:"symbol"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// Result combines the three dimension scores into an alignment vote.
// Recomputed per evaluation, never persisted on its own.
type Result struct {
	Symbol       string           `json:"symbol"`
	Relational   DimensionScore   `json:"relational"`
	Fundamental  DimensionScore   `json:"fundamental"`
	Technical    DimensionScore   `json:"technical"`
	AlignedCount int              `json:"aligned_count"`
	Direction    market.Direction `json:"direction"`
	EvaluatedAt  time.Time        `json:"evaluated_at"`
}

// Combine votes the three dimensions into a composite direction. A dimension
// participates when its magnitude exceeds threshold; the composite is the
// majority sign among participants, and Direction stays NONE below two
// aligned dimensions.
func Combine(rel, fund, tech DimensionScore, threshold float64, now time.Time) Result {
	var long, short int
	for _, s := range []DimensionScore{rel, fund, tech} {
		switch {
		case s.Score >= threshold:
			long++
		case s.Score <= -threshold:
			short++
		}
	}

	result := Result{
		Symbol:      rel.Symbol,
		Relational:  rel,
		Fundamental: fund,
		Technical:   tech,
		Direction:   market.DirectionNone,
		EvaluatedAt: now,
	}

	switch {
	case long >= 2:
		result.AlignedCount = long
		result.Direction = market.DirectionLong
	case short >= 2:
		result.AlignedCount = short
		result.Direction = market.DirectionShort
	default:
		if long > short {
			result.AlignedCount = long
		} else {
			result.AlignedCount = short
		}
	}
	return result
}
