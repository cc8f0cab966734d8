package signal

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/confluence"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/metrics"
	"vpa-trading-engine/internal/vpa"
)

// Signal is a fully gated trade intent. Immutable once emitted and consumed
// exactly once by risk sizing.
type Signal struct {
	Symbol       string            `json:"symbol"`
	Direction    market.Direction  `json:"direction"`
	Timestamp    time.Time         `json:"timestamp"`
	Pattern      vpa.Match         `json:"pattern"`
	Confluence   confluence.Result `json:"confluence"`
	EMADeviation float64           `json:"ema_deviation"`
	MacroWindow  bool              `json:"macro_window"`
	Confidence   float64           `json:"confidence"`
}

// Engine gates pattern, confluence, EMA stretch and the macro window into a
// directional signal. It holds no state between evaluations, so the same
// inputs always produce the same outcome.
type Engine struct {
	strengthFloor   float64
	emaDeviationMin float64
	requireMacro    bool
	logger          zerolog.Logger
}

// NewEngine creates a signal engine with the given gate thresholds
func NewEngine(strengthFloor, emaDeviationMin float64, requireMacro bool, logger zerolog.Logger) *Engine {
	if strengthFloor <= 0 {
		strengthFloor = 0.5
	}
	if emaDeviationMin <= 0 {
		emaDeviationMin = 0.001
	}
	return &Engine{
		strengthFloor:   strengthFloor,
		emaDeviationMin: emaDeviationMin,
		requireMacro:    requireMacro,
		logger:          logger.With().Str("component", "SignalEngine").Logger(),
	}
}

// Evaluate runs the gate for one closed candle. A nil signal with a reason is
// the normal outcome; every condition must hold for a signal to be emitted.
//
// Direction conflicts resolve to the strongest match; an exact strength tie
// between opposing directions emits nothing rather than guessing.
func (e *Engine) Evaluate(
	matches []vpa.Match,
	conf confluence.Result,
	emaDeviation float64,
	macroWindow, macroBlackout bool,
	now time.Time,
) (*Signal, string) {
	best, ok := e.pickDirection(matches)
	if !ok {
		return nil, "no unambiguous pattern above strength floor"
	}

	if conf.AlignedCount < 2 {
		return nil, "fewer than 2 confluence dimensions aligned"
	}
	if conf.Direction != best.Direction {
		return nil, "confluence direction does not match pattern direction"
	}

	// Mean-reversion entry: longs want price stretched below the EMA,
	// shorts want it stretched above.
	switch best.Direction {
	case market.DirectionLong:
		if emaDeviation > -e.emaDeviationMin {
			return nil, "price not stretched below EMA for a long entry"
		}
	case market.DirectionShort:
		if emaDeviation < e.emaDeviationMin {
			return nil, "price not stretched above EMA for a short entry"
		}
	}

	if e.requireMacro {
		if macroBlackout {
			return nil, "inside pre-event blackout"
		}
		if !macroWindow {
			return nil, "outside macro trading window"
		}
	}

	sig := &Signal{
		Symbol:       best.Symbol,
		Direction:    best.Direction,
		Timestamp:    now,
		Pattern:      best,
		Confluence:   conf,
		EMADeviation: emaDeviation,
		MacroWindow:  macroWindow,
		Confidence:   0.4*best.Strength + 0.6*float64(conf.AlignedCount)/3.0,
	}

	metrics.SignalsEmitted.WithLabelValues(sig.Symbol, string(sig.Direction)).Inc()
	e.logger.Info().
		Str("symbol", sig.Symbol).
		Str("direction", string(sig.Direction)).
		Str("pattern", string(best.Pattern)).
		Float64("strength", best.Strength).
		Float64("confidence", sig.Confidence).
		Float64("ema_deviation", emaDeviation).
		Msg("Signal emitted")
	return sig, ""
}

// pickDirection returns the strongest directional match above the floor.
// ok is false when nothing qualifies or opposing directions tie exactly.
func (e *Engine) pickDirection(matches []vpa.Match) (vpa.Match, bool) {
	var bestLong, bestShort vpa.Match
	var haveLong, haveShort bool
	for _, m := range matches {
		if m.Strength < e.strengthFloor {
			continue
		}
		switch m.Direction {
		case market.DirectionLong:
			if !haveLong || m.Strength > bestLong.Strength {
				bestLong = m
				haveLong = true
			}
		case market.DirectionShort:
			if !haveShort || m.Strength > bestShort.Strength {
				bestShort = m
				haveShort = true
			}
		}
	}

	switch {
	case haveLong && haveShort:
		diff := bestLong.Strength - bestShort.Strength
		if math.Abs(diff) < 1e-9 {
			return vpa.Match{}, false
		}
		if diff > 0 {
			return bestLong, true
		}
		return bestShort, true
	case haveLong:
		return bestLong, true
	case haveShort:
		return bestShort, true
	default:
		return vpa.Match{}, false
	}
}
