package signal

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/confluence"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/vpa"
)

func newTestEngine(requireMacro bool) *Engine {
	return NewEngine(0.5, 0.001, requireMacro, zerolog.Nop())
}

func match(kind vpa.Pattern, dir market.Direction, strength float64) vpa.Match {
	return vpa.Match{
		Pattern:   kind,
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1m,
		Direction: dir,
		Strength:  strength,
	}
}

func confluenceResult(dir market.Direction, aligned int) confluence.Result {
	return confluence.Result{
		Symbol:       "BTCUSDT",
		AlignedCount: aligned,
		Direction:    dir,
	}
}

func TestEvaluateEmitsLongSignal(t *testing.T) {
	e := newTestEngine(false)
	matches := []vpa.Match{match(vpa.Spring, market.DirectionLong, 0.9)}
	conf := confluenceResult(market.DirectionLong, 2)

	sig, reason := e.Evaluate(matches, conf, -0.005, false, false, time.Now())
	if sig == nil {
		t.Fatalf("expected a signal, gated with: %s", reason)
	}
	if sig.Direction != market.DirectionLong {
		t.Errorf("direction = %s, want LONG", sig.Direction)
	}
	if sig.Confidence <= 0 || sig.Confidence > 1 {
		t.Errorf("confidence out of range: %.3f", sig.Confidence)
	}
}

func TestEvaluateGates(t *testing.T) {
	now := time.Now()
	longMatch := []vpa.Match{match(vpa.Spring, market.DirectionLong, 0.9)}
	alignedLong := confluenceResult(market.DirectionLong, 2)

	cases := []struct {
		name          string
		engine        *Engine
		matches       []vpa.Match
		conf          confluence.Result
		emaDeviation  float64
		macroWindow   bool
		macroBlackout bool
	}{
		{
			name:         "pattern below strength floor",
			engine:       newTestEngine(false),
			matches:      []vpa.Match{match(vpa.NoSupply, market.DirectionLong, 0.3)},
			conf:         alignedLong,
			emaDeviation: -0.005,
		},
		{
			name:         "only one dimension aligned",
			engine:       newTestEngine(false),
			matches:      longMatch,
			conf:         confluenceResult(market.DirectionNone, 1),
			emaDeviation: -0.005,
		},
		{
			name:         "confluence opposes pattern",
			engine:       newTestEngine(false),
			matches:      longMatch,
			conf:         confluenceResult(market.DirectionShort, 2),
			emaDeviation: -0.005,
		},
		{
			name:         "price not stretched below EMA",
			engine:       newTestEngine(false),
			matches:      longMatch,
			conf:         alignedLong,
			emaDeviation: 0.004,
		},
		{
			name:         "macro window closed",
			engine:       newTestEngine(true),
			matches:      longMatch,
			conf:         alignedLong,
			emaDeviation: -0.005,
			macroWindow:  false,
		},
		{
			name:          "pre-event blackout",
			engine:        newTestEngine(true),
			matches:       longMatch,
			conf:          alignedLong,
			emaDeviation:  -0.005,
			macroWindow:   true,
			macroBlackout: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, reason := tc.engine.Evaluate(tc.matches, tc.conf, tc.emaDeviation, tc.macroWindow, tc.macroBlackout, now)
			if sig != nil {
				t.Errorf("expected no signal, got %+v", sig)
			}
			if reason == "" {
				t.Error("gated evaluation should carry a reason")
			}
		})
	}
}

func TestEvaluateMacroWindowSatisfied(t *testing.T) {
	e := newTestEngine(true)
	matches := []vpa.Match{match(vpa.ClimaxLow, market.DirectionLong, 0.8)}
	conf := confluenceResult(market.DirectionLong, 3)

	sig, reason := e.Evaluate(matches, conf, -0.01, true, false, time.Now())
	if sig == nil {
		t.Fatalf("expected a signal inside the macro window, gated with: %s", reason)
	}
	if !sig.MacroWindow {
		t.Error("signal should record that the macro window was open")
	}
}

func TestPickDirectionTieBreak(t *testing.T) {
	e := newTestEngine(false)

	t.Run("strongest direction wins", func(t *testing.T) {
		matches := []vpa.Match{
			match(vpa.Upthrust, market.DirectionShort, 0.7),
			match(vpa.Spring, market.DirectionLong, 0.9),
		}
		best, ok := e.pickDirection(matches)
		if !ok || best.Direction != market.DirectionLong {
			t.Errorf("expected the stronger long match, got %+v ok=%v", best, ok)
		}
	})

	t.Run("exact opposing tie emits nothing", func(t *testing.T) {
		matches := []vpa.Match{
			match(vpa.Upthrust, market.DirectionShort, 0.8),
			match(vpa.Spring, market.DirectionLong, 0.8),
		}
		if _, ok := e.pickDirection(matches); ok {
			t.Error("opposing matches of equal strength must not produce a direction")
		}
	})

	t.Run("no matches", func(t *testing.T) {
		if _, ok := e.pickDirection(nil); ok {
			t.Error("empty match list must not produce a direction")
		}
	})
}
