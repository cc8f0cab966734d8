package risk

import (
	"testing"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
)

func newTestTrailing() *TrailingStops {
	return NewTrailingStops(TrailingConfig{TriggerPct: 0.02, OffsetPct: 0.01}, zerolog.Nop())
}

func TestTrailingStopActivatesAndRatchets(t *testing.T) {
	ts := newTestTrailing()
	ts.Track("BTCUSDT", market.DirectionLong, 100.0, 98.0)

	// Below the 2% trigger: stop untouched.
	if update := ts.OnPrice("BTCUSDT", 101.0); update != nil {
		t.Errorf("stop moved before activation: %+v", update)
	}

	// 3% profit activates the trail: stop moves to 103 * 0.99 = 101.97.
	update := ts.OnPrice("BTCUSDT", 103.0)
	if update == nil || update.Triggered {
		t.Fatalf("expected a stop movement, got %+v", update)
	}
	if update.NewStop <= 98.0 {
		t.Errorf("stop should have ratcheted above the original, got %.2f", update.NewStop)
	}
	firstStop := update.NewStop

	// Price retreats: the stop must not loosen.
	if update := ts.OnPrice("BTCUSDT", 102.5); update != nil && !update.Triggered {
		t.Errorf("stop moved on a retreat: %+v", update)
	}
	if stop, _ := ts.CurrentStop("BTCUSDT"); stop != firstStop {
		t.Errorf("stop loosened from %.2f to %.2f", firstStop, stop)
	}

	// New high tightens further.
	update = ts.OnPrice("BTCUSDT", 105.0)
	if update == nil || update.NewStop <= firstStop {
		t.Errorf("new high should tighten the stop, got %+v", update)
	}
}

func TestTrailingStopTriggerLong(t *testing.T) {
	ts := newTestTrailing()
	ts.Track("BTCUSDT", market.DirectionLong, 100.0, 98.0)

	update := ts.OnPrice("BTCUSDT", 97.5)
	if update == nil || !update.Triggered {
		t.Fatalf("price through the stop should trigger, got %+v", update)
	}
	if update.TriggerPrice != 97.5 {
		t.Errorf("trigger price = %.2f, want 97.5", update.TriggerPrice)
	}
}

func TestTrailingStopShortRatchetsDown(t *testing.T) {
	ts := newTestTrailing()
	ts.Track("ETHUSDT", market.DirectionShort, 100.0, 102.0)

	// 3% profit: stop moves to 97 * 1.01 = 97.97.
	update := ts.OnPrice("ETHUSDT", 97.0)
	if update == nil || update.Triggered {
		t.Fatalf("expected a stop movement, got %+v", update)
	}
	if update.NewStop >= 102.0 {
		t.Errorf("short stop should have tightened below the original, got %.2f", update.NewStop)
	}
	firstStop := update.NewStop

	// Bounce: stop stays put.
	ts.OnPrice("ETHUSDT", 97.5)
	if stop, _ := ts.CurrentStop("ETHUSDT"); stop != firstStop {
		t.Errorf("short stop loosened from %.2f to %.2f", firstStop, stop)
	}

	// Price up through the stop triggers.
	trigger := ts.OnPrice("ETHUSDT", firstStop+0.1)
	if trigger == nil || !trigger.Triggered {
		t.Fatalf("expected a trigger, got %+v", trigger)
	}
}

func TestTrailingUntrack(t *testing.T) {
	ts := newTestTrailing()
	ts.Track("BTCUSDT", market.DirectionLong, 100.0, 98.0)
	ts.Untrack("BTCUSDT")

	if update := ts.OnPrice("BTCUSDT", 50.0); update != nil {
		t.Errorf("untracked symbol produced an update: %+v", update)
	}
	if _, ok := ts.Position("BTCUSDT"); ok {
		t.Error("untracked position still queryable")
	}
}
