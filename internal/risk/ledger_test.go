package risk

import (
	"testing"
	"time"
)

func TestLedgerTripsOnDailyDrawdown(t *testing.T) {
	ledger := NewLedger(10000, 0.05)

	if ok, _ := ledger.CanTrade(); !ok {
		t.Fatal("fresh ledger should allow trading")
	}

	ledger.RecordRealized(-300)
	if ok, _ := ledger.CanTrade(); !ok {
		t.Fatal("3% drawdown should not trip a 5% breaker")
	}

	ledger.RecordRealized(-250)
	ok, reason := ledger.CanTrade()
	if ok {
		t.Fatal("5.5% cumulative drawdown should trip the breaker")
	}
	if reason == "" {
		t.Error("tripped ledger should explain itself")
	}

	// Profits after the trip do not clear the breaker within the same day.
	ledger.RecordRealized(600)
	if ok, _ := ledger.CanTrade(); ok {
		t.Error("breaker must stay set until the day reset")
	}
}

func TestLedgerDayReset(t *testing.T) {
	ledger := NewLedger(10000, 0.05)
	current := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return current }
	ledger.day = current.Truncate(24 * time.Hour)

	ledger.RecordRealized(-600)
	if ok, _ := ledger.CanTrade(); ok {
		t.Fatal("6% drawdown should trip the breaker")
	}

	current = current.Add(4 * time.Hour) // crosses midnight UTC
	if ok, reason := ledger.CanTrade(); !ok {
		t.Fatalf("day boundary should clear the breaker, still blocked: %s", reason)
	}

	snap := ledger.Snapshot()
	if snap.RealizedPnL != 0 {
		t.Errorf("realized P&L should reset at the day boundary, got %.2f", snap.RealizedPnL)
	}
	if snap.EquityStart != 9400 {
		t.Errorf("day-start equity should carry the loss forward, got %.2f", snap.EquityStart)
	}
	if snap.BreakerActive {
		t.Error("snapshot should show the breaker cleared")
	}
}

func TestLedgerTracksDailyStats(t *testing.T) {
	ledger := NewLedger(10000, 0.05)
	current := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return current }
	ledger.day = current.Truncate(24 * time.Hour)

	ledger.RecordRealized(200)
	ledger.RecordRealized(-50)
	ledger.RecordRealized(100)

	snap := ledger.Snapshot()
	if snap.Trades != 3 {
		t.Errorf("trades = %d, want 3", snap.Trades)
	}
	if snap.Wins != 2 || snap.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 2/1", snap.Wins, snap.Losses)
	}
	if snap.EquityHigh != 10200 {
		t.Errorf("equity high = %.2f, want 10200", snap.EquityHigh)
	}

	current = time.Date(2026, 3, 3, 1, 0, 0, 0, time.UTC)
	if snap := ledger.Snapshot(); snap.Trades != 0 || snap.EquityHigh != snap.Equity {
		t.Errorf("day boundary should reset stats, got trades=%d high=%.2f equity=%.2f",
			snap.Trades, snap.EquityHigh, snap.Equity)
	}
}

func TestLedgerIgnoresInvalidPnL(t *testing.T) {
	ledger := NewLedger(10000, 0.05)
	nan := 0.0
	ledger.RecordRealized(nan / nan) // NaN
	if snap := ledger.Snapshot(); snap.RealizedPnL != 0 {
		t.Errorf("NaN must not reach the ledger, realized = %.2f", snap.RealizedPnL)
	}
}

func TestLedgerOnTripCallback(t *testing.T) {
	ledger := NewLedger(10000, 0.05)
	tripped := make(chan string, 1)
	ledger.OnTrip(func(reason string) { tripped <- reason })

	ledger.RecordRealized(-501)

	select {
	case reason := <-tripped:
		if reason == "" {
			t.Error("trip callback should carry the reason")
		}
	case <-time.After(time.Second):
		t.Fatal("trip callback was not invoked")
	}
}
