package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"vpa-trading-engine/internal/metrics"
)

// LedgerSnapshot is a point-in-time copy of the ledger for persistence and
// status queries.
type LedgerSnapshot struct {
	Day            time.Time `json:"day"`
	EquityStart    float64   `json:"equity_start"`
	Equity         float64   `json:"equity"`
	EquityHigh     float64   `json:"equity_high"` // day's high-water mark
	RealizedPnL    float64   `json:"realized_pnl"`
	DrawdownPct    float64   `json:"drawdown_pct"`
	Trades         int       `json:"trades"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	BreakerActive  bool      `json:"breaker_active"`
	BreakerReason  string    `json:"breaker_reason"`
	BreakerTripped time.Time `json:"breaker_tripped,omitempty"`
}

// Ledger tracks realized P&L for the current trading day and owns the
// circuit-breaker flag. It is the single serialization point shared across
// all pair workers: every order consults it before submission, every
// realized close writes into it, and the breaker trip is an atomic
// check-and-set under the same lock.
type Ledger struct {
	mu            sync.Mutex
	day           time.Time // UTC trading-day boundary
	equityStart   float64   // equity at the day boundary
	equity        float64
	equityHigh    float64
	realizedPnL   float64
	trades        int
	wins          int
	losses        int
	drawdownLimit float64 // fraction of day-start equity, e.g. 0.05
	breakerActive bool
	breakerReason string
	trippedAt     time.Time
	onTrip        func(reason string)
	now           func() time.Time
}

// NewLedger creates a ledger with the given starting equity and daily
// drawdown limit (fraction of day-start equity).
func NewLedger(equity, drawdownLimit float64) *Ledger {
	if drawdownLimit <= 0 {
		drawdownLimit = 0.05
	}
	now := time.Now
	return &Ledger{
		day:           now().UTC().Truncate(24 * time.Hour),
		equityStart:   equity,
		equity:        equity,
		equityHigh:    equity,
		drawdownLimit: drawdownLimit,
		now:           now,
	}
}

// OnTrip sets the callback invoked when the breaker trips
func (l *Ledger) OnTrip(handler func(reason string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onTrip = handler
}

// CanTrade reports whether new orders may be submitted. Crossing a day
// boundary resets the daily counters and clears the breaker before the
// check.
func (l *Ledger) CanTrade() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.resetIfNewDay()

	if l.breakerActive {
		return false, fmt.Sprintf("circuit breaker active since %s: %s",
			l.trippedAt.UTC().Format(time.RFC3339), l.breakerReason)
	}
	return true, ""
}

// RecordRealized applies a realized P&L amount to the day's running total.
// When the cumulative daily loss reaches the drawdown limit the breaker
// trips in the same critical section, so no order admitted after the losing
// close can observe the pre-trip state.
func (l *Ledger) RecordRealized(pnl float64) {
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}

	l.mu.Lock()
	l.resetIfNewDay()

	l.realizedPnL += pnl
	l.equity += pnl
	if l.equity > l.equityHigh {
		l.equityHigh = l.equity
	}
	l.trades++
	switch {
	case pnl > 0:
		l.wins++
	case pnl < 0:
		l.losses++
	}

	var tripped bool
	var reason string
	if !l.breakerActive && l.equityStart > 0 {
		drawdown := -l.realizedPnL / l.equityStart
		if drawdown >= l.drawdownLimit {
			l.breakerActive = true
			l.trippedAt = l.now()
			l.breakerReason = fmt.Sprintf("daily drawdown %.2f%% reached limit %.2f%%",
				drawdown*100, l.drawdownLimit*100)
			reason = l.breakerReason
			tripped = true
			metrics.CircuitBreakerActive.Set(1)
		}
	}
	handler := l.onTrip
	l.mu.Unlock()

	if tripped && handler != nil {
		go handler(reason)
	}
}

// Equity returns the current account equity tracked by the ledger
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

// Snapshot returns a copy of the ledger state
func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfNewDay()

	var drawdown float64
	if l.equityStart > 0 {
		drawdown = -l.realizedPnL / l.equityStart
	}
	return LedgerSnapshot{
		Day:            l.day,
		EquityStart:    l.equityStart,
		Equity:         l.equity,
		EquityHigh:     l.equityHigh,
		RealizedPnL:    l.realizedPnL,
		Trades:         l.trades,
		Wins:           l.wins,
		Losses:         l.losses,
		DrawdownPct:    drawdown * 100,
		BreakerActive:  l.breakerActive,
		BreakerReason:  l.breakerReason,
		BreakerTripped: l.trippedAt,
	}
}

// resetIfNewDay rolls the daily counters at the UTC day boundary. Caller
// holds the lock.
func (l *Ledger) resetIfNewDay() {
	day := l.now().UTC().Truncate(24 * time.Hour)
	if !day.After(l.day) {
		return
	}
	l.day = day
	l.equityStart = l.equity
	l.equityHigh = l.equity
	l.realizedPnL = 0
	l.trades = 0
	l.wins = 0
	l.losses = 0
	l.breakerActive = false
	l.breakerReason = ""
	l.trippedAt = time.Time{}
	metrics.CircuitBreakerActive.Set(0)
}
