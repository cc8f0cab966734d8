package database

import (
	"context"
	"time"

	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"
	"vpa-trading-engine/internal/vpa"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// SaveSignal inserts an emitted signal
func (r *Repository) SaveSignal(ctx context.Context, sig *signal.Signal) error {
	query := `
		INSERT INTO signals (symbol, direction, pattern, strength, confidence, aligned_count, ema_deviation, macro_window, signal_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		sig.Symbol, string(sig.Direction), string(sig.Pattern.Pattern), sig.Pattern.Strength,
		sig.Confidence, sig.Confluence.AlignedCount, sig.EMADeviation, sig.MacroWindow, sig.Timestamp,
	)
	return err
}

// SaveClosedPosition inserts a finished position
func (r *Repository) SaveClosedPosition(ctx context.Context, pos *orders.Position) error {
	query := `
		INSERT INTO closed_positions (symbol, side, entry_price, exit_price, quantity, realized_pnl, close_reason, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		pos.Symbol, string(pos.Side), pos.EntryPrice, pos.ExitPrice, pos.Quantity,
		pos.RealizedPnL, pos.CloseReason, pos.OpenedAt, pos.ClosedAt,
	)
	return err
}

// SaveLedgerSnapshot inserts a risk ledger snapshot
func (r *Repository) SaveLedgerSnapshot(ctx context.Context, snap risk.LedgerSnapshot) error {
	query := `
		INSERT INTO ledger_snapshots (trading_day, equity_start, equity, equity_high, realized_pnl, drawdown, trades, wins, losses, breaker_active, breaker_reason, snapshot_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Pool.Exec(
		ctx, query,
		snap.Day, snap.EquityStart, snap.Equity, snap.EquityHigh, snap.RealizedPnL,
		snap.DrawdownPct, snap.Trades, snap.Wins, snap.Losses,
		snap.BreakerActive, snap.BreakerReason, time.Now().UTC(),
	)
	return err
}

// RecentSignals returns the latest emitted signals, newest first
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error) {
	query := `
		SELECT symbol, direction, pattern, strength, confidence, aligned_count, ema_deviation, macro_window, signal_time
		FROM signals
		ORDER BY signal_time DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []signal.Signal
	for rows.Next() {
		var s signal.Signal
		var direction, pattern string
		if err := rows.Scan(
			&s.Symbol, &direction, &pattern, &s.Pattern.Strength, &s.Confidence,
			&s.Confluence.AlignedCount, &s.EMADeviation, &s.MacroWindow, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		s.Direction = market.Direction(direction)
		s.Pattern.Pattern = vpa.Pattern(pattern)
		out = append(out, s)
	}
	return out, rows.Err()
}
