package risk

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/metrics"
	"vpa-trading-engine/internal/signal"
)

var (
	// ErrCircuitBreakerActive blocks all order creation until the day reset
	ErrCircuitBreakerActive = errors.New("circuit breaker active")
	// ErrInsufficientLiquidity means the book cannot absorb even the
	// minimum tradable size within the slippage bound
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrEmptyBook means the relevant book side has no levels
	ErrEmptyBook = errors.New("order book side is empty")
	// ErrInvalidStop means the stop distance is zero or on the wrong side
	ErrInvalidStop = errors.New("invalid stop distance")
)

// OrderRequest is a sized, bounded order derived from a signal. Owned by the
// risk manager until handed to the order state machine.
type OrderRequest struct {
	Symbol      string           `json:"symbol"`
	Side        market.Direction `json:"side"`
	Quantity    float64          `json:"quantity"`
	Price       float64          `json:"price"`
	Market      bool             `json:"market"`
	MaxSlippage float64          `json:"max_slippage"`
	StopPrice   float64          `json:"stop_price"`
	TakeProfit  float64          `json:"take_profit"`
	Signal      *signal.Signal   `json:"signal,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ManagerConfig holds the sizing parameters
type ManagerConfig struct {
	RiskPerTrade    float64 `json:"risk_per_trade"`    // fraction of equity risked per trade
	MaxSlippage     float64 `json:"max_slippage"`      // fractional slippage bound
	MinQuantity     float64 `json:"min_quantity"`      // smallest tradable size
	RewardRatio     float64 `json:"reward_ratio"`      // take profit distance per unit of stop distance
	ATRMultiplier   float64 `json:"atr_multiplier"`    // stop distance in ATRs
	FallbackStopPct float64 `json:"fallback_stop_pct"` // stop fraction of entry when ATR is unavailable
}

// DefaultManagerConfig returns the standard sizing parameters
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RiskPerTrade:    0.015,
		MaxSlippage:     0.002,
		MinQuantity:     0.0001,
		RewardRatio:     2.0,
		ATRMultiplier:   2.0,
		FallbackStopPct: 0.01,
	}
}

// Manager turns signals into sized order requests. Sizing is a pure
// computation over the ledger, a book snapshot and a volatility reading;
// nothing is submitted here.
type Manager struct {
	ledger *Ledger
	config ManagerConfig
	logger zerolog.Logger
}

// NewManager creates a risk manager bound to the shared ledger
func NewManager(ledger *Ledger, config ManagerConfig, logger zerolog.Logger) *Manager {
	if config.RiskPerTrade <= 0 {
		config.RiskPerTrade = 0.015
	}
	if config.MaxSlippage <= 0 {
		config.MaxSlippage = 0.002
	}
	if config.RewardRatio <= 0 {
		config.RewardRatio = 2.0
	}
	return &Manager{
		ledger: ledger,
		config: config,
		logger: logger.With().Str("component", "RiskManager").Logger(),
	}
}

// Evaluate produces an order request for the signal, or an error explaining
// the rejection. atr may be zero when not enough history exists; the stop
// then falls back to a fixed fraction of the entry price.
func (m *Manager) Evaluate(sig *signal.Signal, available float64, book market.OrderBook, atr float64) (*OrderRequest, error) {
	if ok, reason := m.ledger.CanTrade(); !ok {
		metrics.OrdersRejected.WithLabelValues(sig.Symbol, "circuit_breaker").Inc()
		return nil, fmt.Errorf("%w: %s", ErrCircuitBreakerActive, reason)
	}

	levels := book.Levels(sig.Direction)
	if len(levels) == 0 {
		metrics.OrdersRejected.WithLabelValues(sig.Symbol, "empty_book").Inc()
		return nil, fmt.Errorf("%w: %s %s", ErrEmptyBook, sig.Symbol, sig.Direction)
	}
	entry := levels[0].Price

	stop := m.StopPrice(entry, atr, sig.Direction)
	stopDistance := math.Abs(entry - stop)
	if stopDistance <= 0 {
		return nil, ErrInvalidStop
	}

	equity := m.ledger.Equity()
	quantity := equity * m.config.RiskPerTrade / stopDistance

	// Notional may not exceed the available balance.
	if quantity*entry > available {
		quantity = available / entry
	}

	// Walk the book: reduce to the largest size whose average fill stays
	// within the slippage bound.
	fillable := maxQuantityWithinSlippage(levels, entry, m.config.MaxSlippage)
	if fillable < quantity {
		m.logger.Warn().
			Str("symbol", sig.Symbol).
			Float64("requested", quantity).
			Float64("fillable", fillable).
			Msg("Reducing order size to fit slippage bound")
		quantity = fillable
	}
	if quantity < m.config.MinQuantity {
		metrics.OrdersRejected.WithLabelValues(sig.Symbol, "insufficient_liquidity").Inc()
		return nil, fmt.Errorf("%w: %s fillable quantity %.8f below minimum %.8f",
			ErrInsufficientLiquidity, sig.Symbol, quantity, m.config.MinQuantity)
	}

	req := &OrderRequest{
		Symbol:      sig.Symbol,
		Side:        sig.Direction,
		Quantity:    quantity,
		Price:       entry,
		MaxSlippage: m.config.MaxSlippage,
		StopPrice:   stop,
		TakeProfit:  m.takeProfit(entry, stop, sig.Direction),
		Signal:      sig,
		CreatedAt:   sig.Timestamp,
	}

	m.logger.Info().
		Str("symbol", req.Symbol).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("entry", req.Price).
		Float64("stop", req.StopPrice).
		Float64("take_profit", req.TakeProfit).
		Msg("Order request sized")
	return req, nil
}

// StopPrice derives the protective stop from volatility: a multiple of ATR
// away from entry, falling back to a fixed fraction of the entry when no
// ATR is available.
func (m *Manager) StopPrice(entry, atr float64, side market.Direction) float64 {
	distance := atr * m.config.ATRMultiplier
	if distance <= 0 {
		distance = entry * m.config.FallbackStopPct
	}
	if side == market.DirectionLong {
		return entry - distance
	}
	return entry + distance
}

func (m *Manager) takeProfit(entry, stop float64, side market.Direction) float64 {
	distance := math.Abs(entry-stop) * m.config.RewardRatio
	if side == market.DirectionLong {
		return entry + distance
	}
	return entry - distance
}

// maxQuantityWithinSlippage walks the book accumulating quantity and cost,
// returning the largest cumulative quantity whose volume-weighted average
// price deviates from the best price by no more than bound. The average
// moves continuously inside a level, so the boundary quantity within the
// breaking level is solved directly.
func maxQuantityWithinSlippage(levels []market.BookLevel, best, bound float64) float64 {
	if best <= 0 {
		return 0
	}
	limit := best * bound

	var qty, cost float64
	for _, lvl := range levels {
		levelSlip := math.Abs(lvl.Price - best)
		newQty := qty + lvl.Quantity
		newCost := cost + lvl.Price*lvl.Quantity
		avgSlip := math.Abs(newCost/newQty - best)

		if avgSlip <= limit {
			qty = newQty
			cost = newCost
			continue
		}

		if qty == 0 {
			return 0
		}
		// Average breaks the bound partway through this level. Solve
		// (cost + p*q)/(qty + q) = best +/- limit for q.
		drift := math.Abs(cost/qty - best)
		if levelSlip > limit && drift < limit {
			q := qty * (limit - drift) / (levelSlip - limit)
			if q > 0 {
				qty += math.Min(q, lvl.Quantity)
			}
		}
		return qty
	}
	return qty
}
