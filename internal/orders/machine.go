package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/exchange"
	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/risk"
)

var (
	// ErrPairBusy means the pair already has a live order or position
	ErrPairBusy = errors.New("pair already has an active order or position")
	// ErrPairHalted means the pair was halted for manual review
	ErrPairHalted = errors.New("pair halted pending manual review")
	// ErrReconciliationMismatch means a fill report contradicts the order
	ErrReconciliationMismatch = errors.New("fill report inconsistent with order")
	// ErrNoOpenPosition means a close was requested without a position
	ErrNoOpenPosition = errors.New("no open position")
)

const qtyEpsilon = 1e-9

// activeOrder tracks one working order on the exchange
type activeOrder struct {
	id          string
	request     *risk.OrderRequest
	filledQty   float64
	avgPrice    float64
	submittedAt time.Time
}

// MachineConfig holds the state machine timing parameters
type MachineConfig struct {
	SubmitTimeout time.Duration // working time before a cancel is forced
	CancelRetries int           // bounded retries for transient cancel failures
	CancelBackoff time.Duration
}

// DefaultMachineConfig returns the standard timing parameters
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		SubmitTimeout: 30 * time.Second,
		CancelRetries: 3,
		CancelBackoff: 500 * time.Millisecond,
	}
}

// Machine is the order/position state machine for a single pair. All
// transitions run under the pair's mutex, so the machine is strictly
// single-threaded per pair while independent pairs proceed concurrently.
// Cross-pair coupling happens only through the shared risk ledger.
type Machine struct {
	mu       sync.Mutex
	symbol   string
	state    State
	gateway  exchange.Gateway
	ledger   *risk.Ledger
	trailing *risk.TrailingStops
	bus      *events.EventBus
	config   MachineConfig
	logger   zerolog.Logger

	order        *activeOrder // entry order, Submitting/PartiallyFilled
	closingOrder *activeOrder
	position     *Position
	lastPosition *Position // most recent archived position
	lastPrice    float64   // most recent observed trade price
	haltReason   string

	timeoutTimer *time.Timer
	now          func() time.Time
}

// NewMachine creates the state machine for one pair
func NewMachine(symbol string, gateway exchange.Gateway, ledger *risk.Ledger, trailing *risk.TrailingStops, bus *events.EventBus, config MachineConfig, logger zerolog.Logger) *Machine {
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = 30 * time.Second
	}
	if config.CancelRetries <= 0 {
		config.CancelRetries = 3
	}
	return &Machine{
		symbol:   symbol,
		state:    StateIdle,
		gateway:  gateway,
		ledger:   ledger,
		trailing: trailing,
		bus:      bus,
		config:   config,
		logger:   logger.With().Str("component", "OrderMachine").Str("symbol", symbol).Logger(),
		now:      time.Now,
	}
}

// State returns the current lifecycle state
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Position returns a copy of the live position, if any
func (m *Machine) Position() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return Position{}, false
	}
	return *m.position, true
}

// LastClosed returns a copy of the most recently archived position
func (m *Machine) LastClosed() (Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastPosition == nil {
		return Position{}, false
	}
	return *m.lastPosition, true
}

// Submit sends an order request to the exchange. Re-entry is rejected while
// any order or position is live, so a pair carries at most one at a time.
func (m *Machine) Submit(ctx context.Context, req *risk.OrderRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateHalted {
		return fmt.Errorf("%w: %s", ErrPairHalted, m.haltReason)
	}
	if m.state.Active() {
		return fmt.Errorf("%w: %s in %s", ErrPairBusy, m.symbol, m.state)
	}

	orderID := uuid.NewString()
	m.transition(StateSubmitting)
	m.order = &activeOrder{
		id:          orderID,
		request:     req,
		submittedAt: m.now(),
	}

	ack, err := m.gateway.Submit(ctx, req, orderID)
	if err != nil {
		m.order = nil
		if errors.Is(err, exchange.ErrRejected) {
			m.transition(StateRejected)
			m.resetToIdle()
			m.bus.PublishError("orders", "order rejected", err)
			return err
		}
		m.transition(StateCancelled)
		m.resetToIdle()
		return fmt.Errorf("submit %s: %w", m.symbol, err)
	}
	m.order.id = ack.OrderID

	m.timeoutTimer = time.AfterFunc(m.config.SubmitTimeout, func() {
		m.forceCancel(ack.OrderID)
	})

	m.logger.Info().
		Str("order_id", ack.OrderID).
		Str("side", string(req.Side)).
		Float64("quantity", req.Quantity).
		Float64("price", req.Price).
		Msg("Order submitted")
	m.bus.Publish(events.Event{
		Type: events.EventOrderSubmitted,
		Data: map[string]interface{}{
			"symbol":   m.symbol,
			"order_id": ack.OrderID,
			"side":     string(req.Side),
			"quantity": req.Quantity,
		},
	})
	return nil
}

// OnOrderUpdate consumes one fill report from the gateway. Reports for
// unknown orders are ignored; inconsistent reports halt the pair.
func (m *Machine) OnOrderUpdate(update exchange.OrderUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateHalted {
		return
	}

	switch {
	case m.order != nil && update.OrderID == m.order.id:
		m.applyEntryUpdate(update)
	case m.closingOrder != nil && update.OrderID == m.closingOrder.id:
		m.applyCloseUpdate(update)
	default:
		m.logger.Debug().Str("order_id", update.OrderID).Msg("Update for unknown order ignored")
	}
}

// applyEntryUpdate advances the entry order. Caller holds the lock.
func (m *Machine) applyEntryUpdate(update exchange.OrderUpdate) {
	order := m.order
	if err := reconcile(order, update); err != nil {
		m.halt(err.Error())
		return
	}

	order.filledQty = update.FilledQty
	if update.AvgPrice > 0 {
		order.avgPrice = update.AvgPrice
	}

	switch update.Status {
	case exchange.StatusPartiallyFilled:
		m.transition(StatePartiallyFilled)
		m.bus.Publish(events.Event{
			Type: events.EventOrderPartialFill,
			Data: map[string]interface{}{
				"symbol":    m.symbol,
				"order_id":  order.id,
				"filled":    update.FilledQty,
				"remaining": update.RemainingQty,
			},
		})

	case exchange.StatusFilled:
		m.stopTimeoutTimer()
		m.openPosition(order, update.Timestamp)
		m.order = nil

	case exchange.StatusCancelled:
		m.stopTimeoutTimer()
		// A cancel after partial fills keeps the filled portion: the
		// remainder is released but what was bought is a real position.
		if order.filledQty > qtyEpsilon {
			m.openPosition(order, update.Timestamp)
		} else {
			m.transition(StateCancelled)
			m.bus.Publish(events.Event{
				Type: events.EventOrderCancelled,
				Data: map[string]interface{}{"symbol": m.symbol, "order_id": order.id},
			})
			m.resetToIdle()
		}
		m.order = nil

	case exchange.StatusRejected:
		m.stopTimeoutTimer()
		m.transition(StateRejected)
		m.bus.Publish(events.Event{
			Type: events.EventOrderRejected,
			Data: map[string]interface{}{"symbol": m.symbol, "order_id": order.id},
		})
		m.resetToIdle()
		m.order = nil
	}
}

// openPosition creates the position from the order's cumulative fills.
// Caller holds the lock.
func (m *Machine) openPosition(order *activeOrder, at time.Time) {
	entry := order.avgPrice
	if entry <= 0 {
		entry = order.request.Price
	}
	m.position = &Position{
		Symbol:     m.symbol,
		Side:       order.request.Side,
		EntryPrice: entry,
		Quantity:   order.filledQty,
		StopPrice:  order.request.StopPrice,
		TakeProfit: order.request.TakeProfit,
		Status:     StateOpen,
		OpenedAt:   at,
		Fills:      []Fill{{Quantity: order.filledQty, Price: entry, Timestamp: at}},
	}
	m.transition(StateOpen)
	m.trailing.Track(m.symbol, m.position.Side, entry, m.position.StopPrice)

	m.logger.Info().
		Str("side", string(m.position.Side)).
		Float64("entry", entry).
		Float64("quantity", m.position.Quantity).
		Msg("Position opened")
	m.bus.PublishPositionOpened(m.symbol, string(m.position.Side), entry, m.position.Quantity, m.position.StopPrice)
}

// applyCloseUpdate advances the closing order. Caller holds the lock.
func (m *Machine) applyCloseUpdate(update exchange.OrderUpdate) {
	order := m.closingOrder
	if err := reconcile(order, update); err != nil {
		m.halt(err.Error())
		return
	}

	order.filledQty = update.FilledQty
	if update.AvgPrice > 0 {
		order.avgPrice = update.AvgPrice
	}

	switch update.Status {
	case exchange.StatusFilled:
		m.finalizeClose(order.avgPrice, update.Timestamp)
		m.closingOrder = nil

	case exchange.StatusCancelled, exchange.StatusRejected:
		// Whatever executed before the cancel is gone from the book: realize
		// it, then keep the remainder open.
		if order.filledQty > qtyEpsilon {
			m.realizePartialClose(order, update.Timestamp)
			if m.position == nil {
				m.closingOrder = nil
				return
			}
		}
		m.logger.Warn().Str("status", string(update.Status)).Msg("Close order failed, position remains open")
		m.closingOrder = nil
		m.transition(StateOpen)
	}
}

// realizePartialClose books the executed slice of an interrupted close order
// into the position and the ledger. A slice covering the whole open quantity
// finalizes the close outright. Caller holds the lock.
func (m *Machine) realizePartialClose(order *activeOrder, at time.Time) {
	pos := m.position
	qty := order.filledQty
	exit := order.avgPrice

	if qty >= pos.OpenQuantity()-qtyEpsilon {
		m.finalizeClose(exit, at)
		return
	}

	var pnl float64
	if pos.Side == market.DirectionLong {
		pnl = (exit - pos.EntryPrice) * qty
	} else {
		pnl = (pos.EntryPrice - exit) * qty
	}
	pos.ClosedQty += qty
	pos.RealizedPnL += pnl
	m.ledger.RecordRealized(pnl)

	m.logger.Warn().
		Float64("quantity", qty).
		Float64("exit", exit).
		Float64("pnl", pnl).
		Msg("Close interrupted after partial execution, remainder stays open")
}

// finalizeClose realizes P&L into the ledger and archives the position.
// Caller holds the lock.
func (m *Machine) finalizeClose(exitPrice float64, at time.Time) {
	pos := m.position
	qty := pos.OpenQuantity()

	var pnl float64
	if pos.Side == market.DirectionLong {
		pnl = (exitPrice - pos.EntryPrice) * qty
	} else {
		pnl = (pos.EntryPrice - exitPrice) * qty
	}

	pos.ClosedQty += qty
	pos.ExitPrice = exitPrice
	pos.RealizedPnL += pnl
	pos.ClosedAt = at
	pos.Status = StateClosed

	m.transition(StateClosed)
	m.trailing.Untrack(m.symbol)
	m.ledger.RecordRealized(pnl)

	m.logger.Info().
		Float64("exit", exitPrice).
		Float64("quantity", qty).
		Float64("pnl", pnl).
		Str("reason", pos.CloseReason).
		Msg("Position closed")
	m.bus.PublishPositionClosed(m.symbol, pos.EntryPrice, exitPrice, qty, pnl, pos.CloseReason)

	m.lastPosition = pos
	m.position = nil
	m.resetToIdle()
}

// OnPrice feeds a price update to the trailing stop while a position is
// open. A ratchet tightens the stored stop; a trigger starts the close.
func (m *Machine) OnPrice(ctx context.Context, price float64) {
	m.mu.Lock()

	if price > 0 {
		m.lastPrice = price
	}

	if m.state != StateOpen || m.position == nil {
		m.mu.Unlock()
		return
	}

	if tp := m.position.TakeProfit; tp > 0 {
		hit := (m.position.Side == market.DirectionLong && price >= tp) ||
			(m.position.Side == market.DirectionShort && price <= tp)
		if hit {
			m.mu.Unlock()
			if err := m.Close(ctx, "take_profit"); err != nil {
				m.logger.Error().Err(err).Msg("Take-profit close failed")
			}
			return
		}
	}

	update := m.trailing.OnPrice(m.symbol, price)
	if update == nil {
		m.mu.Unlock()
		return
	}
	if !update.Triggered {
		m.position.StopPrice = update.NewStop
		m.bus.PublishStopUpdated(m.symbol, update.OldStop, update.NewStop)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	if err := m.Close(ctx, "stop_hit"); err != nil {
		m.logger.Error().Err(err).Msg("Stop-hit close failed")
	}
}

// Close begins closing the open position. reason is recorded on the
// archived position ("stop_hit", "take_profit", "signal_reverse", "manual").
func (m *Machine) Close(ctx context.Context, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateHalted {
		return fmt.Errorf("%w: %s", ErrPairHalted, m.haltReason)
	}
	if m.state != StateOpen || m.position == nil {
		return fmt.Errorf("%w: %s in %s", ErrNoOpenPosition, m.symbol, m.state)
	}

	pos := m.position
	pos.CloseReason = reason
	m.transition(StateClosing)

	// A market close still carries a reference price: the last observed
	// trade, falling back to the entry. Paper fills execute at it.
	refPrice := m.lastPrice
	if refPrice <= 0 {
		refPrice = pos.EntryPrice
	}

	orderID := uuid.NewString()
	closeReq := &risk.OrderRequest{
		Symbol:    m.symbol,
		Side:      pos.Side.Opposite(),
		Quantity:  pos.OpenQuantity(),
		Price:     refPrice,
		Market:    true,
		CreatedAt: m.now(),
	}
	ack, err := m.gateway.Submit(ctx, closeReq, orderID)
	if err != nil {
		// Position still ours; surface and stay open.
		m.transition(StateOpen)
		m.bus.PublishError("orders", "close submit failed", err)
		return fmt.Errorf("close %s: %w", m.symbol, err)
	}

	m.closingOrder = &activeOrder{
		id:          ack.OrderID,
		request:     closeReq,
		submittedAt: m.now(),
	}
	m.logger.Info().Str("reason", reason).Float64("quantity", closeReq.Quantity).Msg("Closing position")
	return nil
}

// forceCancel runs when the submit timeout fires with the order still
// working. Transient cancel failures are retried with bounded backoff; on
// exhaustion the order is conservatively assumed unfilled and the cancel is
// rescheduled.
func (m *Machine) forceCancel(orderID string) {
	m.mu.Lock()
	if m.order == nil || m.order.id != orderID || (m.state != StateSubmitting && m.state != StatePartiallyFilled) {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backoff := m.config.CancelBackoff
	for attempt := 0; attempt < m.config.CancelRetries; attempt++ {
		err := m.gateway.Cancel(ctx, m.symbol, orderID)
		if err == nil {
			m.logger.Warn().Str("order_id", orderID).Msg("Working order cancelled on timeout")
			return
		}
		m.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Cancel failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}

	// Retries exhausted. The order may still be working, so keep waiting
	// for its updates and try the cancel again later.
	m.bus.PublishError("orders", fmt.Sprintf("cancel retries exhausted for %s", m.symbol), nil)
	m.mu.Lock()
	stillWorking := m.order != nil && m.order.id == orderID
	if stillWorking {
		m.timeoutTimer = time.AfterFunc(m.config.SubmitTimeout, func() {
			m.forceCancel(orderID)
		})
	}
	m.mu.Unlock()
}

// Halted reports whether the pair is halted and why
func (m *Machine) Halted() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateHalted, m.haltReason
}

// ResetHalt clears a halt after manual review. The pair returns to Idle;
// any live order or position context is discarded.
func (m *Machine) ResetHalt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateHalted {
		return
	}
	m.order = nil
	m.closingOrder = nil
	m.position = nil
	m.haltReason = ""
	m.state = StateIdle
	m.logger.Warn().Msg("Halt cleared, pair reset to idle")
}

// halt freezes the pair for manual review. Caller holds the lock.
func (m *Machine) halt(reason string) {
	m.stopTimeoutTimer()
	m.state = StateHalted
	m.haltReason = reason
	m.logger.Error().Str("reason", reason).Msg("Pair halted")
	m.bus.PublishPairHalted(m.symbol, reason)
}

// transition moves to next, logging illegal edges. Caller holds the lock.
func (m *Machine) transition(next State) {
	if !m.state.CanTransitionTo(next) {
		m.logger.Error().
			Str("from", string(m.state)).
			Str("to", string(next)).
			Msg("Illegal state transition")
		return
	}
	m.logger.Debug().Str("from", string(m.state)).Str("to", string(next)).Msg("State transition")
	m.state = next
}

// resetToIdle returns a terminal state to Idle. Caller holds the lock.
func (m *Machine) resetToIdle() {
	switch m.state {
	case StateClosed, StateCancelled, StateRejected:
		m.state = StateIdle
	}
}

func (m *Machine) stopTimeoutTimer() {
	if m.timeoutTimer != nil {
		m.timeoutTimer.Stop()
		m.timeoutTimer = nil
	}
}

// reconcile checks a fill report against the order it claims to describe.
// Cumulative fills may never shrink or exceed the requested quantity, and a
// fill needs a positive price.
func reconcile(order *activeOrder, update exchange.OrderUpdate) error {
	if update.FilledQty < order.filledQty-qtyEpsilon {
		return fmt.Errorf("%w: cumulative fill shrank from %.8f to %.8f",
			ErrReconciliationMismatch, order.filledQty, update.FilledQty)
	}
	if update.FilledQty > order.request.Quantity+qtyEpsilon {
		return fmt.Errorf("%w: filled %.8f exceeds requested %.8f",
			ErrReconciliationMismatch, update.FilledQty, order.request.Quantity)
	}
	if update.FilledQty > qtyEpsilon && update.AvgPrice <= 0 {
		return fmt.Errorf("%w: fill without a price", ErrReconciliationMismatch)
	}
	if math.IsNaN(update.FilledQty) || math.IsNaN(update.AvgPrice) {
		return fmt.Errorf("%w: non-numeric fill report", ErrReconciliationMismatch)
	}
	return nil
}
