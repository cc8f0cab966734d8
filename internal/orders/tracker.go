package orders

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"vpa-trading-engine/internal/events"
	"vpa-trading-engine/internal/exchange"
	"vpa-trading-engine/internal/risk"
)

// Tracker owns one state machine per pair and routes gateway fill reports
// to them. Every pair runs its own worker goroutine, so a machine blocked on
// a slow exchange call stalls only that pair's fills and prices.
type Tracker struct {
	mu       sync.RWMutex
	machines map[string]*Machine
	queues   map[string]*pairQueue

	gateway  exchange.Gateway
	ledger   *risk.Ledger
	trailing *risk.TrailingStops
	bus      *events.EventBus
	config   MachineConfig
	logger   zerolog.Logger
}

// pairQueue feeds one pair's worker. Prices are conflated to the newest,
// fill reports are never dropped.
type pairQueue struct {
	updates chan exchange.OrderUpdate
	prices  chan float64
}

// NewTracker creates a tracker for the given pairs
func NewTracker(symbols []string, gateway exchange.Gateway, ledger *risk.Ledger, trailing *risk.TrailingStops, bus *events.EventBus, config MachineConfig, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		machines: make(map[string]*Machine, len(symbols)),
		queues:   make(map[string]*pairQueue, len(symbols)),
		gateway:  gateway,
		ledger:   ledger,
		trailing: trailing,
		bus:      bus,
		config:   config,
		logger:   logger.With().Str("component", "OrderTracker").Logger(),
	}
	for _, s := range symbols {
		t.machines[s] = NewMachine(s, gateway, ledger, trailing, bus, config, logger)
		t.queues[s] = &pairQueue{
			updates: make(chan exchange.OrderUpdate, 64),
			prices:  make(chan float64, 1),
		}
	}
	return t
}

// Machine returns the state machine for a pair
func (t *Tracker) Machine(symbol string) (*Machine, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.machines[symbol]
	return m, ok
}

// Run starts one worker per pair and dispatches gateway updates to them
// until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	t.mu.RLock()
	for s, m := range t.machines {
		wg.Add(1)
		go func(m *Machine, q *pairQueue) {
			defer wg.Done()
			t.runPair(ctx, m, q)
		}(m, t.queues[s])
	}
	t.mu.RUnlock()
	defer wg.Wait()

	updates := t.gateway.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			q := t.queue(update.Symbol)
			if q == nil {
				t.logger.Warn().Str("symbol", update.Symbol).Msg("Update for untracked pair dropped")
				continue
			}
			select {
			case q.updates <- update:
			case <-ctx.Done():
				return
			}
		}
	}
}

// runPair drains one pair's queue into its machine
func (t *Tracker) runPair(ctx context.Context, m *Machine, q *pairQueue) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-q.updates:
			m.OnOrderUpdate(update)
		case price := <-q.prices:
			m.OnPrice(ctx, price)
		}
	}
}

func (t *Tracker) queue(symbol string) *pairQueue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queues[symbol]
}

// OnPrice hands a price to the pair's worker for stop upkeep. Only the
// newest price matters, so a busy worker sees the latest and skips the rest.
func (t *Tracker) OnPrice(ctx context.Context, symbol string, price float64) {
	q := t.queue(symbol)
	if q == nil {
		return
	}
	select {
	case q.prices <- price:
	default:
		select {
		case <-q.prices:
		default:
		}
		select {
		case q.prices <- price:
		default:
		}
	}
}

// Positions returns copies of all live positions
func (t *Tracker) Positions() []Position {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Position
	for _, m := range t.machines {
		if pos, ok := m.Position(); ok {
			out = append(out, pos)
		}
	}
	return out
}

// States returns the lifecycle state of every pair
func (t *Tracker) States() map[string]State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]State, len(t.machines))
	for s, m := range t.machines {
		out[s] = m.State()
	}
	return out
}
