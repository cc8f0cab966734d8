package database

import (
	"context"
	"time"

	"vpa-trading-engine/internal/orders"
	"vpa-trading-engine/internal/risk"
	"vpa-trading-engine/internal/signal"

	"github.com/rs/zerolog"
)

// Recorder persists engine output without blocking the trading path. Writes
// are queued on a buffered channel and drained by a single worker; when the
// queue is full the record is dropped and logged.
type Recorder struct {
	repo   *Repository
	queue  chan func(ctx context.Context) error
	done   chan struct{}
	logger zerolog.Logger
}

// NewRecorder creates a recorder backed by the repository
func NewRecorder(repo *Repository, logger zerolog.Logger) *Recorder {
	return &Recorder{
		repo:   repo,
		queue:  make(chan func(ctx context.Context) error, 1024),
		done:   make(chan struct{}),
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// Run drains the write queue until the context is cancelled
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			// Flush whatever is still queued before exiting
			for {
				select {
				case write := <-r.queue:
					r.execute(write)
				default:
					return
				}
			}
		case write := <-r.queue:
			r.execute(write)
		}
	}
}

// Wait blocks until the worker has exited
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) execute(write func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := write(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Persistence write failed")
	}
}

func (r *Recorder) enqueue(write func(ctx context.Context) error) {
	select {
	case r.queue <- write:
	default:
		r.logger.Warn().Msg("Persistence queue full, dropping record")
	}
}

// RecordSignal queues an emitted signal for persistence
func (r *Recorder) RecordSignal(sig *signal.Signal) {
	copied := *sig
	r.enqueue(func(ctx context.Context) error {
		return r.repo.SaveSignal(ctx, &copied)
	})
}

// RecordClosedPosition queues a finished position for persistence
func (r *Recorder) RecordClosedPosition(pos *orders.Position) {
	copied := *pos
	r.enqueue(func(ctx context.Context) error {
		return r.repo.SaveClosedPosition(ctx, &copied)
	})
}

// RecordLedgerSnapshot queues a ledger snapshot for persistence
func (r *Recorder) RecordLedgerSnapshot(snap risk.LedgerSnapshot) {
	r.enqueue(func(ctx context.Context) error {
		return r.repo.SaveLedgerSnapshot(ctx, snap)
	})
}
