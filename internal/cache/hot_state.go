package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"vpa-trading-engine/internal/market"
	"vpa-trading-engine/internal/signal"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	lastPriceKeyPrefix = "vpa:price"
	bookKeyPrefix      = "vpa:book"
	statusKey          = "vpa:status"
	signalListKey      = "vpa:signals"

	lastPriceTTL  = time.Hour
	bookTTL       = time.Minute
	statusTTL     = time.Minute
	signalKeep    = 50
	signalListTTL = 24 * time.Hour
)

// HotState publishes ephemeral engine state to Redis for dashboards and
// sibling processes. All writes are best-effort: a Redis failure is logged
// and skipped, never surfaced to the trading path.
type HotState struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewHotState creates a hot-state publisher. A nil client disables it.
func NewHotState(client *redis.Client, logger zerolog.Logger) *HotState {
	return &HotState{
		client: client,
		logger: logger.With().Str("component", "hot_state").Logger(),
	}
}

// SetLastPrice records the most recent trade price for a symbol
func (h *HotState) SetLastPrice(ctx context.Context, symbol string, price float64) {
	if h.client == nil {
		return
	}
	key := fmt.Sprintf("%s:%s", lastPriceKeyPrefix, symbol)
	if err := h.client.Set(ctx, key, price, lastPriceTTL).Err(); err != nil {
		h.logger.Debug().Err(err).Str("symbol", symbol).Msg("Last price write failed")
	}
}

// LastPrice returns the cached last price for a symbol
func (h *HotState) LastPrice(ctx context.Context, symbol string) (float64, bool) {
	if h.client == nil {
		return 0, false
	}
	val, err := h.client.Get(ctx, fmt.Sprintf("%s:%s", lastPriceKeyPrefix, symbol)).Result()
	if err != nil {
		return 0, false
	}
	price, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

// SetBook stores a depth snapshot for a symbol
func (h *HotState) SetBook(ctx context.Context, book market.OrderBook) {
	if h.client == nil {
		return
	}
	data, err := json.Marshal(book)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s:%s", bookKeyPrefix, book.Symbol)
	if err := h.client.Set(ctx, key, data, bookTTL).Err(); err != nil {
		h.logger.Debug().Err(err).Str("symbol", book.Symbol).Msg("Book snapshot write failed")
	}
}

// SetStatus stores the engine status document
func (h *HotState) SetStatus(ctx context.Context, status map[string]interface{}) {
	if h.client == nil {
		return
	}
	data, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := h.client.Set(ctx, statusKey, data, statusTTL).Err(); err != nil {
		h.logger.Debug().Err(err).Msg("Status write failed")
	}
}

// PushSignal prepends an emitted signal to the bounded recent-signal list
func (h *HotState) PushSignal(ctx context.Context, sig *signal.Signal) {
	if h.client == nil {
		return
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, signalListKey, data)
	pipe.LTrim(ctx, signalListKey, 0, signalKeep-1)
	pipe.Expire(ctx, signalListKey, signalListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		h.logger.Debug().Err(err).Msg("Signal push failed")
	}
}

// RecentSignals returns the cached recent signals, newest first
func (h *HotState) RecentSignals(ctx context.Context, limit int) ([]signal.Signal, error) {
	if h.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > signalKeep {
		limit = signalKeep
	}
	raw, err := h.client.LRange(ctx, signalListKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]signal.Signal, 0, len(raw))
	for _, item := range raw {
		var s signal.Signal
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
