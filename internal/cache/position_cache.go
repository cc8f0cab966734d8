// Package cache provides Redis-backed hot position state with an in-memory
// fallback. When Redis is unreachable the engine keeps running on the local
// copy; Redis only exists so a restarted process can recover open positions.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"vpa-trading-engine/internal/orders"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	positionKeyPrefix = "vpa:position"
	positionListKey   = "vpa:positions:list"

	// Positions normally close within hours, the TTL is generous on purpose
	positionTTL = 7 * 24 * time.Hour
)

// PositionCache stores open position state per symbol
type PositionCache struct {
	client    *redis.Client
	memory    map[string]*orders.Position
	mu        sync.RWMutex
	available atomic.Bool
	logger    zerolog.Logger
}

// NewPositionCache creates a position cache. A nil client means memory-only mode.
func NewPositionCache(client *redis.Client, logger zerolog.Logger) *PositionCache {
	cache := &PositionCache{
		client: client,
		memory: make(map[string]*orders.Position),
		logger: logger.With().Str("component", "position_cache").Logger(),
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			cache.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory cache")
		} else {
			cache.logger.Info().Msg("Redis connected")
			cache.available.Store(true)
		}
	}

	return cache
}

func positionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

// Save stores an open position. The in-memory copy always succeeds; a Redis
// failure downgrades the cache rather than surfacing an error.
func (c *PositionCache) Save(ctx context.Context, pos *orders.Position) error {
	if pos == nil {
		return fmt.Errorf("cannot save nil position")
	}

	copied := *pos
	c.mu.Lock()
	c.memory[pos.Symbol] = &copied
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return nil
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, positionKey(pos.Symbol), data, positionTTL)
	pipe.SAdd(ctx, positionListKey, pos.Symbol)
	pipe.Expire(ctx, positionListKey, positionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Redis write failed, falling back to in-memory cache")
		c.available.Store(false)
	}
	return nil
}

// Load returns the cached position for a symbol, or nil when none exists
func (c *PositionCache) Load(ctx context.Context, symbol string) (*orders.Position, error) {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, positionKey(symbol)).Result()
		if err == nil {
			var pos orders.Position
			if err := json.Unmarshal([]byte(data), &pos); err != nil {
				return nil, fmt.Errorf("failed to unmarshal position: %w", err)
			}
			return &pos, nil
		}
		if err != redis.Nil {
			c.logger.Warn().Err(err).Msg("Redis read failed, falling back to in-memory cache")
			c.available.Store(false)
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if pos, ok := c.memory[symbol]; ok {
		copied := *pos
		return &copied, nil
	}
	return nil, nil
}

// Delete removes a closed position from the cache
func (c *PositionCache) Delete(ctx context.Context, symbol string) {
	c.mu.Lock()
	delete(c.memory, symbol)
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, positionKey(symbol))
	pipe.SRem(ctx, positionListKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Redis delete failed")
		c.available.Store(false)
	}
}

// Symbols lists symbols with cached positions
func (c *PositionCache) Symbols(ctx context.Context) []string {
	if c.client != nil && c.available.Load() {
		if symbols, err := c.client.SMembers(ctx, positionListKey).Result(); err == nil {
			return symbols
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.memory))
	for symbol := range c.memory {
		out = append(out, symbol)
	}
	return out
}

// Available reports whether Redis is currently reachable
func (c *PositionCache) Available() bool {
	return c.available.Load()
}
