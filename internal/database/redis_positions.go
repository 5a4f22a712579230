// Redis-backed position persistence so a restart resumes mid-trade. When
// Redis is unavailable the repository falls back to an in-memory cache and
// trading continues without persistence across restarts.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"pattern-trading-bot/internal/logging"
	"pattern-trading-bot/internal/trader"
)

const (
	// positionKeyPrefix namespaces position keys: trader:position:{coin}.
	positionKeyPrefix = "trader:position"

	// positionTTL keeps stale keys from accumulating if a position is
	// never explicitly deleted.
	positionTTL = 30 * 24 * time.Hour
)

// RedisPositionRepository implements trader.StateRepository over Redis
// with an in-memory fallback.
type RedisPositionRepository struct {
	client *redis.Client
	logger *logging.Logger

	mu        sync.RWMutex
	fallback  map[string]*trader.Position
	available atomic.Bool
}

var _ trader.StateRepository = (*RedisPositionRepository)(nil)

// NewRedisPositionRepository creates the repository. A nil client means
// memory-only mode.
func NewRedisPositionRepository(client *redis.Client, logger *logging.Logger) *RedisPositionRepository {
	repo := &RedisPositionRepository{
		client:   client,
		logger:   logger.Component("position-state"),
		fallback: make(map[string]*trader.Position),
	}
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			repo.logger.Warn("redis unavailable, using in-memory position state", "error", err)
		} else {
			repo.available.Store(true)
		}
	}
	return repo
}

func positionKey(coin string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, coin)
}

// SavePosition writes the position to Redis and the fallback cache.
func (r *RedisPositionRepository) SavePosition(ctx context.Context, pos *trader.Position) error {
	snapshot := *pos
	r.mu.Lock()
	r.fallback[pos.Coin] = &snapshot
	r.mu.Unlock()

	if !r.useRedis() {
		return nil
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position for %s: %w", pos.Coin, err)
	}
	if err := r.client.Set(ctx, positionKey(pos.Coin), data, positionTTL).Err(); err != nil {
		r.available.Store(false)
		r.logger.Warn("redis save failed, falling back to memory", "coin", pos.Coin, "error", err)
		return nil
	}
	return nil
}

// DeletePosition removes the coin's persisted state.
func (r *RedisPositionRepository) DeletePosition(ctx context.Context, coin string) error {
	r.mu.Lock()
	delete(r.fallback, coin)
	r.mu.Unlock()

	if !r.useRedis() {
		return nil
	}
	if err := r.client.Del(ctx, positionKey(coin)).Err(); err != nil {
		r.available.Store(false)
		r.logger.Warn("redis delete failed", "coin", coin, "error", err)
	}
	return nil
}

// LoadPositions returns every persisted open position.
func (r *RedisPositionRepository) LoadPositions(ctx context.Context) ([]*trader.Position, error) {
	if r.useRedis() {
		positions, err := r.loadFromRedis(ctx)
		if err == nil {
			return positions, nil
		}
		r.available.Store(false)
		r.logger.Warn("redis load failed, using in-memory positions", "error", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*trader.Position, 0, len(r.fallback))
	for _, pos := range r.fallback {
		snapshot := *pos
		out = append(out, &snapshot)
	}
	return out, nil
}

func (r *RedisPositionRepository) loadFromRedis(ctx context.Context) ([]*trader.Position, error) {
	var out []*trader.Position
	iter := r.client.Scan(ctx, 0, positionKeyPrefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			return nil, err
		}
		var pos trader.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			r.logger.Warn("skipping unreadable position state", "key", iter.Val(), "error", err)
			continue
		}
		out = append(out, &pos)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RedisPositionRepository) useRedis() bool {
	return r.client != nil && r.available.Load()
}
