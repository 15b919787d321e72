package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/elkfinance/elk-v2-subgraph-2024/internal/aggregator"
)

const keyPrefix = "elk:v2:"

// RedisCache keeps resolved pairs and token metadata in Redis so restarts and
// replays do not repeat RPC calls. Only positive answers are cached. Redis
// failures degrade to the wrapped source.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_cache").Logger(),
	}
}

// Connect opens a client and checks the server is reachable.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// Pairs wraps a pair lookup.
func (c *RedisCache) Pairs(inner aggregator.PairLookup) aggregator.PairLookup {
	return &pairLookup{cache: c, inner: inner}
}

// Tokens wraps a token metadata source.
func (c *RedisCache) Tokens(inner aggregator.TokenMetadata) aggregator.TokenMetadata {
	return &tokenMetadata{cache: c, inner: inner}
}

func (c *RedisCache) get(ctx context.Context, key string) (string, bool) {
	value, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return "", false
	}
	return value, true
}

func (c *RedisCache) set(ctx context.Context, key string, value interface{}) {
	if err := c.client.Set(ctx, key, value, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func pairKey(tokenA, tokenB string) string {
	a, b := strings.ToLower(tokenA), strings.ToLower(tokenB)
	if b < a {
		a, b = b, a
	}
	return keyPrefix + "pair:" + a + ":" + b
}

func tokenKey(address string) string {
	return keyPrefix + "token:" + strings.ToLower(address)
}

type pairLookup struct {
	cache *RedisCache
	inner aggregator.PairLookup
}

func (l *pairLookup) GetPair(ctx context.Context, tokenA, tokenB string) (string, bool, error) {
	key := pairKey(tokenA, tokenB)
	if pair, ok := l.cache.get(ctx, key); ok {
		return pair, true, nil
	}

	pair, found, err := l.inner.GetPair(ctx, tokenA, tokenB)
	if err != nil || !found {
		return pair, found, err
	}
	l.cache.set(ctx, key, pair)
	return pair, true, nil
}

type tokenMetadata struct {
	cache *RedisCache
	inner aggregator.TokenMetadata
}

func (t *tokenMetadata) TokenInfo(ctx context.Context, address string) (aggregator.TokenInfo, error) {
	key := tokenKey(address)
	if raw, ok := t.cache.get(ctx, key); ok {
		var info aggregator.TokenInfo
		if err := json.Unmarshal([]byte(raw), &info); err == nil {
			return info, nil
		}
		t.cache.logger.Warn().Str("key", key).Msg("Discarding undecodable cache entry")
	}

	info, err := t.inner.TokenInfo(ctx, address)
	if err != nil {
		return info, err
	}

	data, err := json.Marshal(info)
	if err != nil {
		return info, nil
	}
	t.cache.set(ctx, key, data)
	return info, nil
}
