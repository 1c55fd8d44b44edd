package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const metadataTTL = 24 * time.Hour

// notFoundMarker caches negative metadata lookups.
const notFoundMarker = "\x00"

// CachedProvider wraps a Provider with a Redis read-through cache. Redis
// errors are logged and fall through to the wrapped provider.
type CachedProvider struct {
	next     Provider
	client   *redis.Client
	priceTTL time.Duration
	logger   *slog.Logger
}

var _ Provider = (*CachedProvider)(nil)

// NewRedisClient connects to Redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewCachedProvider caches next's results in client. priceTTL bounds how
// stale a quote may be.
func NewCachedProvider(next Provider, client *redis.Client, priceTTL time.Duration, logger *slog.Logger) *CachedProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{
		next:     next,
		client:   client,
		priceTTL: priceTTL,
		logger:   logger,
	}
}

func (c *CachedProvider) Name() string { return c.next.Name() + "+redis" }

func metadataKey(symbol string) string { return fmt.Sprintf("meta:%s", symbol) }

func pricesKey(symbol string, n int) string { return fmt.Sprintf("prices:%s:%d", symbol, n) }

func (c *CachedProvider) ResolveMetadata(ctx context.Context, symbol string) (string, bool, error) {
	key := metadataKey(symbol)

	cached, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		if cached == notFoundMarker {
			return "", false, nil
		}
		return cached, true, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Redis metadata lookup failed", "symbol", symbol, "error", err)
	}

	name, ok, err := c.next.ResolveMetadata(ctx, symbol)
	if err != nil {
		return "", false, err
	}

	value := name
	if !ok {
		value = notFoundMarker
	}
	if err := c.client.Set(ctx, key, value, metadataTTL).Err(); err != nil {
		c.logger.Warn("Redis metadata store failed", "symbol", symbol, "error", err)
	}
	return name, ok, nil
}

func (c *CachedProvider) FetchRecentPrices(ctx context.Context, symbol string, pointCount int) ([]PricePoint, error) {
	key := pricesKey(symbol, pointCount)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var points []PricePoint
		if jsonErr := json.Unmarshal(raw, &points); jsonErr == nil {
			return points, nil
		}
		c.logger.Warn("Discarding malformed cached prices", "symbol", symbol, "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("Redis price lookup failed", "symbol", symbol, "error", err)
	}

	points, err := c.next.FetchRecentPrices(ctx, symbol, pointCount)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(points); err == nil {
		if err := c.client.Set(ctx, key, data, c.priceTTL).Err(); err != nil {
			c.logger.Warn("Redis price store failed", "symbol", symbol, "error", err)
		}
	}
	return points, nil
}
