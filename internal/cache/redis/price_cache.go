package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tokenduel/internal/config"
	"tokenduel/internal/prices"
)

// NewClient builds a go-redis client from config and verifies connectivity.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// PriceCache implements prices.Cache on Redis hashes. Each token's entry is
// a hash at "price:{tokenID}" with fields "price", "ts" (Unix nanoseconds)
// and "sources" (comma-joined). Entries survive restarts, which lets the
// stale-cache fallback work across process boundaries.
type PriceCache struct {
	rdb *redis.Client
}

func NewPriceCache(rdb *redis.Client) *PriceCache {
	return &PriceCache{rdb: rdb}
}

func priceKey(tokenID string) string {
	return "price:" + tokenID
}

func (pc *PriceCache) Get(ctx context.Context, tokenID string) (*prices.CachedPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get price %s: %w", tokenID, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse price %s: %w", tokenID, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis: parse ts %s: %w", tokenID, err)
	}

	var sources []string
	if raw := vals["sources"]; raw != "" {
		sources = strings.Split(raw, ",")
	}

	return &prices.CachedPrice{
		Price:   price,
		Sources: sources,
		At:      time.Unix(0, tsNano).UTC(),
	}, nil
}

func (pc *PriceCache) Set(ctx context.Context, tokenID string, entry prices.CachedPrice) error {
	fields := map[string]interface{}{
		"price":   strconv.FormatFloat(entry.Price, 'f', -1, 64),
		"ts":      strconv.FormatInt(entry.At.UnixNano(), 10),
		"sources": strings.Join(entry.Sources, ","),
	}
	if err := pc.rdb.HSet(ctx, priceKey(tokenID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", tokenID, err)
	}
	return nil
}

// Compile-time interface check.
var _ prices.Cache = (*PriceCache)(nil)
