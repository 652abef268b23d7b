package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront-api/internal/models"

	"github.com/go-redis/redis/v8"
)

const catalogKey = "catalog:categories-with-products"

type Client struct {
	rdb        *redis.Client
	catalogTTL time.Duration
}

// NewClient creates a new Redis client and checks the connection
func NewClient(addr, password string, db int, catalogTTL time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, catalogTTL: catalogTTL}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping is used by the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Lookup returns the value stored under an idempotency key.
func (c *Client) Lookup(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Reserve stores value under an idempotency key only if the key is free.
func (c *Client) Reserve(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), value, ttl).Result()
}

// Remember stores value under an idempotency key with TTL, replacing any reservation.
func (c *Client) Remember(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), value, ttl).Err()
}

// Release drops an idempotency key.
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:order:%s", key)
}

// GetCatalog returns the cached categories-with-products listing.
func (c *Client) GetCatalog(ctx context.Context) ([]models.CategoryWithProducts, bool, error) {
	raw, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var catalog []models.CategoryWithProducts
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return nil, false, fmt.Errorf("decode cached catalog: %w", err)
	}
	return catalog, true, nil
}

// SetCatalog caches the listing for the configured TTL.
func (c *Client) SetCatalog(ctx context.Context, catalog []models.CategoryWithProducts) error {
	raw, err := json.Marshal(catalog)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, catalogKey, raw, c.catalogTTL).Err()
}

// InvalidateCatalog drops the cached listing.
func (c *Client) InvalidateCatalog(ctx context.Context) error {
	return c.rdb.Del(ctx, catalogKey).Err()
}
