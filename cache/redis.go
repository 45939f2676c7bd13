package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hadiulofficial/bookswap-pro-sub001/config"
)

func InitRedis(cfg config.Redis, logger *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established", zap.String("addr", cfg.Addr()))
	return rdb, nil
}

// ViewCache keeps serialized order views under order:view:<id>.
type ViewCache struct {
	rdb redis.Cmdable
}

func NewViewCache(rdb redis.Cmdable) *ViewCache {
	return &ViewCache{rdb: rdb}
}

func viewKey(orderID string) string {
	return fmt.Sprintf("order:view:%s", orderID)
}

func (c *ViewCache) Get(ctx context.Context, orderID string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, viewKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (c *ViewCache) Set(ctx context.Context, orderID string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, viewKey(orderID), data, ttl).Err()
}

func (c *ViewCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, viewKey(orderID)).Err()
}

// EventDeduper remembers processed provider event ids.
type EventDeduper struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewEventDeduper(rdb redis.Cmdable, prefix string, ttl time.Duration) *EventDeduper {
	return &EventDeduper{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Claim reports whether eventID is seen for the first time.
func (d *EventDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.rdb.SetNX(ctx, d.prefix+eventID, time.Now().Unix(), d.ttl).Result()
}

// Release forgets eventID so a redelivery is processed again.
func (d *EventDeduper) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, d.prefix+eventID).Err()
}
