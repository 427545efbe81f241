package data

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/airsense-india/airsense/src/core"
)

const (
	StreamEvents   = "airsense.reports"
	streamMaxLen   = 100_000
	forecastPrefix = "cache:"
)

func ConnectRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// Publisher appends lifecycle events to a Redis stream for downstream
// consumers (notifications, dashboards).
type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb, stream: StreamEvents}
}

func (p *Publisher) Publish(ctx context.Context, e core.Event) error {
	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":      e.Kind,
			"report_id": strconv.FormatUint(e.ReportID, 10),
			"user_id":   e.UserID,
			"status":    string(e.Status),
			"votes":     strconv.Itoa(e.Votes),
			"at":        e.At.UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	return err
}

// Cache is a Redis-backed key/value cache with per-entry expiry.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.rdb.Get(ctx, forecastPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, forecastPrefix+key, val, ttl).Err()
}

// PingRedis reports whether rdb answers.
func PingRedis(ctx context.Context, rdb *redis.Client) error {
	return rdb.Ping(ctx).Err()
}
