package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"eddm-registry/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "eddm:route-activity:"

// RouteActivity caches each route's count and clustered locations per zipRoute. Nothing
// state-dependent is stored, so one entry serves reads with or without a state.
type RouteActivity struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRouteActivity(client *redis.Client, ttl time.Duration) *RouteActivity {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RouteActivity{client: client, ttl: ttl}
}

func (c *RouteActivity) key(zipRoute string) string {
	return keyPrefix + zipRoute
}

// Get returns the cached activity; found is false on a miss.
func (c *RouteActivity) Get(ctx context.Context, zipRoute string) (models.RouteActivity, bool, error) {
	data, err := c.client.Get(ctx, c.key(zipRoute)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RouteActivity{}, false, nil
	}
	if err != nil {
		return models.RouteActivity{}, false, err
	}

	var activity models.RouteActivity
	if err := json.Unmarshal(data, &activity); err != nil {
		return models.RouteActivity{}, false, fmt.Errorf("decode cached activity: %w", err)
	}
	return activity, true, nil
}

func (c *RouteActivity) Set(ctx context.Context, activity models.RouteActivity) error {
	data, err := json.Marshal(activity)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(activity.ZipRoute), data, c.ttl).Err()
}

// Invalidate drops the entry so the next read reflects a just-committed registration.
func (c *RouteActivity) Invalidate(ctx context.Context, zipRoute string) error {
	return c.client.Del(ctx, c.key(zipRoute)).Err()
}

// Connect builds a client from a redis:// URL or a bare host:port and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	} else {
		client = redis.NewClient(opts)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
