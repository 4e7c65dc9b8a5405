package geocoding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"apartment-ranker/models"
)

const redisKeyPrefix = "geocode:"

// RedisCache is a Store shared between ranker processes. Entries are kept as
// "lat,lng" strings and expire after the configured TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed Store. A zero ttl keeps entries forever.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements Store.
func (r *RedisCache) Get(ctx context.Context, key string) (models.Coordinates, bool, error) {
	val, err := r.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return models.Coordinates{}, false, nil
	}
	if err != nil {
		return models.Coordinates{}, false, fmt.Errorf("redis cache: get: %w", err)
	}

	lat, lng, ok := strings.Cut(val, ",")
	if !ok {
		return models.Coordinates{}, false, fmt.Errorf("redis cache: malformed entry %q", val)
	}
	la, err1 := strconv.ParseFloat(lat, 64)
	ln, err2 := strconv.ParseFloat(lng, 64)
	if err1 != nil || err2 != nil {
		return models.Coordinates{}, false, fmt.Errorf("redis cache: malformed entry %q", val)
	}
	return models.Coordinates{Lat: la, Lng: ln}, true, nil
}

// Set implements Store.
func (r *RedisCache) Set(ctx context.Context, key string, c models.Coordinates) error {
	val := strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
	if err := r.client.Set(ctx, redisKeyPrefix+key, val, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (r *RedisCache) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
