package geocoding

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"apartment-ranker/models"
)

// Requires Redis on localhost:6379; skipped otherwise.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisCacheRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()
	key := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { client.Del(context.Background(), redisKeyPrefix+key) })

	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before Set = ok:%v err:%v; want miss", ok, err)
	}

	want := models.Coordinates{Lat: 41.5868, Lng: -93.625}
	if err := cache.Set(ctx, key, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cache.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get after Set = ok:%v err:%v", ok, err)
	}
	if got != want {
		t.Errorf("Get = %+v; want %+v", got, want)
	}

	ttl, err := client.TTL(ctx, redisKeyPrefix+key).Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v (err %v); want within one minute", ttl, err)
	}
}

func TestRedisCacheMalformedEntry(t *testing.T) {
	client := newTestRedis(t)
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()
	key := "test-bad-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	t.Cleanup(func() { client.Del(context.Background(), redisKeyPrefix+key) })

	client.Set(ctx, redisKeyPrefix+key, "not-a-coordinate", time.Minute)
	if _, _, err := cache.Get(ctx, key); err == nil {
		t.Error("expected error for malformed entry")
	}
}
