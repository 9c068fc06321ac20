package limiter

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "rewardvault:throttle:"

type redisCmd interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Redis is a throttle backed by SET NX PX keys that expire after the window.
type Redis struct {
	client redisCmd
	window time.Duration
}

// NewRedis constructs a Redis-backed throttle.
func NewRedis(client *redis.Client, window time.Duration) *Redis {
	return &Redis{client: client, window: window}
}

// Allow implements Throttle.
func (l *Redis) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if l.window <= 0 {
		return true, 0, nil
	}
	k := redisKeyPrefix + key
	ok, err := l.client.SetNX(ctx, k, time.Now().Unix(), l.window).Result()
	if err != nil {
		return false, 0, err
	}
	if ok {
		return true, 0, nil
	}
	ttl, err := l.client.PTTL(ctx, k).Result()
	if err != nil || ttl < 0 {
		return false, l.window, nil
	}
	return false, ttl, nil
}
