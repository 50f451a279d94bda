package throttle

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisNamespace = "hearth:throttle"

// Redis is the shared Counter for multi-instance deployments. Hour rollover
// needs no detection here: each bucket is its own key and simply expires.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis wraps an existing client. Buckets expire two hours after first
// use, comfortably past their one-hour relevance.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, ttl: 2 * time.Hour}
}

func (r *Redis) key(recipientID string, t time.Time) string {
	return redisNamespace + ":" + BucketKey(recipientID, t)
}

func (r *Redis) Count(ctx context.Context, recipientID string, t time.Time) (int, error) {
	n, err := r.client.Get(ctx, r.key(recipientID, t)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (r *Redis) Increment(ctx context.Context, recipientID string, t time.Time) (int, error) {
	key := r.key(recipientID, t)
	cnt, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	// First increment owns setting the TTL.
	if cnt == 1 {
		_ = r.client.Expire(ctx, key, r.ttl).Err()
	}
	return int(cnt), nil
}
