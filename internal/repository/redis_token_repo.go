package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const invalidatedPrefix = "auth:invalidated:"

// RedisTokenRepo implements domain.InvalidatedTokenRepository using Redis.
// Each entry expires on its own when the access token would have.
type RedisTokenRepo struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisTokenRepo creates a new repository instance.
func NewRedisTokenRepo(client *redis.Client) *RedisTokenRepo {
	return &RedisTokenRepo{client: client, now: time.Now}
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(addr string) (*redis.Client, error) {
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// InvalidateAccessToken stores "auth:invalidated:<jti>" -> exp (unix seconds)
// with a TTL running out at exp. Re-invalidating overwrites the same key.
func (r *RedisTokenRepo) InvalidateAccessToken(ctx context.Context, jwtID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl < 0 {
		// already past: keep it until the next sweep
		ttl = 0
	}

	err := r.client.Set(ctx, invalidatedPrefix+jwtID, strconv.FormatInt(expiresAt.Unix(), 10), ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to store invalidated token in redis: %w", err)
	}
	return nil
}

func (r *RedisTokenRepo) IsAccessTokenInvalidated(ctx context.Context, jwtID string) (bool, error) {
	n, err := r.client.Exists(ctx, invalidatedPrefix+jwtID).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

// PurgeExpiredInvalidatedTokens removes entries whose recorded exp is before
// now. Most entries are gone already through their TTL.
func (r *RedisTokenRepo) PurgeExpiredInvalidatedTokens(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor uint64
		purged int64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, invalidatedPrefix+"*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("redis scan: %w", err)
		}

		for _, key := range keys {
			v, err := r.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return purged, fmt.Errorf("redis error: %w", err)
			}

			exp, err := strconv.ParseInt(v, 10, 64)
			if err == nil && !time.Unix(exp, 0).Before(now) {
				continue
			}
			// expired, or a value we cannot read
			n, err := r.client.Del(ctx, key).Result()
			if err != nil {
				return purged, fmt.Errorf("redis del: %w", err)
			}
			purged += n
		}

		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

// Ping reports whether Redis is reachable.
func (r *RedisTokenRepo) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.client.Ping(ctx).Err()
}
