package profiles

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/unihub-app/unihub/backend/internal/models"
)

const profilePrefix = "profiles"

// Redis provides profile caching in Redis, for deployments where several
// server processes share one enrichment cache.
type Redis struct {
	cli *redis.Client
	ttl time.Duration
}

// ConnectRedis connects to the Redis server and pings it to ensure the
// connection is working.
func ConnectRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{cli: cli, ttl: ttl}, nil
}

func profileKey(userID string) string {
	return fmt.Sprintf("%s:%s", profilePrefix, userID)
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, userID string) (models.Profile, bool, error) {
	var p models.Profile
	err := r.cli.HGetAll(ctx, profileKey(userID)).Scan(&p)
	if err != nil {
		return models.Profile{}, false, fmt.Errorf("hgetall: %w", err)
	}
	if p.ID == "" {
		return models.Profile{}, false, nil
	}
	return p, true, nil
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, p models.Profile) error {
	key := profileKey(p.ID)
	pipe := r.cli.TxPipeline()
	pipe.HSet(ctx, key, p)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset: %w", err)
	}
	return nil
}
