package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jack/shortlink-resolver/internal/config"
	"github.com/jack/shortlink-resolver/internal/model"
)

const (
	linkCachePrefix   = "link:"
	linkVersionPrefix = "linkver:"

	// linkVersionTTL must outlive any single storage read made between
	// LinkVersion and SetLink.
	linkVersionTTL = 24 * time.Hour
)

// setLinkScript writes the entry only while the link's version is still
// the one the caller observed before reading storage.
var setLinkScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2])
if (current or '') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// RedisRepository caches links by code. It is never the source of truth.
type RedisRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRepository(cfg *config.RedisConfig, ttl time.Duration) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisRepositoryFromClient(client, ttl), nil
}

func NewRedisRepositoryFromClient(client *redis.Client, ttl time.Duration) *RedisRepository {
	return &RedisRepository{client: client, ttl: ttl}
}

func (r *RedisRepository) Close() error {
	return r.client.Close()
}

func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

// GetLink returns the cached link, or nil on a miss.
func (r *RedisRepository) GetLink(ctx context.Context, code string) (*model.Link, error) {
	data, err := r.client.Get(ctx, linkCachePrefix+code).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get link from cache: %w", err)
	}

	var link model.Link
	if err := json.Unmarshal(data, &link); err != nil {
		return nil, fmt.Errorf("failed to unmarshal link: %w", err)
	}

	return &link, nil
}

// LinkVersion returns the invalidation counter of code, or "" if the link
// was never invalidated. Read it before loading the link from storage and
// hand it to SetLink.
func (r *RedisRepository) LinkVersion(ctx context.Context, code string) (string, error) {
	version, err := r.client.Get(ctx, linkVersionPrefix+code).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get link version from cache: %w", err)
	}
	return version, nil
}

// SetLink caches link until the configured TTL or the link's expiry,
// whichever comes first. The write is skipped when the link was invalidated
// after version was read, so a slow reader cannot put back a stale copy.
// Already expired links are not cached. It reports whether the entry was
// written.
func (r *RedisRepository) SetLink(ctx context.Context, link *model.Link, version string) (bool, error) {
	ttl := r.ttl
	if link.ExpiresAt != nil {
		if remaining := time.Until(*link.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl < time.Millisecond {
		return false, nil
	}

	data, err := json.Marshal(link)
	if err != nil {
		return false, fmt.Errorf("failed to marshal link: %w", err)
	}

	keys := []string{linkCachePrefix + link.Code, linkVersionPrefix + link.Code}
	written, err := setLinkScript.Run(ctx, r.client, keys, version, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to set link in cache: %w", err)
	}

	return written == 1, nil
}

// InvalidateLink drops the cached entry and bumps the link's version, which
// voids any SetLink prepared against the old version.
func (r *RedisRepository) InvalidateLink(ctx context.Context, code string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, linkVersionPrefix+code)
		pipe.Expire(ctx, linkVersionPrefix+code, linkVersionTTL)
		pipe.Del(ctx, linkCachePrefix+code)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate cached link: %w", err)
	}

	return nil
}

func (r *RedisRepository) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
