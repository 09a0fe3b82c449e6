// Package lease elects a single runner for work that several replicas are
// scheduled to perform, such as the SLA scan.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease is held by at most one owner at a time until it is released or expires.
type Lease interface {
	// Acquire reports whether the caller now holds the lease.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease up if the caller still holds it.
	Release(ctx context.Context) error
}

// Local is always granted. It is used when a single process runs the scheduler.
type Local struct{}

func (Local) Acquire(context.Context) (bool, error) { return true, nil }

func (Local) Release(context.Context) error { return nil }

// KEYS[1] - lease key
// ARGV[1] - owner token
var releaseCmd = redis.NewScript(
	`if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0`)

// Redis is a lease stored under a single key. The key expires after ttl so a
// crashed owner cannot hold it forever.
type Redis struct {
	rdb   redis.UniversalClient
	key   string
	token string
	ttl   time.Duration
}

func NewRedis(rdb redis.UniversalClient, key string, ttl time.Duration) *Redis {
	return &Redis{
		rdb:   rdb,
		key:   key,
		token: uuid.NewString(),
		ttl:   ttl,
	}
}

// NewRedisFromURL connects to the server at a redis:// URL.
func NewRedisFromURL(url, key string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewRedis(redis.NewClient(opts), key, ttl), nil
}

func (r *Redis) Acquire(ctx context.Context) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.key, r.token, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", r.key, err)
	}

	return ok, nil
}

func (r *Redis) Release(ctx context.Context) error {
	if err := releaseCmd.Run(ctx, r.rdb, []string{r.key}, r.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", r.key, err)
	}

	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
