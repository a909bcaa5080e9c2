package adapter

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/gantryhq/gantry/internal/deployer/app"
	redisclient "github.com/gantryhq/gantry/internal/redis"
)

// Compile-time check: BuildLockStore satisfies app.LockStore.
var _ app.LockStore = (*BuildLockStore)(nil)

// BuildLockStore serializes deploys per app with Redis SET NX locks.
// The TTL bounds how long a crashed daemon can strand an app: the lock
// expires after the worst-case build time and the next deploy proceeds.
type BuildLockStore struct {
	cmd redisclient.Cmdable
}

// NewBuildLockStore creates a BuildLockStore that uses cmd for Redis operations.
func NewBuildLockStore(cmd redisclient.Cmdable) *BuildLockStore {
	return &BuildLockStore{cmd: cmd}
}

// Acquire takes the lock for key. Returns (false, nil) when another deploy
// holds it and (false, err) on Redis failure (fail-closed: a deploy never
// proceeds unlocked).
func (s *BuildLockStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.locks.acquire")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	acquired, err := s.cmd.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("acquire lock %q: %w", key, err)
	}

	return acquired, nil
}

// Release drops the lock for key. Releasing an expired or absent lock is
// not an error.
func (s *BuildLockStore) Release(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "redis.locks.release")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "DEL"),
	)

	if err := s.cmd.Del(ctx, key).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("release lock %q: %w", key, err)
	}

	return nil
}
