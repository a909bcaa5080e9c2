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

// revokedJTIPrefix is the Redis key prefix for revoked JTI entries.
// Key pattern: revoked_jti:{jti}.
const revokedJTIPrefix = "revoked_jti:"

// Compile-time check: RevocationStore satisfies app.RevocationStore.
var _ app.RevocationStore = (*RevocationStore)(nil)

// RevocationStore implements JTI revocation backed by Redis.
// Reads fail closed: a Redis error reports the token as revoked.
type RevocationStore struct {
	cmd redisclient.Cmdable
}

// NewRevocationStore creates a RevocationStore that uses cmd for Redis operations.
func NewRevocationStore(cmd redisclient.Cmdable) *RevocationStore {
	return &RevocationStore{cmd: cmd}
}

// Revoke marks a JTI as revoked for ttl. Callers pass the maximum token
// lifetime so the entry outlives every token that could carry the jti.
func (s *RevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	ctx, span := tracer.Start(ctx, "redis.revocation.revoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "SET"),
	)

	key := revokedJTIPrefix + jti
	if err := s.cmd.Set(ctx, key, "1", ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("revoke JTI %q: %w", jti, err)
	}

	return nil
}

// IsRevoked checks whether a JTI has been revoked.
// Returns (true, nil) if revoked, (false, nil) if not revoked, and
// (true, err) on Redis failure (fail-closed: treat the token as revoked
// when the revocation store is unavailable).
func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	ctx, span := tracer.Start(ctx, "redis.revocation.is_revoked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EXISTS"),
	)

	key := revokedJTIPrefix + jti
	result, err := s.cmd.Exists(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, fmt.Errorf("check revocation %q: %w", jti, err)
	}

	return result > 0, nil
}
