// Package cache provides the Redis-backed artifact day-cache and the
// TTL advisory locks that serialize generation per (user, kind, day).
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ykvlv/astro-forecast-bot/internal/domain"
)

// artifactTTL keeps a day's artifact cached well past the local-day
// rollover in any timezone.
const artifactTTL = 36 * time.Hour

// Redis wraps a go-redis client for artifact caching and advisory locks.
type Redis struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a ping.
func New(ctx context.Context, addr, password string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func artifactKey(userID uuid.UUID, kind domain.Kind, day domain.Day) string {
	return fmt.Sprintf("artifact:%s:%s:%s", userID, kind, day)
}

func lockKey(userID uuid.UUID, kind domain.Kind, day domain.Day) string {
	return fmt.Sprintf("genlock:%s:%s:%s", userID, kind, day)
}

// GetArtifact probes the day-cache. The second return is false on miss;
// Redis being down is reported as a miss with the error for logging, so
// the durable store stays the source of truth.
func (r *Redis) GetArtifact(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day) (*domain.Artifact, bool, error) {
	raw, err := r.rdb.Get(ctx, artifactKey(userID, kind, day)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var a domain.Artifact
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, false, err
	}
	return &a, true, nil
}

// SetArtifact caches a canonical artifact. Degraded artifacts must not
// reach the cache; the generator never passes them here.
func (r *Redis) SetArtifact(ctx context.Context, a *domain.Artifact) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, artifactKey(a.UserID, a.Kind, a.Day), raw, artifactTTL).Err()
}

// releaseScript deletes a lock only if the caller still holds it, so an
// expired lease taken over by another worker is never released by the
// original holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// AcquireLock takes the per-key generation lease via SETNX with a TTL.
// A crashed holder's lease expires on its own. Returns the release
// token and whether the lock was obtained.
func (r *Redis) AcquireLock(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, lockKey(userID, kind, day), token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// ReleaseLock gives the lease back if the token still matches.
func (r *Redis) ReleaseLock(ctx context.Context, userID uuid.UUID, kind domain.Kind, day domain.Day, token string) error {
	return releaseScript.Run(ctx, r.rdb, []string{lockKey(userID, kind, day)}, token).Err()
}
