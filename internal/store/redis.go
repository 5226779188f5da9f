// Package store provides the durable task stores: the Redis dedup store that
// gates notifications, and an optional PostgreSQL archive.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every Redis connection failure. It must propagate to
// the pipeline: a swallowed failure on an existence check reads as "never
// seen" and causes a duplicate notification.
var ErrUnavailable = errors.New("store: redis unavailable")

// attemptsKeyPrefix namespaces the per-task enrichment failure counters away
// from the task payloads.
const attemptsKeyPrefix = "attempts:"

// TaskStore is the dedup gate: a task id present in the store is never
// notified again. Records are written once per id and survive restarts.
//
// Exists/Put is check-then-act, not an atomic check-and-set — safe for the
// single-poller deployment this service runs as. Running multiple pollers
// against one store would need SetNX here.
type TaskStore struct {
	rdb *redis.Client
}

// NewTaskStore parses redisURL, optionally overrides the DB index, and
// verifies connectivity.
func NewTaskStore(ctx context.Context, redisURL string, db int) (*TaskStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}
	if db > 0 {
		opts.DB = db
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &TaskStore{rdb: rdb}, nil
}

// Close releases the underlying connection. Called once at shutdown.
func (s *TaskStore) Close() error {
	return s.rdb.Close()
}

// Exists reports whether a record for id has been written. Never mutates
// state.
func (s *TaskStore) Exists(ctx context.Context, id int64) (bool, error) {
	n, err := s.rdb.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %d: %v", ErrUnavailable, id, err)
	}
	return n > 0, nil
}

// Put stores payload under id. Idempotent: a second write for the same id
// overwrites with identical or superseding content.
func (s *TaskStore) Put(ctx context.Context, id int64, payload []byte) error {
	if err := s.rdb.Set(ctx, key(id), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: put %d: %v", ErrUnavailable, id, err)
	}
	return nil
}

// BumpAttempts increments and returns the enrichment-failure counter for id.
// The counter persists across cycles and restarts, so the give-up cap is
// enforced over the task's whole lifetime, not per process.
func (s *TaskStore) BumpAttempts(ctx context.Context, id int64) (int64, error) {
	n, err := s.rdb.Incr(ctx, attemptsKeyPrefix+key(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: bump attempts %d: %v", ErrUnavailable, id, err)
	}
	return n, nil
}

func key(id int64) string {
	return fmt.Sprintf("%d", id)
}
