package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alexey-kott/youdo-watcher/internal/model"
)

// Archive keeps a queryable copy of every notified task in PostgreSQL,
// alongside the users registered through the bot. It is a secondary sink:
// the Redis dedup store stays the single source of truth for what has been
// announced, and archive failures never block notification.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive creates and verifies a pgxpool connection pool.
func NewArchive(ctx context.Context, databaseURL string) (*Archive, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	return &Archive{pool: pool}, nil
}

// Close releases the pool. Called once at shutdown.
func (a *Archive) Close() {
	a.pool.Close()
}

// SaveTask inserts the task's raw JSON into task_feed, skipping duplicates
// by external id.
func (a *Archive) SaveTask(ctx context.Context, task model.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %d: %w", task.ID, err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO task_feed (external_id, raw_data)
		 SELECT $1, $2::jsonb
		 WHERE NOT EXISTS (
		   SELECT 1 FROM task_feed WHERE external_id = $1
		 )`,
		task.ID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert task %d: %w", task.ID, err)
	}

	return nil
}

// RegisterUser upserts a Telegram user seen by the bot command layer.
func (a *Archive) RegisterUser(ctx context.Context, u model.User) error {
	_, err := a.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, first_name, last_name)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET username = EXCLUDED.username,
		     first_name = EXCLUDED.first_name,
		     last_name = EXCLUDED.last_name`,
		u.ID, u.Username, u.FirstName, u.LastName,
	)
	if err != nil {
		return fmt.Errorf("register user %d: %w", u.ID, err)
	}

	return nil
}
