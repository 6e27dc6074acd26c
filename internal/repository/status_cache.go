package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/minutron/minutron/internal/rat"
)

// SQLStatusCache persists resolved RAT statuses so they survive restarts.
type SQLStatusCache struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLStatusCache(db *DB, logger *slog.Logger) *SQLStatusCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStatusCache{db: db, logger: logger, now: time.Now}
}

func (c *SQLStatusCache) Get(ctx context.Context, key rat.Key) (string, bool) {
	var token string
	err := c.db.QueryRowContext(ctx,
		c.db.Rebind(`SELECT token FROM rat_status WHERE occurrence = ? AND product = ?`),
		key.Occurrence, key.Product,
	).Scan(&token)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			c.logger.Error("failed to read rat status", "occurrence", key.Occurrence, "product", key.Product, "error", err)
		}
		return "", false
	}
	return token, true
}

func (c *SQLStatusCache) Put(ctx context.Context, key rat.Key, token string) error {
	_, err := c.db.ExecContext(ctx,
		c.db.Rebind(`INSERT INTO rat_status (occurrence, product, token, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (occurrence, product) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`),
		key.Occurrence, key.Product, token, c.now().UTC(),
	)
	if err != nil {
		c.logger.Error("failed to write rat status", "occurrence", key.Occurrence, "product", key.Product, "error", err)
	}
	return err
}

// Count returns the number of persisted statuses.
func (c *SQLStatusCache) Count(ctx context.Context) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rat_status`).Scan(&n)
	return n, err
}
