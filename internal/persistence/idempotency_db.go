package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// DBIdempotencyChecker looks up applied commands in the event log
type DBIdempotencyChecker struct {
	db      *sql.DB
	dialect Dialect
}

func NewDBIdempotencyChecker(db *sql.DB, dialect Dialect) *DBIdempotencyChecker {
	return &DBIdempotencyChecker{db: db, dialect: dialect}
}

// IsDuplicate reports whether an event with this operation and command ID was logged
func (c *DBIdempotencyChecker) IsDuplicate(operation string, commandID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	var exists int
	err := c.db.QueryRowContext(ctx, c.dialect.Rebind(`
		SELECT 1
		FROM events
		WHERE operation = $1 AND idempotency_key = $2
		LIMIT 1
	`), operation, commandID).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
