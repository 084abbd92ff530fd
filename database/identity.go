package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UserEmail resolves a local user id to its display email.
func (db *Database) UserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := db.Pool.QueryRow(ctx, `SELECT email FROM users WHERE user_id = $1`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("user email query failed: %w", err)
	}
	return email, nil
}
