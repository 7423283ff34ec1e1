package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pulseworks/taskmetrics/internal/service/stats"
)

// UserRepo implements stats.UserStore against the account tables owned by
// the auth collaborator. This service only reads user ids and refresh
// tokens; it never writes to these tables.
type UserRepo struct{ db *sql.DB }

// NewUserRepo creates a Postgres-backed user store.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveUser upserts the account row at login. An empty refresh token never
// overwrites a stored one (the provider only reissues it on re-consent).
func (r *UserRepo) SaveUser(ctx context.Context, id, email, refreshToken string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, refresh_token, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email         = EXCLUDED.email,
			refresh_token = COALESCE(NULLIF($3, ''), users.refresh_token),
			updated_at    = NOW()
	`, id, email, refreshToken)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *UserRepo) RefreshToken(ctx context.Context, userID string) (string, error) {
	var token sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT refresh_token FROM users WHERE id = $1`, userID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", stats.ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get refresh token: %w", err)
	}
	if !token.Valid || token.String == "" {
		return "", stats.ErrCredentialMissing
	}
	return token.String, nil
}
