package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnauthenticated is returned when a credential resolves to no user.
var ErrUnauthenticated = errors.New("unauthenticated")

// Repository verifies bearer credentials against the platform's token
// table. Token issuance lives in the main platform; this side only reads.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a token verification repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Verify resolves a bearer token to its user id. Revoked and unknown
// tokens both come back as ErrUnauthenticated.
func (r *Repository) Verify(ctx context.Context, credential string) (string, error) {
	const query = `
		SELECT user_id
		FROM api_tokens
		WHERE token = $1 AND revoked_at IS NULL AND expires_at > now()
	`

	var userID string
	err := r.pool.QueryRow(ctx, query, credential).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", fmt.Errorf("failed to verify credential: %w", err)
	}
	return userID, nil
}
