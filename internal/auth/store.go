package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RefreshStore tracks issued refresh token jtis so they can be rotated and
// revoked.
type RefreshStore struct {
	pool PgxPool
}

func NewRefreshStore(pool PgxPool) *RefreshStore {
	if pool == nil {
		return nil
	}
	return &RefreshStore{pool: pool}
}

func (s *RefreshStore) Insert(ctx context.Context, jti, accountID uuid.UUID, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (jti, account_id, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := s.pool.Exec(ctx, query, jti, accountID, expiresAt); err != nil {
		return fmt.Errorf("auth: insert refresh token: %w", err)
	}
	return nil
}

// Consume revokes the jti and reports whether it was still live. Rotation
// relies on this being atomic: two concurrent refreshes with the same token
// yield exactly one success.
func (s *RefreshStore) Consume(ctx context.Context, jti uuid.UUID) (bool, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE jti = $1 AND revoked_at IS NULL AND expires_at > now()
	`
	ct, err := s.pool.Exec(ctx, query, jti)
	if err != nil {
		return false, fmt.Errorf("auth: consume refresh token: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// RevokeAll revokes every live refresh token for the account (logout).
func (s *RefreshStore) RevokeAll(ctx context.Context, accountID uuid.UUID) error {
	query := `
		UPDATE refresh_tokens
		SET revoked_at = now()
		WHERE account_id = $1 AND revoked_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, accountID); err != nil {
		return fmt.Errorf("auth: revoke refresh tokens: %w", err)
	}
	return nil
}

// ErrInvalidToken covers malformed, expired, and revoked tokens alike so the
// handler leaks nothing about which case occurred.
var ErrInvalidToken = errors.New("auth: invalid token")
