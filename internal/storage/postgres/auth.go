package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/healthpulse/pulse/internal/models"
)

// AuthStore validates presented bearer credentials against auth_tokens.
// Tokens are stored hashed; issuance belongs to an external system.
type AuthStore struct {
	pool *pgxpool.Pool
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *AuthStore) LookupToken(ctx context.Context, token string) (int, string, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, subject FROM auth_tokens
		WHERE token_hash = $1 AND NOT revoked`, hashToken(token))

	var tenantID int
	var subject string
	if err := row.Scan(&tenantID, &subject); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", models.Errorf(models.ErrKindAuth, "unknown or revoked credential")
		}
		return 0, "", err
	}
	return tenantID, subject, nil
}

func (s *AuthStore) RevokeSubject(ctx context.Context, subject string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE auth_tokens SET revoked = TRUE WHERE subject = $1`, subject)
	return err
}
