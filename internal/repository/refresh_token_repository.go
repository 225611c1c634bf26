package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/citygrid-api/internal/models"
)

// ErrRefreshTokenConsumed is returned by Rotate when the presented token was
// already revoked, including by a concurrent rotation that won the race.
var ErrRefreshTokenConsumed = errors.New("refresh token already consumed")

// RefreshTokenRepository persists refresh token rotation chains.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new instance of RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create persists a refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	if err := insertRefreshToken(ctx, r.db, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindByJTI returns a refresh token record by identifier.
func (r *RefreshTokenRepository) FindByJTI(ctx context.Context, jti string) (*models.RefreshToken, error) {
	const query = `SELECT jti, account_id, fingerprint, expires_at, revoked, revoked_at, created_at FROM refresh_tokens WHERE jti = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, jti); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Rotate revokes oldJTI and persists next in one transaction. The revoke only
// succeeds while the old record is still active, so of two concurrent rotations
// of the same token exactly one commits; the loser gets ErrRefreshTokenConsumed.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldJTI string, next *models.RefreshToken, now time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE jti = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, revokeQuery, oldJTI, now)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke rotated token rows: %w", err)
	}
	if affected == 0 {
		return ErrRefreshTokenConsumed
	}

	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("persist rotated token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

// Revoke marks a single refresh token revoked. It reports whether a row changed.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, jti string, now time.Time) (bool, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE jti = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, jti, now)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	return affected > 0, nil
}

// RevokeAllForAccount revokes every active refresh token of the account and
// returns how many were revoked.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string, now time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE account_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, accountID, now)
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens rows: %w", err)
	}
	return affected, nil
}

func insertRefreshToken(ctx context.Context, exec sqlx.ExtContext, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (jti, account_id, fingerprint, expires_at, revoked, revoked_at, created_at) VALUES (:jti, :account_id, :fingerprint, :expires_at, :revoked, :revoked_at, :created_at)`
	_, err := sqlx.NamedExecContext(ctx, exec, query, token)
	return err
}
