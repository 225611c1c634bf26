package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/pkg/cache"
)

// RevokedTokenRepository appends to the durable revoked-token log. It is never
// read on the request path.
type RevokedTokenRepository struct {
	db *sqlx.DB
}

// NewRevokedTokenRepository creates a new instance of RevokedTokenRepository.
func NewRevokedTokenRepository(db *sqlx.DB) *RevokedTokenRepository {
	return &RevokedTokenRepository{db: db}
}

// Insert records a revocation; repeated inserts of the same jti are ignored.
func (r *RevokedTokenRepository) Insert(ctx context.Context, record *models.RevokedToken) error {
	if record.RevokedAt.IsZero() {
		record.RevokedAt = time.Now().UTC()
	}
	const query = `INSERT INTO revoked_tokens (jti, account_id, expires_at, reason, revoked_at) VALUES (:jti, :account_id, :expires_at, :reason, :revoked_at) ON CONFLICT (jti) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("insert revoked token: %w", err)
	}
	return nil
}

// RevocationCache is the hot-path revoked jti set held in Redis.
type RevocationCache struct {
	client *redis.Client
}

// NewRevocationCache creates a new instance of RevocationCache.
func NewRevocationCache(client *redis.Client) *RevocationCache {
	return &RevocationCache{client: client}
}

func revokedKey(jti string) string { return cache.Key("revoked", jti) }

// Mark stores jti for ttl. Existing entries are left untouched so repeated
// revocations neither extend nor duplicate the entry.
func (c *RevocationCache) Mark(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.SetNX(ctx, revokedKey(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("redis mark revoked %s: %w", jti, err)
	}
	return nil
}

// Contains reports whether jti is revoked.
func (c *RevocationCache) Contains(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check revoked %s: %w", jti, err)
	}
	return n > 0, nil
}
