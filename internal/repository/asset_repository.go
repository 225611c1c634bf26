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

// AssetRepository provides access to controllable infrastructure assets.
type AssetRepository struct {
	db *sqlx.DB
}

// NewAssetRepository creates a new instance of AssetRepository.
func NewAssetRepository(db *sqlx.DB) *AssetRepository {
	return &AssetRepository{db: db}
}

// FindByID returns an asset by identifier.
func (r *AssetRepository) FindByID(ctx context.Context, id string) (*models.Asset, error) {
	const query = `SELECT id, module, zone, name, state, updated_at FROM assets WHERE id = $1 LIMIT 1`
	var asset models.Asset
	if err := r.db.GetContext(ctx, &asset, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find asset: %w", err)
	}
	return &asset, nil
}

// ListByModule returns the assets of a module, optionally restricted to one zone.
func (r *AssetRepository) ListByModule(ctx context.Context, module models.Module, zone string) ([]models.Asset, error) {
	query := `SELECT id, module, zone, name, state, updated_at FROM assets WHERE module = $1`
	args := []interface{}{module}
	if zone != "" {
		query += ` AND zone = $2`
		args = append(args, zone)
	}
	query += ` ORDER BY id`

	assets := []models.Asset{}
	if err := r.db.SelectContext(ctx, &assets, query, args...); err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return assets, nil
}

// MergeState merges patch into the stored state.
func (r *AssetRepository) MergeState(ctx context.Context, id string, patch models.AssetState, now time.Time) error {
	const query = `UPDATE assets SET state = state || $2::jsonb, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, patch, now)
	if err != nil {
		return fmt.Errorf("update asset state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update asset state rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
