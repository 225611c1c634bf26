package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/citygrid-api/internal/models"
)

// ThreatRepository stores threat events and the global threat score.
type ThreatRepository struct {
	db *sqlx.DB
}

// NewThreatRepository creates a new instance of ThreatRepository.
func NewThreatRepository(db *sqlx.DB) *ThreatRepository {
	return &ThreatRepository{db: db}
}

// InsertEvent appends an immutable threat event.
func (r *ThreatRepository) InsertEvent(ctx context.Context, event *models.ThreatEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO threat_events (id, type, severity, account_id, endpoint, ip, detail, created_at) VALUES (:id, :type, :severity, :account_id, :endpoint, :ip, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("insert threat event: %w", err)
	}
	return nil
}

// AdjustScore adds delta to the named score in a single statement, clamped to
// [0,100], creating the row on first use. It returns the stored value.
func (r *ThreatRepository) AdjustScore(ctx context.Context, name string, delta int, now time.Time) (int, error) {
	const query = `INSERT INTO threat_scores (name, score, updated_at) VALUES ($1, LEAST(100, GREATEST(0, $2::integer)), $3)
ON CONFLICT (name) DO UPDATE SET score = LEAST(100, GREATEST(0, threat_scores.score + $2::integer)), updated_at = $3
RETURNING score`
	var score int
	if err := r.db.GetContext(ctx, &score, query, name, delta, now); err != nil {
		return 0, fmt.Errorf("adjust threat score: %w", err)
	}
	return score, nil
}

// Score returns the named score; a missing row reads as zero.
func (r *ThreatRepository) Score(ctx context.Context, name string) (int, error) {
	const query = `SELECT score FROM threat_scores WHERE name = $1`
	var score int
	if err := r.db.GetContext(ctx, &score, query, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("read threat score: %w", err)
	}
	return score, nil
}

// RecentEvents returns the newest events first.
func (r *ThreatRepository) RecentEvents(ctx context.Context, limit int) ([]models.ThreatEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, type, severity, account_id, endpoint, ip, detail, created_at FROM threat_events ORDER BY created_at DESC LIMIT $1`
	events := make([]models.ThreatEvent, 0, limit)
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list threat events: %w", err)
	}
	return events, nil
}
