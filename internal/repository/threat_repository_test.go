package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/citygrid-api/internal/models"
)

func TestAdjustScoreIsSingleClampedUpsert(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThreatRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (name) DO UPDATE SET score = LEAST(100, GREATEST(0, threat_scores.score + $2::integer))")).
		WithArgs(models.GlobalThreatScore, 40, now).
		WillReturnRows(sqlmock.NewRows([]string{"score"}).AddRow(100))

	score, err := repo.AdjustScore(context.Background(), models.GlobalThreatScore, 40, now)
	require.NoError(t, err)
	assert.Equal(t, 100, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreMissingRowReadsZero(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThreatRepository(db)

	mock.ExpectQuery("SELECT score FROM threat_scores").WithArgs("global").WillReturnError(sql.ErrNoRows)

	score, err := repo.Score(context.Background(), "global")
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestInsertEventAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewThreatRepository(db)

	mock.ExpectExec("INSERT INTO threat_events").WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.ThreatEvent{Type: models.ThreatBruteForce, Severity: models.SeverityHigh, Endpoint: "/auth/login"}
	require.NoError(t, repo.InsertEvent(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.CreatedAt.IsZero())
}
