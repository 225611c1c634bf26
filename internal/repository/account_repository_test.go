package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/citygrid-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var accountColumnNames = []string{"id", "username", "password_hash", "role", "zone", "phone_number", "phone_verified", "trust_score", "failed_login_count", "locked", "last_login_ip", "last_login_country", "last_login_lat", "last_login_lon", "last_login_at", "last_login_device_id", "override_expires_at", "created_at", "updated_at"}

func TestFindByUsernameIgnoresCase(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(accountColumnNames).
		AddRow("a1", "operator", "hash", string(models.RoleTrafficOperator), "north", "+6281", true, 100, 0, false, nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE lower(username) = lower($1) LIMIT 1")).
		WithArgs("Operator").
		WillReturnRows(rows)

	account, err := repo.FindByUsername(context.Background(), "Operator")
	require.NoError(t, err)
	assert.Equal(t, "operator", account.Username)
	assert.Equal(t, models.RoleTrafficOperator, account.Role)
	assert.Nil(t, account.PreviousLogin())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery("FROM accounts WHERE id = \\$1").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCreateAccountDuplicate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectExec("INSERT INTO accounts").WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Account{Username: "dup", Role: models.RoleAnalyst, Zone: "north"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestAdjustTrustWithinBoundsSkipsClamp(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE accounts SET trust_score = trust_score + $2")).
		WithArgs("a1", -15, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"trust_score"}).AddRow(85))
	mock.ExpectCommit()

	score, err := repo.AdjustTrust(context.Background(), "a1", -15)
	require.NoError(t, err)
	assert.Equal(t, 85, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustTrustClampsOverflowInSameTransaction(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE accounts SET trust_score = trust_score").
		WithArgs("a1", -50, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"trust_score"}).AddRow(-20))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET trust_score = LEAST($2, GREATEST($3, trust_score))")).
		WithArgs("a1", 100, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	score, err := repo.AdjustTrust(context.Background(), "a1", -50)
	require.NoError(t, err)
	assert.Equal(t, 0, score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustTrustRollsBackOnClampFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE accounts SET trust_score = trust_score").
		WillReturnRows(sqlmock.NewRows([]string{"trust_score"}).AddRow(101))
	mock.ExpectExec("LEAST").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.AdjustTrust(context.Background(), "a1", 1)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFailedLoginLocksAtThreshold(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SET failed_login_count = failed_login_count + 1, locked = locked OR (failed_login_count + 1 >= $2)")).
		WithArgs("a1", 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_count", "locked"}).AddRow(5, true))

	count, locked, err := repo.RecordFailedLogin(context.Background(), "a1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.True(t, locked)
}

func TestGrantOverrideRejectedWhileActive(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	now := time.Now()
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND (override_expires_at IS NULL OR override_expires_at <= $3)")).
		WithArgs("a1", now.Add(15*time.Minute), now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	granted, err := repo.GrantOverride(context.Background(), "a1", now.Add(15*time.Minute), now)
	require.NoError(t, err)
	assert.False(t, granted)
}

func TestRecordSuccessfulLogin(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAccountRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec("UPDATE accounts SET failed_login_count = 0").
		WithArgs("a1", "10.0.0.1", "ID", -6.2, 106.8, at, "dev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RecordSuccessfulLogin(context.Background(), "a1", models.LoginRecord{
		IP: "10.0.0.1", Country: "ID", Lat: -6.2, Lon: 106.8, Located: true, DeviceID: "dev-1", At: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
