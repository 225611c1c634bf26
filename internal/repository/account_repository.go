package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/citygrid-api/internal/models"
)

// ErrDuplicate is returned when a unique constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate record")

const accountColumns = `id, username, password_hash, role, zone, phone_number, phone_verified, trust_score, failed_login_count, locked, last_login_ip, last_login_country, last_login_lat, last_login_lon, last_login_at, last_login_device_id, override_expires_at, created_at, updated_at`

// AccountRepository provides database access for operator accounts.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// FindByUsername returns an account by username, ignoring case.
func (r *AccountRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(username) = lower($1) LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by username: %w", err)
	}
	return &account, nil
}

// FindByID returns an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}

// Create inserts a new account. Usernames are stored lower-cased.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `INSERT INTO accounts (id, username, password_hash, role, zone, phone_number, phone_verified, trust_score, failed_login_count, locked, created_at, updated_at) VALUES (:id, lower(:username), :password_hash, :role, :zone, :phone_number, :phone_verified, :trust_score, 0, FALSE, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// AdjustTrust adds delta to the account's trust score and returns the bounded result.
// The increment and the clamp run in one transaction; the increment is a single
// relative UPDATE so concurrent adjustments never lose each other.
func (r *AccountRepository) AdjustTrust(ctx context.Context, id string, delta int) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin trust adjustment: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var raw int
	const incrementQuery = `UPDATE accounts SET trust_score = trust_score + $2, updated_at = $3 WHERE id = $1 RETURNING trust_score`
	if err := tx.GetContext(ctx, &raw, incrementQuery, id, delta, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, err
		}
		return 0, fmt.Errorf("increment trust score: %w", err)
	}

	if raw < models.MinTrustScore || raw > models.MaxTrustScore {
		const clampQuery = `UPDATE accounts SET trust_score = LEAST($2, GREATEST($3, trust_score)) WHERE id = $1 AND (trust_score < $3 OR trust_score > $2)`
		if _, err := tx.ExecContext(ctx, clampQuery, id, models.MaxTrustScore, models.MinTrustScore); err != nil {
			return 0, fmt.Errorf("clamp trust score: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit trust adjustment: %w", err)
	}
	return clamp(raw, models.MinTrustScore, models.MaxTrustScore), nil
}

// RecordFailedLogin increments the failure counter and locks the account once it
// reaches maxFailures. It returns the new counter and lock state.
func (r *AccountRepository) RecordFailedLogin(ctx context.Context, id string, maxFailures int) (int, bool, error) {
	const query = `UPDATE accounts SET failed_login_count = failed_login_count + 1, locked = locked OR (failed_login_count + 1 >= $2), updated_at = $3 WHERE id = $1 RETURNING failed_login_count, locked`
	var result struct {
		Count  int  `db:"failed_login_count"`
		Locked bool `db:"locked"`
	}
	if err := r.db.GetContext(ctx, &result, query, id, maxFailures, time.Now().UTC()); err != nil {
		return 0, false, fmt.Errorf("record failed login: %w", err)
	}
	return result.Count, result.Locked, nil
}

// RecordSuccessfulLogin resets the failure counter and stores the login origin.
func (r *AccountRepository) RecordSuccessfulLogin(ctx context.Context, id string, login models.LoginRecord) error {
	var lat, lon *float64
	if login.Located {
		lat, lon = &login.Lat, &login.Lon
	}
	const query = `UPDATE accounts SET failed_login_count = 0, last_login_ip = $2, last_login_country = $3, last_login_lat = $4, last_login_lon = $5, last_login_at = $6, last_login_device_id = $7, updated_at = $6 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, login.IP, nullIfEmpty(login.Country), lat, lon, login.At, nullIfEmpty(login.DeviceID)); err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return nil
}

// SetPhoneVerified flips the phone verification flag.
func (r *AccountRepository) SetPhoneVerified(ctx context.Context, id string, verified bool) error {
	const query = `UPDATE accounts SET phone_verified = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, verified, time.Now().UTC()); err != nil {
		return fmt.Errorf("set phone verified: %w", err)
	}
	return nil
}

// GrantOverride opens an emergency override window unless one is already active at now.
// It reports false when an active grant blocked the update.
func (r *AccountRepository) GrantOverride(ctx context.Context, id string, expiresAt, now time.Time) (bool, error) {
	const query = `UPDATE accounts SET override_expires_at = $2, updated_at = $3 WHERE id = $1 AND (override_expires_at IS NULL OR override_expires_at <= $3)`
	res, err := r.db.ExecContext(ctx, query, id, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("grant override: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("grant override rows: %w", err)
	}
	return affected == 1, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
