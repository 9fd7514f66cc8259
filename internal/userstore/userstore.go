// Package userstore is the MySQL-backed account table: credentials,
// priority, quota, and the best-effort counters the dispatcher updates after
// a key-packet dispatch. Quota-bearing fields are always read fresh from the
// database and never cached, since they must be real-time accurate.
package userstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/go-sql-driver/mysql"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Account is one row of the accounts table.
type Account struct {
	UserID               int64
	UserName             string
	PasswordCipher       string // AES-CBC + base64, see internal/auth
	Status               string // "0" normal, "1" disabled
	Priority             int
	RemainingRequests    int
	TotalRequests        int // -1 = unlimited
	PriorityUpdatedAt    time.Time
	DecryptSuccessCount  int
}

// Store wraps a MySQL connection pool with account lookups and the atomic
// quota charge.
type Store struct {
	db *sql.DB
}

// Open connects to MySQL using the given DSN and applies pending migrations.
// Pool sizing mirrors the scale the original async engine was tuned for
// (pool_size=50, max_overflow=50 in the source), expressed as Go's
// open/idle connection limits.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(50)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	dbDriver, err := mysql.WithInstance(s.db, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "mysql", dbDriver)
	if err != nil {
		return fmt.Errorf("new migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Health checks connectivity.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Lookup fetches an account by username.
func (s *Store) Lookup(ctx context.Context, username string) (Account, error) {
	var a Account
	var priorityUpdated sql.NullTime
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, user_name, password, status, priority, remaining_requests,
		       total_requests, priority_updated_at, decrypt_success_count
		FROM accounts WHERE user_name = ?`, username)
	err := row.Scan(&a.UserID, &a.UserName, &a.PasswordCipher, &a.Status, &a.Priority,
		&a.RemainingRequests, &a.TotalRequests, &priorityUpdated, &a.DecryptSuccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if priorityUpdated.Valid {
		a.PriorityUpdatedAt = priorityUpdated.Time
	}
	return a, nil
}

// ErrNotFound is returned by Lookup when no account matches the username.
var ErrNotFound = errors.New("account not found")

// ChargeOne performs the atomic quota charge: the UPDATE only takes effect
// if the account has unlimited quota (total_requests == -1) or still has
// remaining headroom (remaining_requests < total_requests). This is the
// single conditional statement that keeps concurrent charges from ever
// pushing remaining_requests past total_requests.
func (s *Store) ChargeOne(ctx context.Context, username string) (ok bool, remaining int, err error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET remaining_requests = remaining_requests + 1
		WHERE user_name = ? AND (total_requests = -1 OR remaining_requests < total_requests)`,
		username)
	if err != nil {
		return false, 0, fmt.Errorf("charge account: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("charge rows affected: %w", err)
	}
	if affected == 0 {
		return false, 0, nil
	}

	var remainingAfter int
	if err := s.db.QueryRowContext(ctx, `SELECT remaining_requests FROM accounts WHERE user_name = ?`, username).
		Scan(&remainingAfter); err != nil {
		return true, 0, fmt.Errorf("read remaining after charge: %w", err)
	}
	return true, remainingAfter, nil
}

// OrderSummary renders "used/total" or "used/unlimited" for /api/login's
// orders field. /api/query/persondata's visitTimes uses it for bounded
// accounts and reports plain "unlimited" for unlimited ones.
func OrderSummary(a Account) string {
	if a.TotalRequests == -1 {
		return fmt.Sprintf("%d/unlimited", a.RemainingRequests)
	}
	return fmt.Sprintf("%d/%d", a.RemainingRequests, a.TotalRequests)
}

// TouchLastRequest stamps the account's last-request timestamp. Best-effort:
// callers must never let a failure here affect the caller-facing response,
// per the distilled spec's guidance on telemetry side effects.
func (s *Store) TouchLastRequest(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_request_time = ? WHERE user_name = ?`, time.Now(), username)
	if err != nil {
		return fmt.Errorf("touch last request: %w", err)
	}
	return nil
}

// BumpDecryptSuccess increments the account's success counter. Best-effort.
func (s *Store) BumpDecryptSuccess(ctx context.Context, username string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET decrypt_success_count = decrypt_success_count + 1 WHERE user_name = ?`, username)
	if err != nil {
		return fmt.Errorf("bump decrypt success: %w", err)
	}
	return nil
}

// BumpUpstreamCounter increments one of the best-effort per-upstream
// counters. kind must be "request_total", "keygen_busy_count", or
// "key_success_count".
func (s *Store) BumpUpstreamCounter(ctx context.Context, upstreamIndex int, kind string) error {
	switch kind {
	case "request_total", "keygen_busy_count", "key_success_count":
	default:
		return fmt.Errorf("bump upstream counter: unknown kind %q", kind)
	}
	query := fmt.Sprintf(`
		INSERT INTO upstream_stats (upstream_index, %s) VALUES (?, 1)
		ON DUPLICATE KEY UPDATE %s = %s + 1`, kind, kind, kind)
	if _, err := s.db.ExecContext(ctx, query, upstreamIndex); err != nil {
		return fmt.Errorf("bump upstream counter: %w", err)
	}
	return nil
}

// RecordDroneHistory appends an audit row for a successful key dispatch.
// Retention trimming of this table is out of scope.
func (s *Store) RecordDroneHistory(ctx context.Context, upstreamIndex int, userID int64, droneID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drone_key_history (upstream_index, user_id, drone_id) VALUES (?, ?, ?)`,
		upstreamIndex, userID, droneID)
	if err != nil {
		return fmt.Errorf("record drone history: %w", err)
	}
	return nil
}
