package userstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderSummary_Unlimited(t *testing.T) {
	a := Account{RemainingRequests: 7, TotalRequests: -1}
	assert.Equal(t, "7/unlimited", OrderSummary(a))
}

func TestOrderSummary_Bounded(t *testing.T) {
	a := Account{RemainingRequests: 3, TotalRequests: 10}
	assert.Equal(t, "3/10", OrderSummary(a))
}

// newTestStore opens a real MySQL instance for integration-style tests.
// Skips when MYSQL_TEST_DSN is not set, matching the pack's convention of
// not requiring a live database for routine unit test runs.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MYSQL_TEST_DSN")
	if dsn == "" {
		t.Skip("MYSQL_TEST_DSN not set; skipping mysql-backed userstore test")
	}
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *Store, username string, remaining, total int) {
	t.Helper()
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_name, password, remaining_requests, total_requests)
		VALUES (?, 'x', ?, ?)
		ON DUPLICATE KEY UPDATE remaining_requests = VALUES(remaining_requests), total_requests = VALUES(total_requests)`,
		username, remaining, total)
	require.NoError(t, err)
}

func TestLookup_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Lookup(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChargeOne_SucceedsUnderQuota(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "quota-user", 0, 5)

	ok, remaining, err := s.ChargeOne(context.Background(), "quota-user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
}

func TestChargeOne_RejectsAtQuota(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "exhausted-user", 5, 5)

	ok, _, err := s.ChargeOne(context.Background(), "exhausted-user")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChargeOne_UnlimitedAlwaysSucceeds(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "unlimited-user", 1000, -1)

	ok, _, err := s.ChargeOne(context.Background(), "unlimited-user")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBumpUpstreamCounter_InsertsThenIncrements(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.BumpUpstreamCounter(ctx, 99, "request_total"))
	require.NoError(t, s.BumpUpstreamCounter(ctx, 99, "request_total"))

	var total int64
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT request_total FROM upstream_stats WHERE upstream_index = ?`, 99).Scan(&total))
	assert.Equal(t, int64(2), total)
}
