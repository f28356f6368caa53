package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetryRerunsSerializationFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), MaxTxAttempts, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("platform/db: commit tx: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), MaxTxAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, MaxTxAttempts, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), MaxTxAttempts, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	err = Retry(context.Background(), MaxTxAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRetryHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, MaxTxAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: "40001"}
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

type execRecorder struct {
	sql  string
	args []any
	tag  string
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql, e.args = sql, args
	return pgconn.NewCommandTag(e.tag), nil
}

func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (e *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func TestLockRowWritesTheRow(t *testing.T) {
	q := &execRecorder{tag: "UPDATE 1"}
	found, err := LockRow(context.Background(), q, "stock_items", 42)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "UPDATE stock_items SET row_version = row_version + 1 WHERE id = $1", q.sql)
	require.Equal(t, []any{int64(42)}, q.args)

	q.tag = "UPDATE 0"
	found, err = LockRow(context.Background(), q, "stock_items", 43)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMigrationsCarryRowVersionsAndInvoiceSequences(t *testing.T) {
	migrations, err := LoadMigrations(Migrations())
	require.NoError(t, err)
	var sql string
	for _, mig := range migrations {
		if mig.Version == 7 {
			sql = mig.SQL
		}
	}
	require.NotEmpty(t, sql)
	for _, table := range []string{"stock_items", "purchase_orders", "purchase_returns", "invoices"} {
		require.True(t, strings.Contains(sql, "ALTER TABLE "+table+" ADD COLUMN IF NOT EXISTS row_version"), table)
	}
	require.Contains(t, sql, "CREATE TABLE IF NOT EXISTS invoice_sequences")
}
