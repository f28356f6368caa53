package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-ledger/internal/app"
	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func staticConfig() ConfigLoader {
	return func() (*app.Config, error) {
		return &app.Config{JWTSecret: "cli-test-secret", JWTIssuer: "clinic-ledger", JWTTTL: time.Hour}, nil
	}
}

func run(t *testing.T, load ConfigLoader, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	cmd := NewRootCommand(load)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenIssueProducesVerifiableToken(t *testing.T) {
	out, err := run(t, staticConfig(), "token", "issue", "--actor-id", "12", "--name", "front desk", "--perm", "billing.view", "--perm", "billing.edit")
	require.NoError(t, err)

	actor, err := auth.NewTokenService("cli-test-secret", "clinic-ledger").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.Equal(t, int64(12), actor.ID)
	require.Equal(t, "front desk", actor.Name)
	require.ElementsMatch(t, []string{shared.PermBillingView, shared.PermBillingEdit}, actor.Permissions)
}

func TestTokenIssueAllGrantsEveryScope(t *testing.T) {
	out, err := run(t, staticConfig(), "token", "issue", "--actor-id", "1", "--all")
	require.NoError(t, err)

	actor, err := auth.NewTokenService("cli-test-secret", "clinic-ledger").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	require.ElementsMatch(t, shared.LedgerScopes(), actor.Permissions)
}

func TestTokenIssueRequiresPermissions(t *testing.T) {
	_, err := run(t, staticConfig(), "token", "issue", "--actor-id", "1")
	require.ErrorContains(t, err, "at least one --perm")
}

func TestConfigErrorsSurface(t *testing.T) {
	failing := func() (*app.Config, error) { return nil, errors.New("jwt secret must be provided") }
	_, err := run(t, failing, "token", "issue", "--actor-id", "1", "--all")
	require.EqualError(t, err, "jwt secret must be provided")
}

func TestJobsEnqueueRejectsUnknownJob(t *testing.T) {
	_, err := run(t, staticConfig(), "jobs", "enqueue")
	require.Error(t, err)
}

func TestMigrationFilesPrefersDirectory(t *testing.T) {
	embedded, err := migrationFiles("")
	require.NoError(t, err)
	migrations, err := db.LoadMigrations(embedded)
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_only.sql"), []byte("SELECT 1;"), 0o600))
	files, err := migrationFiles(dir)
	require.NoError(t, err)
	migrations, err = db.LoadMigrations(files)
	require.NoError(t, err)
	require.Len(t, migrations, 1)
	require.Equal(t, 1, migrations[0].Version)

	_, err = migrationFiles(filepath.Join(dir, "missing"))
	require.Error(t, err)
}
