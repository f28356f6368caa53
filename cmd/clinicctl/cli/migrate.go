package cli

import (
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/clinic-ledger/internal/platform/db"
)

func migrateCmd(load ConfigLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations",
	}
	cmd.PersistentFlags().String("dir", "", "read migrations from this directory instead of the embedded set")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd, load)
			if err != nil {
				return err
			}
			defer closeFn()
			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed after %d applied: %w", count, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closeFn, err := openMigrator(cmd, load)
			if err != nil {
				return err
			}
			defer closeFn()
			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printStatus(cmd, statuses)
		},
	})
	return cmd
}

func openMigrator(cmd *cobra.Command, load ConfigLoader) (*db.Migrator, func(), error) {
	cfg, err := load()
	if err != nil {
		return nil, nil, err
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	files, err := migrationFiles(dir)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.New(cmd.Context(), cfg.PGDSN, 2)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, files), pool.Close, nil
}

// migrationFiles picks a directory on disk when given, else the embedded migrations.
func migrationFiles(dir string) (fs.FS, error) {
	if dir == "" {
		return db.Migrations(), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("migrations dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("migrations dir: %s is not a directory", dir)
	}
	return os.DirFS(dir), nil
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		state, at := "pending", "-"
		if s.Applied {
			state = "applied"
			if s.AppliedAt != nil {
				at = s.AppliedAt.UTC().Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%03d\t%s\t%s\t%s\n", s.Version, s.Name, state, at)
	}
	return w.Flush()
}
