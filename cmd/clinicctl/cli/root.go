// Package cli implements the clinicctl operations commands.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/clinic-ledger/internal/app"
)

// ConfigLoader reads runtime configuration, normally app.LoadConfig.
type ConfigLoader func() (*app.Config, error)

// NewRootCommand assembles the clinicctl command tree.
func NewRootCommand(load ConfigLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "clinicctl",
		Short:         "Operations tooling for the clinic ledger",
		SilenceUsage:  true,
	}
	root.AddCommand(migrateCmd(load))
	root.AddCommand(jobsCmd(load))
	root.AddCommand(tokenCmd(load))
	return root
}
