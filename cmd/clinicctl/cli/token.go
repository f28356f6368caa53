package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/clinic-ledger/internal/auth"
	"github.com/odyssey-erp/clinic-ledger/internal/shared"
)

func tokenCmd(load ConfigLoader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API bearer tokens",
	}
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed bearer token for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetInt64("actor-id")
			name, _ := cmd.Flags().GetString("name")
			perms, _ := cmd.Flags().GetStringSlice("perm")
			all, _ := cmd.Flags().GetBool("all")
			ttl := cfg.JWTTTL
			if cmd.Flags().Changed("ttl") {
				ttl, _ = cmd.Flags().GetDuration("ttl")
			}
			if all {
				perms = shared.LedgerScopes()
			}
			if len(perms) == 0 {
				return errors.New("token issue: at least one --perm or --all is required")
			}
			tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTIssuer)
			raw, err := tokens.Issue(shared.Actor{ID: id, Name: name, Permissions: perms}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	issue.Flags().Int64("actor-id", 0, "actor id placed in the subject claim")
	issue.Flags().String("name", "", "display name")
	issue.Flags().StringSlice("perm", nil, "permission to grant, repeatable")
	issue.Flags().Bool("all", false, "grant every ledger permission")
	issue.Flags().Duration("ttl", 0, "token lifetime, defaults to JWT_TTL")
	_ = issue.MarkFlagRequired("actor-id")
	cmd.AddCommand(issue)
	return cmd
}
