package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-claims/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-claims/pkg/extraclaims"
)

func newClaimsCommand(a *app) *cobra.Command {
	claimsCmd := &cobra.Command{
		Use:   "claims",
		Short: "Manage extra claims stored in PostgreSQL",
	}
	claimsCmd.AddCommand(newClaimsPutCommand(a))
	return claimsCmd
}

func newClaimsPutCommand(a *app) *cobra.Command {
	var (
		title        string
		regions      []string
		createSchema bool
	)
	cmd := &cobra.Command{
		Use:   "put <subject>",
		Short: "Create or replace the extra claims of a user",
		Long: `Writes the title and regions of the user identified by the token subject.
Cached claims keep serving the previous values until their cache entries expire.`,
		Example: `  claimsapi claims put 0a1b2c --title "Senior Analyst" --region USA --region Europe`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			client, err := postgres.NewClient(ctx, a.cfg.Postgres)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer client.Close()

			if createSchema || a.cfg.Claims.CreateSchema {
				if err := extraclaims.EnsureSchema(ctx, client); err != nil {
					return err
				}
			}
			claims := extraclaims.UserClaims{Title: title, Regions: regions}
			if err := extraclaims.Save(ctx, client, args[0], claims); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved claims for %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Job title")
	cmd.Flags().StringSliceVar(&regions, "region", nil, "Authorized region (repeatable)")
	cmd.Flags().BoolVar(&createSchema, "create-schema", false, "Create the user_claims table when missing")
	return cmd
}
