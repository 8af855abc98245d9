// Package cmd implements the claimsapi command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-claims/internal/server"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// app carries state shared by subcommands of one invocation.
type app struct {
	configPath string
	cfg        server.Config
}

// NewRootCommand builds the claimsapi command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "claimsapi",
		Short: "Claims-based authorization API",
		Long: `claimsapi serves an API protected by OAuth access tokens. Each request
is authorized by validating its JWT, resolving extra claims and caching the
result per token. Settings come from CLAIMSAPI_* environment variables and an
optional YAML or JSON file.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig(a.configPath, nil)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Configuration file (YAML or JSON); environment variables take precedence")

	root.AddCommand(newServeCommand(a))
	root.AddCommand(newConfigCommand(a))
	root.AddCommand(newClaimsCommand(a))
	return root
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
