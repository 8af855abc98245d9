package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Long:  `Prints every setting by environment variable name after defaults, the config file and the environment are applied. Secrets are redacted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range a.cfg.Describe() {
				fmt.Fprintf(w, "%s\t%s\n", e.Name, e.Value)
			}
			return w.Flush()
		},
	}
}
