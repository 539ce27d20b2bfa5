// Package cli implements the postforge-hub command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for postforge-hub.
// When invoked without a subcommand, it delegates to "run".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "postforge-hub",
		Short: "Postforge hub — paid-session backend for social post generation",
		Long:  "Postforge hub handles session issuance, payment settlement, style quotas, and the generation API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the hub version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("postforge-hub " + version)
		},
	}
}
