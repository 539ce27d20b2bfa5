// Package cmd wires the postforge CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for the postforge client.
// Bare invocation starts the interactive TUI.
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:           "postforge",
		Short:         "PostForge — generate social posts for your business site",
		Long:          "PostForge analyzes your business website and writes ready-to-publish social posts in nine styles. One purchase opens a time-limited session; each style can be used once.",
		RunE:          runRun,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newPriceCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("hub", "", "hub base URL (overrides config)")

	return root
}
