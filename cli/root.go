// Package cli is the moddash command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	return newRootCmd(version, commit, date).Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "moddash",
		Short: "Moderation dashboard for platform administrators",
		Long: `moddash serves the administrator dashboard: password login with lockout,
timed sessions, user lookup, messaging, bans and a persistent audit trail.

Settings come from an optional config file and MODDASH_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (JSON, YAML or TOML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHashPasswordCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}
