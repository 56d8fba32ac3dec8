// Package config implements the configuration subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Inspect flashcache configuration files.

Use 'flashcache init' to create a new configuration file.`,
}

func init() {
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(validateCmd)
}
