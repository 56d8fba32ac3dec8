// Package commands implements the flashcache CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/cmd/flashcache/commands/backup"
	"github.com/marmos91/flashcache/cmd/flashcache/commands/config"
	"github.com/marmos91/flashcache/cmd/flashcache/commands/dump"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "flashcache",
	Short: "flashcache - SSD second-level page cache",
	Long: `flashcache keeps tablespace pages on a fast device in front of the
tablespace files. Pages are appended to a ring on the device, written back to
the tablespace in the background, and survive restarts through a persistent
log, a warm-start dump and a recovery scan.

Use "flashcache [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/flashcache/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&cmdutil.Flags.ServerURL, "server", "", "API server URL (default: http://localhost:<api.port>)")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(config.Cmd)
	rootCmd.AddCommand(dump.Cmd)
	rootCmd.AddCommand(backup.Cmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path from the global flag.
func GetConfigFile() string {
	return cfgFile
}
