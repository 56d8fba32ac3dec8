package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and FLASHCACHE_* environment
overrides are applied. Prints YAML unless -o json is given.

Examples:
  flashcache config show
  flashcache config show -o json --config /etc/flashcache/config.yaml`,
	RunE: runConfigShow,
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfigOrDefaults(cmd)
	if err != nil {
		return err
	}

	format, _ := output.ParseFormat(cmdutil.Flags.Output)
	if format == output.FormatJSON {
		return output.PrintJSON(cmd.OutOrStdout(), cfg)
	}
	return output.PrintYAML(cmd.OutOrStdout(), cfg)
}
