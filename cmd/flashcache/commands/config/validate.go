package config

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
	"github.com/marmos91/flashcache/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate the flashcache configuration file.

Checks for syntax errors, missing required fields and invalid values, and
warns about settings that are valid but probably unintended.

Examples:
  flashcache config validate
  flashcache config validate --config /etc/flashcache/config.yaml`,
	RunE: runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return err
	}

	displayPath := cmdutil.ConfigPath(cmd)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	fmt.Fprintln(out, "Validation: OK")

	if warnings := configWarnings(cfg); len(warnings) > 0 {
		fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			fmt.Fprintf(out, "  - %s\n", w)
		}
	}

	fmt.Fprintln(out, "\nConfiguration summary:")
	slots := cfg.Cache.Size.Slots(cfg.Cache.BlockSize)
	return output.PrintTable(out, (&output.KeyValues{}).
		Add("Device", cfg.Cache.DevicePath).
		Add("Ring", fmt.Sprintf("%s in %d slots of %s", cfg.Cache.Size, slots, cfg.Cache.BlockSize)).
		Add("Write mode", cfg.Cache.WriteMode).
		Add("Tablespace", cfg.Tablespace.Path).
		Add("API port", cfg.API.Port).
		Add("Log level", cfg.Logging.Level))
}

func configWarnings(cfg *config.Config) []string {
	var warnings []string
	if _, err := os.Stat(cfg.Tablespace.Path); err != nil {
		warnings = append(warnings, fmt.Sprintf("tablespace path %s does not exist yet", cfg.Tablespace.Path))
	}
	if cfg.Cache.FastShutdown && !cfg.Cache.EnableDump {
		warnings = append(warnings, "fast_shutdown without dumps forces a full device scan on every start")
	}
	if cfg.Cache.EnableCompress && cfg.Cache.PageSize < 4096 {
		warnings = append(warnings, "compression rarely saves a slot on pages smaller than 4KiB")
	}
	if cfg.Cache.BackupDir == "" {
		warnings = append(warnings, "backup_dir is not set; POST /backup is disabled")
	}
	return warnings
}
