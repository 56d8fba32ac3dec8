package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample flashcache configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/flashcache/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  flashcache init

  # Initialize with custom path
  flashcache init --config /etc/flashcache/config.yaml

  # Force overwrite existing config
  flashcache init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()

	var err error
	if configPath != "" {
		err = config.InitConfigToPath(configPath, initForce)
	} else {
		configPath, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point cache.device_path at the SSD and tablespace.path at the data directory")
	fmt.Fprintln(out, "  2. Start the server with: flashcache start")
	fmt.Fprintf(out, "  3. Or specify custom config: flashcache start --config %s\n", configPath)
	return nil
}
