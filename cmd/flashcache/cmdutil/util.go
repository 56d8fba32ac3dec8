// Package cmdutil holds helpers shared by the flashcache subcommands.
package cmdutil

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/internal/cli/output"
	"github.com/marmos91/flashcache/internal/cli/prompt"
	"github.com/marmos91/flashcache/pkg/apiclient"
	"github.com/marmos91/flashcache/pkg/config"
)

// Flags stores the global flag values accessible by subcommands.
var Flags = &GlobalFlags{}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	ServerURL string
	Output    string
}

// LoadConfig loads the configuration named by the --config flag.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.MustLoad(path)
}

// ConfigPath returns --config, or the default configuration path.
func ConfigPath(cmd *cobra.Command) string {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path
	}
	return config.GetDefaultConfigPath()
}

// LoadConfigOrDefaults loads the configuration named by --config, falling
// back to the defaults and the environment when no file exists.
func LoadConfigOrDefaults(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// ServerURL returns --server, or the local API address of the configuration.
func ServerURL(cfg *config.Config) string {
	if Flags.ServerURL != "" {
		return Flags.ServerURL
	}
	port := cfg.API.Port
	if port <= 0 {
		port = 8080
	}
	return fmt.Sprintf("http://localhost:%d", port)
}

// Client returns an API client for the running server.
func Client(cmd *cobra.Command) (*apiclient.Client, error) {
	if Flags.ServerURL != "" {
		return apiclient.New(Flags.ServerURL), nil
	}
	cfg, err := LoadConfigOrDefaults(cmd)
	if err != nil {
		return nil, err
	}
	return apiclient.New(ServerURL(cfg)), nil
}

// Printer returns a printer for --output writing to the command's stdout.
func Printer(cmd *cobra.Command) (*output.Printer, error) {
	format, err := output.ParseFormat(Flags.Output)
	if err != nil {
		return nil, err
	}
	return output.NewPrinter(cmd.OutOrStdout(), format), nil
}

// PrintResource prints data as JSON or YAML, or table in table mode.
func PrintResource(p *output.Printer, data any, table output.TableRenderer) error {
	if p.Format() == output.FormatTable {
		return p.Print(table)
	}
	return p.Print(data)
}

// RunWithConfirmation asks the operator to type word unless force is set,
// then runs fn. Declining is not an error.
func RunWithConfirmation(w io.Writer, label, word string, force bool, fn func() error) error {
	if !force {
		ok, err := prompt.ConfirmDanger(label, word)
		if errors.Is(err, prompt.ErrAborted) {
			_, _ = fmt.Fprintln(w, "\nAborted.")
			return nil
		}
		if err != nil {
			return err
		}
		if !ok {
			_, _ = fmt.Fprintln(w, "Aborted.")
			return nil
		}
	}
	return fn()
}

// BoolToYesNo converts a boolean to "yes" or "no".
func BoolToYesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
