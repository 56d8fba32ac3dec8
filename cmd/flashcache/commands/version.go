package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
)

type versionInfo struct {
	Version string `json:"version" yaml:"version"`
	Commit  string `json:"commit" yaml:"commit"`
	Date    string `json:"date" yaml:"date"`
	Go      string `json:"go" yaml:"go"`
	OS      string `json:"os" yaml:"os"`
	Arch    string `json:"arch" yaml:"arch"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := cmdutil.Printer(cmd)
		if err != nil {
			return err
		}
		info := versionInfo{Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH}
		if p.Format() != output.FormatTable {
			return p.Print(info)
		}
		p.Printf("flashcache %s (commit: %s, built: %s, %s %s/%s)\n",
			info.Version, info.Commit, info.Date, info.Go, info.OS, info.Arch)
		return nil
	},
}
