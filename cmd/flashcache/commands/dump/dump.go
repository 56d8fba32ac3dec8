// Package dump implements the warm-start dump subcommands.
package dump

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
	"github.com/marmos91/flashcache/pkg/flashcache"
)

// Cmd is the dump subcommand.
var Cmd = &cobra.Command{
	Use:   "dump",
	Short: "Warm-start dump operations",
	Long: `Write or inspect the dump file: the snapshot of block metadata that lets
a restart skip the full device scan.`,
}

var showLimit int

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Ask the running server to write its dump now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := cmdutil.Client(cmd)
		if err != nil {
			return err
		}
		if err := client.Dump(); err != nil {
			return fmt.Errorf("dump failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Dump written")
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "List the blocks recorded in a dump file",
	Long: `List the blocks recorded in a dump file. Without a path the dump of the
configured cache is read.

Examples:
  flashcache dump show
  flashcache dump show /ssd/ib_flash_cache.dump --limit 0 -o json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runShow,
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Maximum number of blocks listed in table output (0 for all)")
	Cmd.AddCommand(writeCmd)
	Cmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := cmdutil.LoadConfigOrDefaults(cmd)
		if err != nil {
			return err
		}
		path = cfg.Cache.DumpPath
	}

	entries, err := flashcache.ReadDump(path)
	if err != nil {
		return fmt.Errorf("failed to read dump %s: %w", path, err)
	}

	p, err := cmdutil.Printer(cmd)
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(entries)
	}

	if err := p.Print(entriesTable(entries, showLimit)); err != nil {
		return err
	}
	p.Printf("\n%s\n", summary(entries))
	return nil
}

func entriesTable(entries []flashcache.DumpEntry, limit int) *output.TableData {
	table := output.NewTableData("Space", "Page", "Offset", "State", "Slots", "Compressed")
	for i, e := range entries {
		if limit > 0 && i >= limit {
			break
		}
		compressed := "-"
		if e.CompressedSize > 0 {
			compressed = output.Bytes(uint64(e.CompressedSize))
		}
		table.AddRow(
			strconv.FormatUint(uint64(e.Space), 10),
			strconv.FormatUint(uint64(e.Page), 10),
			strconv.FormatUint(uint64(e.Offset), 10),
			e.State.String(),
			strconv.FormatUint(uint64(e.OrigSlots), 10),
			compressed,
		)
	}
	return table
}

func summary(entries []flashcache.DumpEntry) string {
	states := make(map[flashcache.State]int)
	for _, e := range entries {
		states[e.State]++
	}
	s := fmt.Sprintf("%d blocks", len(entries))
	for _, st := range []flashcache.State{flashcache.PendingFlush, flashcache.ReadCache, flashcache.Flushed, flashcache.Free} {
		if n := states[st]; n > 0 {
			s += fmt.Sprintf(", %d %s", n, st)
		}
	}
	return s
}
