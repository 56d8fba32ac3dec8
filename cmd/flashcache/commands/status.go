package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
	"github.com/marmos91/flashcache/pkg/codec"
	"github.com/marmos91/flashcache/pkg/flashcache"
	"github.com/marmos91/flashcache/pkg/flashcache/fclog"
)

var statusOffline bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache status",
	Long: `Display the status of the flash cache.

By default the running server is queried. With --offline the persistent log
file is read directly, which works while the server is stopped and shows the
cursors it will recover from.

Examples:
  # Status of the local server
  flashcache status

  # Status of a remote server as JSON
  flashcache status --server http://cache-1:8080 -o json

  # Read the log file of a stopped cache
  flashcache status --offline`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusOffline, "offline", false, "Read the log file instead of querying the server")
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := cmdutil.Printer(cmd)
	if err != nil {
		return err
	}

	if statusOffline {
		cfg, err := cmdutil.LoadConfigOrDefaults(cmd)
		if err != nil {
			return err
		}
		rec, err := fclog.ReadFile(cfg.Cache.LogPath)
		if err != nil {
			return fmt.Errorf("failed to read log %s: %w", cfg.Cache.LogPath, err)
		}
		return cmdutil.PrintResource(p, rec, recordTable(rec))
	}

	client, err := cmdutil.Client(cmd)
	if err != nil {
		return err
	}
	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("failed to query server: %w", err)
	}
	return cmdutil.PrintResource(p, st, statusTable(st))
}

func cursor(c fclog.Cursor) string {
	return fmt.Sprintf("%d (round %d)", c.Offset, c.Round)
}

func statusTable(st *flashcache.Status) *output.KeyValues {
	slot := uint64(st.SlotSize)
	kv := &output.KeyValues{}
	kv.Add("Capacity", fmt.Sprintf("%d slots (%s)", st.Capacity, output.Bytes(uint64(st.Capacity)*slot)))
	kv.Add("Write mode", st.WriteModeName)
	kv.Add("Writes enabled", cmdutil.BoolToYesNo(st.EnableWrite))
	kv.Add("Codec", st.Codec)
	kv.Add("Write cursor", cursor(st.Write))
	kv.Add("Flush cursor", cursor(st.Flush))
	kv.Add("Distance", fmt.Sprintf("%d slots", st.Distance))
	kv.Add("Blocks", st.Blocks)
	kv.Add("Used", fmt.Sprintf("%d slots (%s)", st.Used, output.Percent(st.Used, uint64(st.Capacity))))
	kv.Add("Dirty", fmt.Sprintf("%d slots (%s)", st.Dirty, output.Percent(st.Dirty, uint64(st.Capacity))))
	if st.UsedUncompressed > st.Used {
		kv.Add("Saved by compression", output.Bytes((st.UsedUncompressed-st.Used)*slot))
	}
	kv.Add("Reads", fmt.Sprintf("%d (%.1f%% hits)", st.Reads, st.HitRatio()*100))
	kv.Add("Pages written", fmt.Sprintf("%d doublewrite, %d single", st.DoublewritePages, st.SinglePages))
	kv.Add("Migrated / moved", fmt.Sprintf("%d / %d", st.Migrated, st.Moved))
	kv.Add("Flushed", fmt.Sprintf("%d pages in %d passes", st.FlushedPages, st.FlushPasses))
	kv.Add("Corrupt pages", st.CorruptionDetected)
	kv.Add("Recovered from", fmt.Sprintf("%s in %s", st.Recovery.Source, output.Duration(st.Recovery.Duration)))
	return kv
}

func recordTable(rec fclog.Record) *output.KeyValues {
	kv := &output.KeyValues{}
	kv.Add("Version", rec.Version)
	kv.Add("Block size", output.Bytes(uint64(rec.BlockSize)))
	kv.Add("Write mode", rec.WriteMode)
	kv.Add("Writes enabled", cmdutil.BoolToYesNo(rec.EnableWrite))
	kv.Add("Clean shutdown", cmdutil.BoolToYesNo(rec.BeenShutdown))
	kv.Add("Write cursor", cursor(rec.Write))
	kv.Add("Flush cursor", cursor(rec.Flush))
	kv.Add("Dump cursors", fmt.Sprintf("write %s, flush %s", cursor(rec.DumpWrite), cursor(rec.DumpFlush)))
	if rec.HasBackup() {
		kv.Add("Write-disable marker", cursor(rec.Backup))
	} else {
		kv.Add("Write-disable marker", "none")
	}
	kv.Add("Skipped slots", rec.Skipped)
	kv.Add("Codec", codec.NameOf(codec.ID(rec.Codec)))
	return kv
}
