// Package backup implements the backup subcommands.
package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/marmos91/flashcache/cmd/flashcache/cmdutil"
	"github.com/marmos91/flashcache/internal/cli/output"
	"github.com/marmos91/flashcache/pkg/backup"
)

// Cmd is the backup subcommand.
var Cmd = &cobra.Command{
	Use:   "backup",
	Short: "Backup operations",
	Long: `Create, inspect and restore backups of the dirty pages held in the cache.

A backup holds every page not yet written to the tablespace, so a copy of
the tablespace files plus the backup is a consistent image.

Subcommands:
  create   Ask the running server to write a backup
  show     List the pages in a backup file
  restore  Write the pages of a backup into the tablespace`,
}

var (
	showLimit    int
	restoreForce bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Ask the running server to write a backup to its backup_dir",
	RunE:  runCreate,
}

var showCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "List the pages in a backup file",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runShow,
}

var restoreCmd = &cobra.Command{
	Use:   "restore [path]",
	Short: "Write the pages of a backup into the tablespace",
	Long: `Write every page of a backup into the configured tablespace and sync it.
Pages of spaces that no longer exist are skipped.

Run this with the server stopped: pages restored under a running cache may be
overwritten by older cached copies.

Examples:
  flashcache backup restore /backups/ib_fc_backup
  flashcache backup restore --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Maximum number of pages listed in table output (0 for all)")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip the confirmation prompt")

	Cmd.AddCommand(createCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(restoreCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	client, err := cmdutil.Client(cmd)
	if err != nil {
		return err
	}
	res, err := client.Backup()
	if err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}

	p, err := cmdutil.Printer(cmd)
	if err != nil {
		return err
	}
	return cmdutil.PrintResource(p, res, (&output.KeyValues{}).
		Add("Backup", res.ID).
		Add("Path", res.Path).
		Add("Pages", res.Pages).
		Add("Skipped", res.Skipped).
		Add("Size", output.Bytes(uint64(res.Bytes))).
		Add("Duration", output.Duration(res.Duration)))
}

// backupPath returns the path argument, or the backup in the configured
// backup_dir.
func backupPath(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, err := cmdutil.LoadConfigOrDefaults(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Cache.BackupDir == "" {
		return "", fmt.Errorf("no backup path given and cache.backup_dir is not set")
	}
	return filepath.Join(cfg.Cache.BackupDir, backup.FileName), nil
}

func runShow(cmd *cobra.Command, args []string) error {
	path, err := backupPath(cmd, args)
	if err != nil {
		return err
	}
	bf, err := backup.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = bf.Close() }()

	p, err := cmdutil.Printer(cmd)
	if err != nil {
		return err
	}
	if p.Format() != output.FormatTable {
		return p.Print(struct {
			ID      string         `json:"id" yaml:"id"`
			Entries []backup.Entry `json:"entries" yaml:"entries"`
		}{bf.ID.String(), bf.Entries})
	}

	table := output.NewTableData("Space", "Page", "Size")
	var total uint64
	for i, e := range bf.Entries {
		total += uint64(e.Size)
		if showLimit > 0 && i >= showLimit {
			continue
		}
		table.AddRow(strconv.FormatUint(uint64(e.Space), 10), strconv.FormatUint(uint64(e.Page), 10), output.Bytes(uint64(e.Size)))
	}
	p.Printf("Backup %s\n\n", bf.ID)
	if err := p.Print(table); err != nil {
		return err
	}
	p.Printf("\n%d pages, %s\n", len(bf.Entries), output.Bytes(total))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	path, err := backupPath(cmd, args)
	if err != nil {
		return err
	}
	cfg, err := cmdutil.LoadConfig(cmd)
	if err != nil {
		return err
	}

	bf, err := backup.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer func() { _ = bf.Close() }()

	out := cmd.OutOrStdout()
	label := fmt.Sprintf("Overwrite %d pages in %s", len(bf.Entries), cfg.Tablespace.Path)
	return cmdutil.RunWithConfirmation(out, label, "restore", restoreForce, func() error {
		store, err := cfg.Tablespace.OpenStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		n, err := bf.Restore(context.Background(), store)
		if err != nil {
			return fmt.Errorf("restore failed after %d pages: %w", n, err)
		}
		fmt.Fprintf(out, "Restored %d of %d pages from backup %s\n", n, len(bf.Entries), bf.ID)
		return nil
	})
}
