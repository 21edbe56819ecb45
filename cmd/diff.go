package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/diff"
)

var diffCmd = &cobra.Command{
	Use:   "diff <old-archive> <new-archive>",
	Short: "Compare two archives",
	Long: `Compare two archives and show the differences between them.
The command identifies new, modified, and deleted files between archives.
Both archives are read in place; only changed entries are copied.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		pathPrefix, _ := cmd.Flags().GetString("path")
		useHash, _ := cmd.Flags().GetBool("hash")
		ignoreMtime, _ := cmd.Flags().GetBool("ignore-mtime")
		ignoreMode, _ := cmd.Flags().GetBool("ignore-mode")
		trust, _ := cmd.Flags().GetBool("trust")

		opts := diff.Options{
			CompareHashes: useHash,
			IgnoreModTime: ignoreMtime,
			IgnoreMode:    ignoreMode,
			PathPrefix:    pathPrefix,
		}

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		startTime := time.Now()
		diffs, err := diff.CompareArchives(ctx, repo, args[0], args[1], trust, opts)
		if err != nil {
			return fmt.Errorf("failed to compare archives: %w", err)
		}

		switch strings.ToLower(format) {
		case "table":
			printDiffTable(diffs)
		case "json":
			if err := printDiffJSON(diffs); err != nil {
				return err
			}
		default:
			printDiffSimple(diffs)
		}

		s := diff.Summarize(diffs)
		level.Info(logger).Log("msg", "compared archives",
			"new", s.Added, "modified", s.Modified, "deleted", s.Deleted,
			"size_delta", s.SizeDelta, "elapsed", time.Since(startTime))
		return nil
	},
}

func diffDetails(d diff.DiffEntry) string {
	switch d.Type {
	case diff.Modified:
		details := fmt.Sprintf("size: %s → %s", humanize.Bytes(uint64(d.Old.Size)), humanize.Bytes(uint64(d.New.Size)))
		if d.Old.ModTime != d.New.ModTime {
			details += fmt.Sprintf(", mtime: %s → %s",
				time.Unix(d.Old.ModTime, 0).Format(time.DateTime),
				time.Unix(d.New.ModTime, 0).Format(time.DateTime))
		}
		if d.Old.Mode != d.New.Mode {
			details += fmt.Sprintf(", mode: %s → %s", os.FileMode(d.Old.Mode), os.FileMode(d.New.Mode))
		}
		if len(d.Old.Hash) > 0 && len(d.New.Hash) > 0 && !bytes.Equal(d.Old.Hash, d.New.Hash) {
			details += ", hash changed"
		}
		return details
	case diff.Added:
		return fmt.Sprintf("size: %s", humanize.Bytes(uint64(d.New.Size)))
	default:
		return fmt.Sprintf("size: %s", humanize.Bytes(uint64(d.Old.Size)))
	}
}

func printDiffTable(entries []diff.DiffEntry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "TYPE\tPATH\tDETAILS")
	fmt.Fprintln(w, "----\t----\t-------")
	for _, entry := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Type, entry.Path, diffDetails(entry))
	}
}

type diffRecord struct {
	Type     string `json:"type"`
	Path     string `json:"path"`
	OldSize  int64  `json:"old_size,omitempty"`
	NewSize  int64  `json:"new_size,omitempty"`
	OldMtime int64  `json:"old_mtime,omitempty"`
	NewMtime int64  `json:"new_mtime,omitempty"`
	OldHash  string `json:"old_hash,omitempty"`
	NewHash  string `json:"new_hash,omitempty"`
}

func printDiffJSON(entries []diff.DiffEntry) error {
	out := make([]diffRecord, len(entries))
	for i, d := range entries {
		out[i] = diffRecord{
			Type:     d.Type.String(),
			Path:     d.Path,
			OldSize:  d.Old.Size,
			NewSize:  d.New.Size,
			OldMtime: d.Old.ModTime,
			NewMtime: d.New.ModTime,
			OldHash:  fmt.Sprintf("%x", d.Old.Hash),
			NewHash:  fmt.Sprintf("%x", d.New.Hash),
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printDiffSimple(entries []diff.DiffEntry) {
	for _, entry := range entries {
		fmt.Println(entry.String())
	}
}

func init() {
	diffCmd.Flags().String("format", "simple", "Output format (simple, table, json)")
	diffCmd.Flags().String("path", "", "Filter by path prefix (for partial diffs)")
	diffCmd.Flags().Bool("hash", true, "Treat differing content hashes as modifications")
	diffCmd.Flags().Bool("ignore-mtime", false, "Ignore modification time changes")
	diffCmd.Flags().Bool("ignore-mode", false, "Ignore permission changes")
	diffCmd.Flags().Bool("trust", false, "Skip validation")
	RootCmd.AddCommand(diffCmd)
}
