package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
	"github.com/TFMV/flasharc/internal/validation"
	"github.com/TFMV/flasharc/internal/walker"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <archive>",
	Short: "Show an archive's summary and entries",
	Long: `Open an archive in place and print its header and manifest summary.

The archive is validated first unless --trust is given.

Examples:
  flasharc inspect projects-20250301-120000
  flasharc inspect projects-20250301-120000 --entries --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		trust, _ := cmd.Flags().GetBool("trust")
		showEntries, _ := cmd.Flags().GetBool("entries")
		limit, _ := cmd.Flags().GetInt("limit")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		a, m, err := repo.Open(args[0], trust)
		if err != nil {
			return err
		}
		defer a.Close()

		h := a.Header()
		fmt.Printf("Archive:     %s\n", a.Name())
		fmt.Printf("Format:      v%d, %d-byte offsets, compressed=%v, mapped=%v\n", h.Version, h.OffsetWidth, h.Compressed(), a.Mapped())
		fmt.Printf("Payload:     %s (root at %d)\n", humanize.Bytes(h.PayloadLen), h.Root)
		fmt.Printf("Root:        %s\n", m.Root())
		created := time.Unix(m.Created(), 0)
		fmt.Printf("Created:     %s (%s)\n", created.Format(time.RFC3339), humanize.Time(created))
		fmt.Printf("Entries:     %s\n", humanize.Comma(int64(m.Len())))
		fmt.Printf("Total size:  %s\n", humanize.Bytes(uint64(m.TotalSize())))

		if showEntries {
			fmt.Println()
			printEntries(m, limit)
		}
		return nil
	},
}

func printEntries(m manifest.ArchivedManifest, limit int) {
	for i, e := range m.Entries() {
		if limit > 0 && i >= limit {
			fmt.Printf("... %s more\n", humanize.Comma(int64(m.Len()-limit)))
			return
		}
		printEntry(e)
	}
}

func printEntry(e manifest.ArchivedEntry) {
	h := e.HashHex()
	if len(h) > 16 {
		h = h[:16]
	}
	fmt.Printf("%s  %10s  %s  %-16s  %s\n",
		walker.Mode(e.Mode()),
		humanize.Bytes(uint64(e.Size())),
		time.Unix(e.ModTime(), 0).Format("2006-01-02 15:04"),
		h,
		e.Path())
}

var verifyCmd = &cobra.Command{
	Use:   "verify [archive...]",
	Short: "Validate archives",
	Long: `Fully validate archives and compare them with their catalog records.

Every archive in the store is checked when no names are given. A failure
names the innermost pointer that was rejected and the layer that failed:
"pointer" when its footprint is misplaced, "context" when its target is out
of bounds, misaligned or overlaps another claim, and "value" when the
target's layout or contents are invalid.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		names := args
		if len(names) == 0 {
			names, err = repo.Archives().List()
			if err != nil {
				return err
			}
		}

		failed := 0
		for _, name := range names {
			rec, err := repo.Verify(name)
			if err != nil {
				failed++
				fmt.Printf("FAIL  %s: %s\n", name, describeFailure(err))
				continue
			}
			fmt.Printf("OK    %s (%s entries, %s)\n", name, humanize.Comma(int64(rec.Entries)), humanize.Bytes(uint64(rec.Size)))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d archives failed verification", failed, len(names))
		}
		return nil
	},
}

func describeFailure(err error) string {
	owned, isOwned := validation.Innermost(err)
	switch {
	case isOwned:
		return fmt.Sprintf("%s layer of %s at %d: %v", owned.Layer, owned.Container, owned.Pos, owned.Err)
	case errors.Is(err, storage.ErrChecksumMismatch):
		return "frame checksum mismatch"
	case errors.Is(err, storage.ErrDigestMismatch):
		return "payload differs from catalog record"
	default:
		return err.Error()
	}
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <archive> <path>...",
	Short: "Look up paths in an archive without decoding it",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		trust, _ := cmd.Flags().GetBool("trust")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		a, m, err := repo.Open(args[0], trust)
		if err != nil {
			return err
		}
		defer a.Close()

		missing := 0
		for _, p := range args[1:] {
			e, ok := m.Lookup(p)
			if !ok {
				missing++
				fmt.Printf("%s: not found\n", p)
				continue
			}
			printEntry(e)
		}
		if missing > 0 {
			return fmt.Errorf("%d of %d paths not found", missing, len(args)-1)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().Bool("trust", false, "Skip validation")
	inspectCmd.Flags().Bool("entries", false, "List entries")
	inspectCmd.Flags().Int("limit", 0, "Maximum entries to list (0 = all)")
	lookupCmd.Flags().Bool("trust", false, "Skip validation")

	RootCmd.AddCommand(inspectCmd)
	RootCmd.AddCommand(verifyCmd)
	RootCmd.AddCommand(lookupCmd)
}
