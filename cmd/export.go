package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/fbexport"
	"github.com/TFMV/flasharc/internal/storage"
)

var exportCmd = &cobra.Command{
	Use:   "export <archive>",
	Short: "Export an archive's manifest as FlatBuffers",
	Long: `Write an archive's manifest as a FlatBuffers table (file identifier FAMF)
for tools that read FlatBuffers. The table is built straight from the
archived manifest without decoding it first.

Examples:
  flasharc export projects-20250301-120000 -o projects.fb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		trust, _ := cmd.Flags().GetBool("trust")
		if output == "" {
			output = args[0] + ".fb"
		}

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

		data := fbexport.Export(m)
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}
		fmt.Printf("Exported %s entries to %s (%s)\n", humanize.Comma(int64(m.Len())), output, humanize.Bytes(uint64(len(data))))
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Store a FlatBuffers manifest export as an archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		compress := cfg.Compress
		if cmd.Flags().Changed("compress") {
			compress, _ = cmd.Flags().GetBool("compress")
		}
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		m, err := fbexport.Read(data)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		rec, err := repo.Save(name, m, storage.SaveOptions{Compress: compress})
		if err != nil {
			return err
		}
		fmt.Printf("Imported %s entries as %s\n", humanize.Comma(int64(rec.Entries)), rec.Name)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "Output file (default <archive>.fb)")
	exportCmd.Flags().Bool("trust", false, "Skip validation")
	importCmd.Flags().String("name", "", "Archive name (default file base name)")
	importCmd.Flags().Bool("compress", false, "Compress the archive with zstd")

	RootCmd.AddCommand(exportCmd)
	RootCmd.AddCommand(importCmd)
}
