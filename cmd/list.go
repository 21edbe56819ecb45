package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/catalog"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		bySize, _ := cmd.Flags().GetBool("by-size")
		digest, _ := cmd.Flags().GetString("digest")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		var records []catalog.Record
		switch {
		case digest != "":
			if repo.Catalog() == nil {
				return fmt.Errorf("--digest requires the catalog")
			}
			records, err = repo.Catalog().FindByDigest(digest)
		case bySize && repo.Catalog() != nil:
			records, err = repo.Catalog().ListBySize()
		default:
			records, err = repo.Records()
		}
		if err != nil {
			return err
		}

		if len(records) == 0 {
			fmt.Println("No archives found")
			return nil
		}
		fmt.Printf("%-40s  %-20s  %10s  %10s  %6s  %s\n", "NAME", "CREATED", "ENTRIES", "SIZE", "RATIO", "DIGEST")
		for _, r := range records {
			fmt.Printf("%-40s  %-20s  %10s  %10s  %5.0f%%  %s\n",
				r.Name,
				r.CreatedAt.Local().Format(time.DateTime),
				humanize.Comma(int64(r.Entries)),
				humanize.Bytes(uint64(r.StoredSize)),
				r.Ratio()*100,
				r.Digest[:min(len(r.Digest), 12)])
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <archive>...",
	Short: "Delete archives and their catalog records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		for _, name := range args {
			if err := repo.Delete(name); err != nil {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
			fmt.Printf("Deleted %s\n", name)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("by-size", false, "Sort by payload size, largest first")
	listCmd.Flags().String("digest", "", "Only archives with this payload digest")

	RootCmd.AddCommand(listCmd)
	RootCmd.AddCommand(deleteCmd)
}
