package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/query"
	"github.com/TFMV/flasharc/internal/storage"
)

var queryCmd = &cobra.Command{
	Use:   "query [archive...]",
	Short: "Query archives for files matching criteria",
	Long: `Query archives for files matching various criteria.

This command searches archives in place using path patterns, size ranges,
modification times and content hashes. Patterns without a slash match the
base name; patterns with one match the whole path.

Examples:
  flasharc query my-archive --pattern "*.txt"
  flasharc query my-archive --min-size 1MB --max-size 10MB
  flasharc query my-archive --start-time 2025-01-01 --end-time 2025-02-01
  flasharc query my-archive --hash abcdef1234567890
  flasharc query --all --pattern "*.log"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")
		if !all && len(args) == 0 {
			return fmt.Errorf("either archive names or --all must be specified")
		}

		options, err := queryOptions(cmd)
		if err != nil {
			return err
		}

		repo, engine, err := openQueryEngine(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		var results []query.FileResult
		if all {
			results, err = engine.QueryAllArchives(ctx, options)
		} else {
			results, err = engine.QueryMultipleArchives(ctx, args, options)
		}
		if err != nil {
			return err
		}

		printResults(results)
		return nil
	},
}

var findDuplicatesCmd = &cobra.Command{
	Use:   "find-duplicates [archive...]",
	Short: "Find duplicate files across archives",
	Long: `Find duplicate files across archives based on content hash.

Files with the same content hash, in one archive or several, contain the
same data.

Examples:
  flasharc query find-duplicates snap1 snap2 snap3
  flasharc query find-duplicates --all --min-size 1MB`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		options, err := queryOptions(cmd)
		if err != nil {
			return err
		}

		repo, engine, err := openQueryEngine(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		names := args
		if all, _ := cmd.Flags().GetBool("all"); all {
			if names, err = archiveNames(repo); err != nil {
				return err
			}
		}
		if len(names) == 0 {
			return fmt.Errorf("at least one archive must be specified")
		}

		duplicates, err := engine.FindDuplicateFiles(ctx, names, options)
		if err != nil {
			return err
		}

		hashes := make([]string, 0, len(duplicates))
		for h := range duplicates {
			hashes = append(hashes, h)
		}
		sort.Strings(hashes)
		for _, h := range hashes {
			files := duplicates[h]
			fmt.Printf("Hash: %s (%d copies, %s each)\n", h, len(files), humanize.Bytes(uint64(files[0].Size)))
			for _, file := range files {
				fmt.Printf("  %s (archive: %s)\n", file.Path, file.Archive)
			}
		}
		return nil
	},
}

var findChangesCmd = &cobra.Command{
	Use:   "find-changes <old-archive> <new-archive>",
	Short: "Find files that changed between archives",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		options, err := queryOptions(cmd)
		if err != nil {
			return err
		}

		repo, engine, err := openQueryEngine(cmd)
		if err != nil {
			return err
		}
		defer repo.Close()

		changes, err := engine.FindFilesChangedBetweenArchives(cmd.Context(), args[0], args[1], options)
		if err != nil {
			return err
		}
		for _, change := range changes {
			fmt.Println(change.String())
		}
		return nil
	},
}

type rankFunc func(q *query.QueryEngine, cmd *cobra.Command, name string, n int, options query.QueryOptions) ([]query.FileResult, error)

func rankCommand(use, short string, rank rankFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <archive>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("n")
			if n <= 0 {
				return fmt.Errorf("--n must be greater than 0")
			}
			options, err := queryOptions(cmd)
			if err != nil {
				return err
			}

			repo, engine, err := openQueryEngine(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			results, err := rank(engine, cmd, args[0], n, options)
			if err != nil {
				return err
			}
			printResults(results)
			return nil
		},
	}
}

var (
	findLargestCmd = rankCommand("find-largest", "Find the N largest files in an archive",
		func(q *query.QueryEngine, cmd *cobra.Command, name string, n int, options query.QueryOptions) ([]query.FileResult, error) {
			return q.FindLargestFiles(cmd.Context(), name, n, options)
		})
	findNewestCmd = rankCommand("find-newest", "Find the N most recently modified files in an archive",
		func(q *query.QueryEngine, cmd *cobra.Command, name string, n int, options query.QueryOptions) ([]query.FileResult, error) {
			return q.FindNewestFiles(cmd.Context(), name, n, options)
		})
	findOldestCmd = rankCommand("find-oldest", "Find the N least recently modified files in an archive",
		func(q *query.QueryEngine, cmd *cobra.Command, name string, n int, options query.QueryOptions) ([]query.FileResult, error) {
			return q.FindOldestFiles(cmd.Context(), name, n, options)
		})
)

var findHashCmd = &cobra.Command{
	Use:   "find-hash <hash>",
	Short: "Find every archived file with a content hash using the catalog index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		c := repo.Catalog()
		if c == nil || !c.IndexesEntries() {
			return fmt.Errorf("find-hash requires a catalog with entry indexing")
		}
		entries, err := c.FindByHash(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No files found")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s\t%s\t%s\n", e.Archive, e.Path, humanize.Bytes(uint64(e.Size)))
		}
		return nil
	},
}

func openQueryEngine(cmd *cobra.Command) (*storage.Repository, *query.QueryEngine, error) {
	repo, err := openRepository()
	if err != nil {
		return nil, nil, err
	}
	engine := query.NewQueryEngine(repo)
	engine.Trusted, _ = cmd.Flags().GetBool("trust")
	return repo, engine, nil
}

func archiveNames(repo *storage.Repository) ([]string, error) {
	records, err := repo.Records()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names, nil
}

func queryOptions(cmd *cobra.Command) (query.QueryOptions, error) {
	options := query.DefaultQueryOptions()
	flags := cmd.Flags()

	if pattern, _ := flags.GetString("pattern"); pattern != "" {
		options.Pattern = pattern
	}
	if s, _ := flags.GetString("min-size"); s != "" {
		size, err := humanize.ParseBytes(s)
		if err != nil {
			return options, fmt.Errorf("invalid min-size: %w", err)
		}
		options.MinSize = int64(size)
	}
	if s, _ := flags.GetString("max-size"); s != "" {
		size, err := humanize.ParseBytes(s)
		if err != nil {
			return options, fmt.Errorf("invalid max-size: %w", err)
		}
		options.MaxSize = int64(size)
	}
	if s, _ := flags.GetString("start-time"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return options, fmt.Errorf("invalid start-time: %w", err)
		}
		options.StartTime = t
	}
	if s, _ := flags.GetString("end-time"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			return options, fmt.Errorf("invalid end-time: %w", err)
		}
		options.EndTime = t
	}
	if h, _ := flags.GetString("hash"); h != "" {
		options.Hash = h
	}
	if flags.Changed("is-dir") {
		isDir, _ := flags.GetBool("is-dir")
		options.IsDir = &isDir
	}
	return options, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates in local time.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, s, time.Local)
}

func printResults(results []query.FileResult) {
	for _, r := range results {
		fmt.Printf("%s\t%s\t%s\t%s\t%v\t%s\n",
			r.Archive,
			r.Path,
			humanize.Bytes(uint64(r.Size)),
			r.ModTime.Format(time.RFC3339),
			r.IsDir,
			r.Hash)
	}
}

func addQueryFlags(c *cobra.Command) {
	c.Flags().String("pattern", "", "File pattern to match")
	c.Flags().String("min-size", "", "Minimum file size (e.g. 1MB)")
	c.Flags().String("max-size", "", "Maximum file size (e.g. 1GB)")
	c.Flags().String("start-time", "", "Modified at or after (RFC3339 or YYYY-MM-DD)")
	c.Flags().String("end-time", "", "Modified at or before (RFC3339 or YYYY-MM-DD)")
	c.Flags().String("hash", "", "File hash to match")
	c.Flags().Bool("is-dir", false, "Match directories only (false matches files only)")
	c.Flags().Bool("trust", false, "Skip validation")
}

func init() {
	RootCmd.AddCommand(queryCmd)

	queryCmd.AddCommand(findDuplicatesCmd)
	queryCmd.AddCommand(findChangesCmd)
	queryCmd.AddCommand(findLargestCmd)
	queryCmd.AddCommand(findNewestCmd)
	queryCmd.AddCommand(findOldestCmd)
	queryCmd.AddCommand(findHashCmd)

	for _, c := range []*cobra.Command{queryCmd, findDuplicatesCmd, findChangesCmd, findLargestCmd, findNewestCmd, findOldestCmd} {
		addQueryFlags(c)
	}
	queryCmd.Flags().Bool("all", false, "Query all archives")
	findDuplicatesCmd.Flags().Bool("all", false, "Search all archives")
	for _, c := range []*cobra.Command{findLargestCmd, findNewestCmd, findOldestCmd} {
		c.Flags().Int("n", 10, "Number of files to return")
	}
}
