package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/hash"
	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
	"github.com/TFMV/flasharc/internal/walker"
)

var packCmd = &cobra.Command{
	Use:   "pack <directory>",
	Short: "Archive a directory tree",
	Long: `Walk a directory, hash its files and store the result as an archive.

The archive is named <prefix>-YYYYMMDD-HHMMSS unless --name is given. The
prefix defaults to the directory's base name.

Examples:
  flasharc pack ~/projects
  flasharc pack /data --name data-weekly --compress
  flasharc pack /data --hash sha256 --max-depth 4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root := args[0]

		name, _ := cmd.Flags().GetString("name")
		prefix, _ := cmd.Flags().GetString("prefix")
		algo, _ := cmd.Flags().GetString("hash")
		noHash, _ := cmd.Flags().GetBool("no-hash")
		followSymlinks, _ := cmd.Flags().GetBool("follow-symlinks")
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		workers, _ := cmd.Flags().GetInt("workers")
		stream, _ := cmd.Flags().GetBool("stream")
		compress := cfg.Compress
		if cmd.Flags().Changed("compress") {
			compress, _ = cmd.Flags().GetBool("compress")
		}

		if name == "" {
			if prefix == "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					return err
				}
				prefix = filepath.Base(abs)
			}
			name = storage.ArchiveName(prefix, time.Now())
		}
		if err := storage.ValidName(name); err != nil {
			return err
		}

		opts := walker.DefaultWalkOptions()
		opts.ComputeHashes = !noHash
		opts.FollowSymlinks = followSymlinks
		opts.MaxDepth = maxDepth
		opts.Concurrency = workers
		if algo != "" {
			a, err := hash.ParseAlgorithm(algo)
			if err != nil {
				return err
			}
			opts.HashAlgorithm = a
		}

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		fmt.Printf("Packing %s\n", root)

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Scanning"),
			progressbar.OptionSetItsString("files"),
			progressbar.OptionShowIts(),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionOnCompletion(func() {
				fmt.Println()
			}),
		)
		opts.Progress = func(manifest.Entry) { _ = bar.Add(1) }

		start := time.Now()
		m, err := walker.Snapshot(ctx, root, opts)
		if err != nil {
			return err
		}
		_ = bar.Finish()
		level.Debug(logger).Log("msg", "walk finished", "root", m.Root, "entries", len(m.Entries), "elapsed", time.Since(start))

		rec, err := repo.Save(name, m, storage.SaveOptions{
			Compress: compress,
			Stream:   stream,
			Encode:   manifest.DefaultEncodeOptions(),
		})
		if err != nil {
			return err
		}

		fmt.Printf("Archive %s saved: %s entries, %s of files, %s payload, %s on disk\n",
			rec.Name,
			humanize.Comma(int64(rec.Entries)),
			humanize.Bytes(uint64(m.TotalSize())),
			humanize.Bytes(uint64(rec.Size)),
			humanize.Bytes(uint64(rec.StoredSize)))
		fmt.Printf("Completed in %s\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	packCmd.Flags().String("name", "", "Archive name")
	packCmd.Flags().String("prefix", "", "Name prefix for generated archive names")
	packCmd.Flags().String("hash", "", "Hash algorithm: blake3 or sha256")
	packCmd.Flags().Bool("no-hash", false, "Skip content hashing")
	packCmd.Flags().Bool("follow-symlinks", false, "Follow symbolic links")
	packCmd.Flags().Int("max-depth", 100, "Maximum directory depth (0 = unlimited)")
	packCmd.Flags().Int("workers", 0, "Concurrent hashing workers (0 = number of CPUs)")
	packCmd.Flags().Bool("compress", false, "Compress the archive with zstd")
	packCmd.Flags().Bool("stream", false, "Serialize directly to disk instead of in memory")
	RootCmd.AddCommand(packCmd)
}
