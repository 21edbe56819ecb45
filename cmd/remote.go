package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/TFMV/flasharc/internal/remote"
	"github.com/TFMV/flasharc/internal/storage"
)

const remoteHelp = `
The destination is a URL such as s3://bucket/prefix, gcs://bucket/prefix or
file:///path/to/dir. Without one, the remote from the config file is used.

Environment variables for S3:
  S3_ENDPOINT         - Custom endpoint for S3-compatible storage (e.g., MinIO)
  S3_ACCESS_KEY       - Access key for S3
  S3_SECRET_KEY       - Secret key for S3
  S3_REGION           - Region for S3
  S3_INSECURE         - Use insecure connection (default: false)
  S3_FORCE_PATH_STYLE - Use path-style addressing (default: false)

Environment variables for GCS:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file`

// openRemote connects to destination, or to the configured remote when
// destination is empty.
func openRemote(ctx context.Context, destination string) (*remote.Remote, error) {
	if destination != "" {
		r, err := remote.NewFromDestination(ctx, destination, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", destination, err)
		}
		return r, nil
	}

	rc := cfg.Remote
	if !rc.Configured() {
		return nil, errors.New("no destination given and no remote configured")
	}
	bucket := rc.Bucket
	if remote.StorageType(rc.Type) == remote.FileStorage {
		bucket = rc.Directory
	}
	conf, err := remote.ConfigFromEnv(remote.StorageType(rc.Type), bucket, rc.Prefix)
	if err != nil {
		return nil, err
	}
	if conf.S3Config != nil {
		if rc.Endpoint != "" {
			conf.S3Config.Endpoint = rc.Endpoint
		}
		if rc.Region != "" {
			conf.S3Config.Region = rc.Region
		}
		conf.S3Config.Insecure = conf.S3Config.Insecure || rc.Insecure
	}
	conf.CompressionLevel = remote.CompressionLevel(cfg.CompressionLevel)
	r, err := remote.New(ctx, conf, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s remote: %w", rc.Type, err)
	}
	return r, nil
}

func destinationFlag(cmd *cobra.Command) string {
	d, _ := cmd.Flags().GetString("to")
	return d
}

var pushCmd = &cobra.Command{
	Use:   "push <archive>...",
	Short: "Upload archives to object storage",
	Long: `Upload archive files to an object storage bucket.
` + remoteHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		all, _ := cmd.Flags().GetBool("all")
		compress, _ := cmd.Flags().GetBool("compress")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		names := args
		if all {
			if names, err = repo.Archives().List(); err != nil {
				return err
			}
		}
		if len(names) == 0 {
			return errors.New("either archive names or --all must be specified")
		}

		r, err := openRemote(ctx, destinationFlag(cmd))
		if err != nil {
			return err
		}
		defer r.Close()

		for _, name := range names {
			info, err := repo.Archives().Stat(name)
			if err != nil {
				return err
			}
			// Compressed frames gain nothing from a second pass.
			object, err := r.Upload(ctx, repo.Archives().Path(name), r.ObjectName(name+storage.ArchiveFileExt), compress && !info.Header.Compressed())
			if err != nil {
				return fmt.Errorf("failed to push %s: %w", name, err)
			}
			fmt.Printf("Pushed %s (%s) to %s\n", name, humanize.Bytes(uint64(info.StoredSize)), object)
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull <archive>...",
	Short: "Download archives from object storage",
	Long: `Download archives from an object storage bucket into the store.
Each download is validated and catalogued before it is kept.
` + remoteHelp,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		force, _ := cmd.Flags().GetBool("force")

		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		r, err := openRemote(ctx, destinationFlag(cmd))
		if err != nil {
			return err
		}
		defer r.Close()

		for _, arg := range args {
			name := strings.TrimSuffix(remote.BaseName(arg), storage.ArchiveFileExt)
			if err := storage.ValidName(name); err != nil {
				return err
			}
			if _, err := repo.Archives().Stat(name); err == nil && !force {
				return fmt.Errorf("archive %s already exists, use --force to replace it", name)
			}

			object, err := findObject(ctx, r, name)
			if err != nil {
				return err
			}
			if err := r.Download(ctx, object, repo.Archives().Path(name)); err != nil {
				return fmt.Errorf("failed to pull %s: %w", name, err)
			}
			rec, err := repo.Register(name)
			if err != nil {
				_ = repo.Delete(name)
				return fmt.Errorf("pulled %s is not a valid archive: %w", name, err)
			}
			fmt.Printf("Pulled %s (%s entries)\n", name, humanize.Comma(int64(rec.Entries)))
		}
		return nil
	},
}

func findObject(ctx context.Context, r *remote.Remote, name string) (string, error) {
	plain := r.ObjectName(name + storage.ArchiveFileExt)
	for _, object := range []string{plain, plain + remote.CompressedExt} {
		ok, err := r.Exists(ctx, object)
		if err != nil {
			return "", err
		}
		if ok {
			return object, nil
		}
	}
	return "", fmt.Errorf("%w: %s", remote.ErrObjectNotFound, plain)
}

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Inspect archives in object storage",
}

var remoteListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List archives in object storage",
	Long:  `List the archive objects under the remote prefix.` + "\n" + remoteHelp,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := openRemote(ctx, destinationFlag(cmd))
		if err != nil {
			return err
		}
		defer r.Close()

		objects, err := r.List(ctx, "")
		if err != nil {
			return err
		}
		found := 0
		for _, object := range objects {
			if !strings.HasSuffix(strings.TrimSuffix(object, remote.CompressedExt), storage.ArchiveFileExt) {
				continue
			}
			attrs, err := r.Stat(ctx, object)
			if err != nil {
				return err
			}
			found++
			fmt.Printf("%-40s  %10s  %s\n",
				strings.TrimSuffix(remote.BaseName(object), storage.ArchiveFileExt),
				humanize.Bytes(uint64(attrs.Size)),
				humanize.Time(attrs.LastModified))
		}
		if found == 0 {
			fmt.Println("No archives found")
		}
		return nil
	},
}

var remoteDeleteCmd = &cobra.Command{
	Use:   "rm <archive>...",
	Short: "Delete archives from object storage",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		r, err := openRemote(ctx, destinationFlag(cmd))
		if err != nil {
			return err
		}
		defer r.Close()

		for _, name := range args {
			object, err := findObject(ctx, r, name)
			if err != nil {
				return err
			}
			if err := r.Delete(ctx, object); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", object)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{pushCmd, pullCmd, remoteListCmd, remoteDeleteCmd} {
		c.Flags().String("to", "", "Destination URL (default: configured remote)")
	}
	pushCmd.Flags().Bool("all", false, "Push every archive in the store")
	pushCmd.Flags().Bool("compress", true, "Compress uncompressed archives while uploading")
	pullCmd.Flags().Bool("force", false, "Replace an existing local archive")

	RootCmd.AddCommand(pushCmd)
	RootCmd.AddCommand(pullCmd)
	remoteCmd.AddCommand(remoteListCmd)
	remoteCmd.AddCommand(remoteDeleteCmd)
	RootCmd.AddCommand(remoteCmd)
}
