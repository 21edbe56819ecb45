// Package walker traverses a directory tree and produces manifest entries.
package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/karrick/godirwalk"

	"github.com/TFMV/flasharc/internal/hash"
	"github.com/TFMV/flasharc/internal/manifest"
)

// WalkOptions contains options for Walk.
type WalkOptions struct {
	// ComputeHashes determines whether file contents are hashed.
	ComputeHashes bool
	// HashAlgorithm selects the content digest.
	HashAlgorithm hash.Algorithm
	// Concurrency bounds parallel hashing; 0 uses all CPUs.
	Concurrency int
	// FollowSymlinks determines whether symbolic links should be followed.
	FollowSymlinks bool
	// MaxDepth is the maximum directory depth to traverse (0 means no limit).
	MaxDepth int
	// SkipErrors keeps walking past entries that cannot be read.
	SkipErrors bool
	// Progress, if set, is called once per entry after it is recorded.
	Progress func(manifest.Entry)
}

// DefaultWalkOptions returns the default options for Walk.
func DefaultWalkOptions() WalkOptions {
	return WalkOptions{
		ComputeHashes: true,
		HashAlgorithm: hash.BLAKE3,
		MaxDepth:      100,
		SkipErrors:    true,
	}
}

// Walk traverses root and returns its entries sorted by path. Paths are
// relative to root and use forward slashes. The root itself is not listed.
func Walk(ctx context.Context, root string, opts WalkOptions) ([]manifest.Entry, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	entries := make([]manifest.Entry, 0, 1024)
	var files []int

	err = godirwalk.Walk(absRoot, &godirwalk.Options{
		FollowSymbolicLinks: opts.FollowSymlinks,
		Unsorted:            true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if path == absRoot {
				return nil
			}

			rel, err := filepath.Rel(absRoot, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			isDir, err := de.IsDirOrSymlinkToDir()
			if err != nil {
				isDir = de.IsDir()
			}
			if opts.MaxDepth > 0 && strings.Count(rel, "/") >= opts.MaxDepth {
				if isDir {
					return godirwalk.SkipThis
				}
				return nil
			}

			stat := os.Lstat
			if opts.FollowSymlinks {
				stat = os.Stat
			}
			fi, err := stat(path)
			if err != nil {
				return err
			}

			entry := manifest.Entry{
				Path:    rel,
				Size:    fi.Size(),
				ModTime: fi.ModTime().Unix(),
				Mode:    uint32(fi.Mode()),
				IsDir:   fi.IsDir(),
			}
			if entry.IsDir {
				entry.Size = 0
			}
			if opts.ComputeHashes && fi.Mode().IsRegular() {
				files = append(files, len(entries))
			}
			entries = append(entries, entry)
			return nil
		},
		ErrorCallback: func(_ string, err error) godirwalk.ErrorAction {
			if opts.SkipErrors && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	if err != nil {
		return nil, err
	}

	if len(files) > 0 {
		if err := hashEntries(ctx, absRoot, entries, files, opts); err != nil {
			return nil, err
		}
	}

	slices.SortFunc(entries, func(a, b manifest.Entry) int { return strings.Compare(a.Path, b.Path) })
	if opts.Progress != nil {
		for _, e := range entries {
			opts.Progress(e)
		}
	}
	return entries, nil
}

func hashEntries(ctx context.Context, root string, entries []manifest.Entry, files []int, opts WalkOptions) error {
	paths := make([]string, len(files))
	for i, idx := range files {
		paths[i] = filepath.Join(root, filepath.FromSlash(entries[idx].Path))
	}
	results := hash.Files(ctx, paths, hash.Options{
		Algorithm:   opts.HashAlgorithm,
		Concurrency: opts.Concurrency,
		SkipErrors:  true,
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, idx := range files {
		r := results[paths[i]]
		if r.Error != nil {
			if opts.SkipErrors {
				continue
			}
			return fmt.Errorf("hashing %s: %w", entries[idx].Path, r.Error)
		}
		entries[idx].Hash = r.Sum
	}
	return nil
}

// Snapshot walks root and wraps the entries in a Manifest stamped with the
// current time.
func Snapshot(ctx context.Context, root string, opts WalkOptions) (manifest.Manifest, error) {
	entries, err := Walk(ctx, root, opts)
	if err != nil {
		return manifest.Manifest{}, err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return manifest.Manifest{}, err
	}
	return manifest.Manifest{
		Root:    filepath.ToSlash(abs),
		Created: time.Now().Unix(),
		Entries: entries,
	}, nil
}

// Mode renders raw mode bits for listings.
func Mode(m uint32) string { return fs.FileMode(m).String() }
