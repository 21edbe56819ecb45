// Package diff compares two archived manifests without decoding them.
package diff

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
	"golang.org/x/sync/errgroup"
)

// ErrOperationCanceled is returned when the context is done mid-comparison.
var ErrOperationCanceled = errors.New("operation canceled")

// ChangeType classifies a difference.
type ChangeType int8

const (
	Added ChangeType = iota
	Modified
	Deleted
)

func (t ChangeType) String() string {
	switch t {
	case Added:
		return "New"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return fmt.Sprintf("ChangeType(%d)", int8(t))
	}
}

// DiffEntry is one difference between two manifests. Old is zero for Added
// entries and New is zero for Deleted ones.
type DiffEntry struct {
	Path string
	Type ChangeType
	Old  manifest.Entry
	New  manifest.Entry
}

func (d DiffEntry) String() string { return fmt.Sprintf("%s: %s", d.Type, d.Path) }

// SizeDelta is the change in bytes this entry contributes.
func (d DiffEntry) SizeDelta() int64 { return d.New.Size - d.Old.Size }

// Options controls which fields count as a modification.
type Options struct {
	// CompareHashes flags entries whose content hashes differ. Entries
	// missing a hash on either side are compared by metadata only.
	CompareHashes bool
	// IgnoreModTime skips the modification time check.
	IgnoreModTime bool
	// IgnoreMode skips the permission bits check.
	IgnoreMode bool
	// PathPrefix limits the comparison to paths under it.
	PathPrefix string
}

// DefaultOptions compares every field.
func DefaultOptions() Options {
	return Options{CompareHashes: true}
}

const cancelCheckInterval = 1000

func canceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrOperationCanceled, ctx.Err())
	default:
		return nil
	}
}

func (o Options) differ(a, b manifest.ArchivedEntry) bool {
	if a.IsDir() != b.IsDir() || a.Size() != b.Size() {
		return true
	}
	if !o.IgnoreModTime && a.ModTime() != b.ModTime() {
		return true
	}
	if !o.IgnoreMode && a.Mode() != b.Mode() {
		return true
	}
	if o.CompareHashes {
		ha, hb := a.Hash(), b.Hash()
		if len(ha) > 0 && len(hb) > 0 && !bytes.Equal(ha, hb) {
			return true
		}
	}
	return false
}

// Compare returns the differences between before and after sorted by
// path. Each side is probed through the other's path index, so neither
// manifest needs to be in path order. Only changed entries are copied out
// of the buffers.
func Compare(ctx context.Context, before, after manifest.ArchivedManifest, opts Options) ([]DiffEntry, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	diffs := make([]DiffEntry, 0, max(before.Len()/10, 10))

	for i, ne := range after.Entries() {
		if i%cancelCheckInterval == 0 {
			if err := canceled(ctx); err != nil {
				return nil, err
			}
		}
		if !strings.HasPrefix(ne.Path(), opts.PathPrefix) {
			continue
		}
		oe, ok := before.Lookup(ne.Path())
		switch {
		case !ok:
			n := ne.Entry()
			diffs = append(diffs, DiffEntry{Path: n.Path, Type: Added, New: n})
		case opts.differ(oe, ne):
			n := ne.Entry()
			diffs = append(diffs, DiffEntry{Path: n.Path, Type: Modified, Old: oe.Entry(), New: n})
		}
	}

	for i, oe := range before.Entries() {
		if i%cancelCheckInterval == 0 {
			if err := canceled(ctx); err != nil {
				return nil, err
			}
		}
		if !strings.HasPrefix(oe.Path(), opts.PathPrefix) {
			continue
		}
		if _, ok := after.Lookup(oe.Path()); !ok {
			o := oe.Entry()
			diffs = append(diffs, DiffEntry{Path: o.Path, Type: Deleted, Old: o})
		}
	}

	slices.SortFunc(diffs, func(a, b DiffEntry) int { return strings.Compare(a.Path, b.Path) })
	return diffs, nil
}

// Summary counts a diff by change type.
type Summary struct {
	Added     int
	Modified  int
	Deleted   int
	SizeDelta int64
}

// Total is the number of changed entries.
func (s Summary) Total() int { return s.Added + s.Modified + s.Deleted }

// Summarize tallies diffs.
func Summarize(diffs []DiffEntry) Summary {
	var s Summary
	for _, d := range diffs {
		switch d.Type {
		case Added:
			s.Added++
		case Modified:
			s.Modified++
		case Deleted:
			s.Deleted++
		}
		s.SizeDelta += d.SizeDelta()
	}
	return s
}

// Opener opens a named archive and returns a view of its manifest.
type Opener interface {
	Open(name string, trusted bool) (*storage.Archive, manifest.ArchivedManifest, error)
}

// CompareArchives opens oldName and newName concurrently and compares them.
// Both archives are closed before returning; the result owns its memory.
func CompareArchives(ctx context.Context, repo Opener, oldName, newName string, trusted bool, opts Options) ([]DiffEntry, error) {
	if err := canceled(ctx); err != nil {
		return nil, err
	}

	var oldArc, newArc *storage.Archive
	var oldView, newView manifest.ArchivedManifest

	var eg errgroup.Group
	eg.Go(func() (err error) {
		oldArc, oldView, err = repo.Open(oldName, trusted)
		if err != nil {
			return fmt.Errorf("error loading old archive: %w", err)
		}
		return nil
	})
	eg.Go(func() (err error) {
		newArc, newView, err = repo.Open(newName, trusted)
		if err != nil {
			return fmt.Errorf("error loading new archive: %w", err)
		}
		return nil
	})
	err := eg.Wait()

	if oldArc != nil {
		defer oldArc.Close()
	}
	if newArc != nil {
		defer newArc.Close()
	}
	if err != nil {
		return nil, err
	}

	return Compare(ctx, oldView, newView, opts)
}
