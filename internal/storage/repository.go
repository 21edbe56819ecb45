package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/TFMV/flasharc/internal/catalog"
	"github.com/TFMV/flasharc/internal/hash"
	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/ser"
)

// CatalogFile is the catalog's file name inside a repository directory.
const CatalogFile = "catalog.db"

// ErrDigestMismatch is returned by Verify when an archive no longer matches
// its catalog record.
var ErrDigestMismatch = errors.New("archive digest does not match catalog")

// Repository combines an ArchiveStore with an optional catalog of the
// archives it holds.
type Repository struct {
	archives *ArchiveStore
	catalog  *catalog.Store
	logger   log.Logger
}

// RepositoryOptions configures a Repository.
type RepositoryOptions struct {
	Archive Options
	// Catalog keeps a buntdb catalog next to the archives.
	Catalog        bool
	CatalogOptions catalog.Options
}

// DefaultRepositoryOptions returns the default options for a repository.
func DefaultRepositoryOptions() RepositoryOptions {
	return RepositoryOptions{
		Archive:        DefaultOptions(),
		Catalog:        true,
		CatalogOptions: catalog.DefaultOptions(),
	}
}

// OpenRepository opens the repository rooted at dir, creating it if needed.
func OpenRepository(dir string, opts RepositoryOptions) (*Repository, error) {
	archives, err := NewArchiveStore(dir, opts.Archive)
	if err != nil {
		return nil, err
	}
	r := &Repository{archives: archives, logger: archives.logger}
	if opts.Catalog {
		r.catalog, err = catalog.Open(filepath.Join(dir, CatalogFile), opts.CatalogOptions)
		if err != nil {
			archives.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close closes the catalog and the archive store.
func (r *Repository) Close() error {
	var catalogErr error
	if r.catalog != nil {
		catalogErr = r.catalog.Close()
	}
	return errors.Join(catalogErr, r.archives.Close())
}

// Archives is the underlying archive store.
func (r *Repository) Archives() *ArchiveStore { return r.archives }

// Catalog is the repository catalog, or nil when disabled.
func (r *Repository) Catalog() *catalog.Store { return r.catalog }

// SaveOptions controls Save.
type SaveOptions struct {
	Compress bool
	// Stream serializes straight to the file instead of building the
	// archive in memory first.
	Stream bool
	Encode manifest.EncodeOptions
}

// Save archives m under name, then registers it in the catalog.
func (r *Repository) Save(name string, m manifest.Manifest, opts SaveOptions) (catalog.Record, error) {
	wopts := WriteOptions{Compress: opts.Compress}
	if opts.Stream {
		_, err := r.archives.WriteStream(name, wopts, func(w *ser.Writer) (int, error) {
			return manifest.EncodeTo(w, m, opts.Encode)
		})
		if err != nil {
			return catalog.Record{}, err
		}
	} else {
		buf, root, err := manifest.Encode(m, opts.Encode)
		if err != nil {
			return catalog.Record{}, fmt.Errorf("failed to encode manifest: %w", err)
		}
		if _, err := r.archives.Write(name, buf, root, wopts); err != nil {
			return catalog.Record{}, err
		}
	}
	return r.Register(name)
}

// Register validates an archive already present in the store and records
// it in the catalog.
func (r *Repository) Register(name string) (catalog.Record, error) {
	r.archives.evict(name)
	rec, entries, err := r.describe(name, r.catalog != nil && r.catalog.IndexesEntries())
	if err != nil {
		return catalog.Record{}, err
	}
	if r.catalog != nil {
		if err := r.catalog.Put(rec); err != nil {
			return catalog.Record{}, err
		}
		if err := r.catalog.PutEntries(name, entries); err != nil {
			return catalog.Record{}, err
		}
	}
	level.Info(r.logger).Log("msg", "registered archive", "name", name, "entries", rec.Entries, "size", rec.Size, "stored", rec.StoredSize)
	return rec, nil
}

func (r *Repository) describe(name string, withEntries bool) (catalog.Record, []catalog.EntryRecord, error) {
	info, err := r.archives.Stat(name)
	if err != nil {
		return catalog.Record{}, nil, err
	}
	a, m, err := r.view(r.archives.OpenFull, name, false)
	if err != nil {
		return catalog.Record{}, nil, err
	}
	defer a.Close()

	rec := catalog.Record{
		Name:       name,
		Root:       a.Root(),
		Entries:    m.Len(),
		Size:       int64(len(a.Bytes())),
		StoredSize: info.StoredSize,
		Digest:     hash.Bytes(a.Bytes(), hash.BLAKE3).Hex(),
		Compressed: info.Header.Compressed(),
		CreatedAt:  time.Unix(m.Created(), 0),
	}
	if !withEntries {
		return rec, nil, nil
	}
	entries := make([]catalog.EntryRecord, 0, m.Len())
	for _, e := range m.Entries() {
		entries = append(entries, catalog.EntryRecord{
			Path:    strings.Clone(e.Path()),
			Size:    e.Size(),
			ModTime: e.ModTime(),
			Mode:    e.Mode(),
			IsDir:   e.IsDir(),
			Hash:    e.HashHex(),
		})
	}
	return rec, entries, nil
}

// Open loads archive name and returns its manifest view. Unless trusted,
// the archive is fully validated. The view is valid until the archive is
// closed.
func (r *Repository) Open(name string, trusted bool) (*Archive, manifest.ArchivedManifest, error) {
	return r.view(r.archives.Open, name, trusted)
}

func (r *Repository) view(open func(string) (*Archive, error), name string, trusted bool) (*Archive, manifest.ArchivedManifest, error) {
	a, err := open(name)
	if err != nil {
		return nil, manifest.ArchivedManifest{}, err
	}
	m, err := manifest.View(a.Buffer(), a.Root(), trusted)
	if err != nil {
		_ = a.Close()
		return nil, manifest.ArchivedManifest{}, fmt.Errorf("%s: %w", name, err)
	}
	return a, m, nil
}

// Load restores an independent copy of archive name's manifest.
func (r *Repository) Load(name string) (manifest.Manifest, error) {
	a, err := r.archives.OpenFull(name)
	if err != nil {
		return manifest.Manifest{}, err
	}
	defer a.Close()
	return manifest.Decode(a.Bytes(), a.Root())
}

// Record returns the catalog record for name, or describes the archive
// directly when there is no catalog.
func (r *Repository) Record(name string) (catalog.Record, error) {
	if r.catalog != nil {
		return r.catalog.Get(name)
	}
	rec, _, err := r.describe(name, false)
	return rec, err
}

// Records lists every archive, oldest first.
func (r *Repository) Records() ([]catalog.Record, error) {
	if r.catalog != nil {
		return r.catalog.List()
	}
	names, err := r.archives.List()
	if err != nil {
		return nil, err
	}
	records := make([]catalog.Record, 0, len(names))
	for _, name := range names {
		rec, _, err := r.describe(name, false)
		if err != nil {
			level.Warn(r.logger).Log("msg", "skipping unreadable archive", "name", name, "err", err)
			continue
		}
		records = append(records, rec)
	}
	slices.SortStableFunc(records, func(a, b catalog.Record) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return records, nil
}

// Verify fully validates archive name. When the catalog holds a record for
// it, the payload digest must also match the recorded one.
func (r *Repository) Verify(name string) (catalog.Record, error) {
	rec, _, err := r.describe(name, false)
	if err != nil {
		return catalog.Record{}, err
	}
	if r.catalog == nil {
		return rec, nil
	}
	want, err := r.catalog.Get(name)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return rec, nil
	case err != nil:
		return rec, err
	case want.Digest != rec.Digest:
		return rec, fmt.Errorf("%w: %s: catalog has %s, archive has %s", ErrDigestMismatch, name, want.Digest, rec.Digest)
	}
	return rec, nil
}

// Delete removes archive name and its catalog record.
func (r *Repository) Delete(name string) error {
	err := r.archives.Delete(name)
	if r.catalog != nil {
		cerr := r.catalog.Delete(name)
		if errors.Is(err, ErrArchiveNotFound) && cerr == nil {
			// The record outlived its file; removing it is enough.
			err = nil
		}
		if cerr != nil && !errors.Is(cerr, catalog.ErrNotFound) {
			err = errors.Join(err, cerr)
		}
	}
	return err
}

// Expired returns the archives policy would delete, newest first.
func (r *Repository) Expired(policy ExpiryPolicy, now time.Time) ([]string, error) {
	records, err := r.Records()
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	infos := make([]ArchiveInfo, len(records))
	for i, rec := range records {
		infos[i] = ArchiveInfo{Name: rec.Name, Timestamp: rec.CreatedAt, Size: rec.StoredSize}
	}
	return ApplyExpiryPolicy(infos, policy, now), nil
}

// Prune deletes the archives policy expires and returns their names.
func (r *Repository) Prune(policy ExpiryPolicy, now time.Time) ([]string, error) {
	expired, err := r.Expired(policy, now)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, name := range expired {
		if err := r.Delete(name); err != nil {
			level.Warn(r.logger).Log("msg", "failed to prune archive", "name", name, "err", err)
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
