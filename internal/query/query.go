// Package query filters archived manifests in place. Entries are tested
// against the archive bytes and only matches are copied out.
package query

import (
	"bytes"
	"cmp"
	"context"
	"encoding/hex"
	"fmt"
	"path"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/TFMV/flasharc/internal/catalog"
	"github.com/TFMV/flasharc/internal/diff"
	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Store is the archive source a QueryEngine reads from.
type Store interface {
	Open(name string, trusted bool) (*storage.Archive, manifest.ArchivedManifest, error)
	Records() ([]catalog.Record, error)
}

// QueryOptions defines the criteria an entry must meet.
type QueryOptions struct {
	// Pattern is a path.Match pattern. Without a slash it is matched
	// against the base name, otherwise against the whole path. Empty
	// matches everything.
	Pattern string
	// MinSize is the minimum file size in bytes.
	MinSize int64
	// MaxSize is the maximum file size in bytes (0 means no limit).
	MaxSize int64
	// StartTime excludes entries modified before it.
	StartTime time.Time
	// EndTime excludes entries modified after it.
	EndTime time.Time
	// Hash is a hex content hash to match exactly.
	Hash string
	// IsDir, when set, restricts results to directories or to files.
	IsDir *bool
}

// DefaultQueryOptions matches every entry.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Pattern: "*"}
}

// FileResult is one matching entry.
type FileResult struct {
	Archive     string
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	Permissions uint32
	Hash        string
}

type matcher struct {
	opts     QueryOptions
	hash     []byte
	baseName bool
	literal  bool
}

func newMatcher(opts QueryOptions) (*matcher, error) {
	m := &matcher{opts: opts}
	if opts.Pattern == "*" {
		m.opts.Pattern = ""
	}
	if p := m.opts.Pattern; p != "" {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		m.baseName = !strings.Contains(p, "/")
		m.literal = !m.baseName && !strings.ContainsAny(p, `*?[\`)
	}
	if opts.Hash != "" {
		h, err := hex.DecodeString(opts.Hash)
		if err != nil {
			return nil, fmt.Errorf("invalid hash %q: %w", opts.Hash, err)
		}
		m.hash = h
	}
	return m, nil
}

func (m *matcher) match(e manifest.ArchivedEntry) bool {
	return m.test(e.Path(), e.Size(), e.ModTime(), e.IsDir(), e.Hash())
}

func (m *matcher) matchEntry(e manifest.Entry) bool {
	return m.test(e.Path, e.Size, e.ModTime, e.IsDir, e.Hash)
}

func (m *matcher) test(p string, size, modTime int64, isDir bool, hash []byte) bool {
	o := m.opts
	if size < o.MinSize || (o.MaxSize > 0 && size > o.MaxSize) {
		return false
	}
	if !o.StartTime.IsZero() && modTime < o.StartTime.Unix() {
		return false
	}
	if !o.EndTime.IsZero() && modTime > o.EndTime.Unix() {
		return false
	}
	if o.IsDir != nil && isDir != *o.IsDir {
		return false
	}
	if m.hash != nil && !bytes.Equal(hash, m.hash) {
		return false
	}
	if o.Pattern == "" {
		return true
	}
	if m.baseName {
		p = path.Base(p)
	}
	ok, _ := path.Match(o.Pattern, p)
	return ok
}

func result(archive string, e manifest.ArchivedEntry) FileResult {
	r := FileResult{
		Archive:     archive,
		Path:        strings.Clone(e.Path()),
		Size:        e.Size(),
		ModTime:     time.Unix(e.ModTime(), 0),
		IsDir:       e.IsDir(),
		Permissions: e.Mode(),
	}
	if h := e.Hash(); len(h) > 0 {
		r.Hash = hex.EncodeToString(h)
	}
	return r
}

// Match returns the entries of m that satisfy options, in archive order.
// A pattern naming one exact path is answered through the path index.
func Match(ctx context.Context, m manifest.ArchivedManifest, archive string, options QueryOptions) ([]FileResult, error) {
	mt, err := newMatcher(options)
	if err != nil {
		return nil, err
	}
	if mt.literal {
		e, ok := m.Lookup(options.Pattern)
		if !ok || !mt.match(e) {
			return nil, nil
		}
		return []FileResult{result(archive, e)}, nil
	}

	var results []FileResult
	for i, e := range m.Entries() {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if mt.match(e) {
			results = append(results, result(archive, e))
		}
	}
	return results, nil
}

// QueryEngine runs queries against the archives of a Store.
type QueryEngine struct {
	store Store
	// Trusted skips validation when archives are opened.
	Trusted bool
	// Concurrency bounds how many archives are open at once; 0 uses
	// GOMAXPROCS.
	Concurrency int
}

// NewQueryEngine creates a new query engine.
func NewQueryEngine(store Store) *QueryEngine {
	return &QueryEngine{store: store}
}

// QueryArchive returns the matching entries of one archive.
func (q *QueryEngine) QueryArchive(ctx context.Context, name string, options QueryOptions) ([]FileResult, error) {
	a, m, err := q.store.Open(name, q.Trusted)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return Match(ctx, m, name, options)
}

// QueryMultipleArchives queries names concurrently. Results are grouped by
// archive in the order names were given.
func (q *QueryEngine) QueryMultipleArchives(ctx context.Context, names []string, options QueryOptions) ([]FileResult, error) {
	if _, err := newMatcher(options); err != nil {
		return nil, err
	}
	limit := q.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	perArchive := make([][]FileResult, len(names))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, name := range names {
		eg.Go(func() error {
			results, err := q.QueryArchive(ctx, name, options)
			if err != nil {
				return fmt.Errorf("failed to query archive %s: %w", name, err)
			}
			perArchive[i] = results
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var all []FileResult
	for _, results := range perArchive {
		all = append(all, results...)
	}
	return all, nil
}

// QueryAllArchives queries every archive the store knows about.
func (q *QueryEngine) QueryAllArchives(ctx context.Context, options QueryOptions) ([]FileResult, error) {
	records, err := q.store.Records()
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return q.QueryMultipleArchives(ctx, names, options)
}

// FindDuplicateFiles groups matching regular files that share a content
// hash across names. Only hashes seen more than once are returned.
func (q *QueryEngine) FindDuplicateFiles(ctx context.Context, names []string, options QueryOptions) (map[string][]FileResult, error) {
	files := false
	options.IsDir = &files
	results, err := q.QueryMultipleArchives(ctx, names, options)
	if err != nil {
		return nil, err
	}
	return Duplicates(results), nil
}

// Duplicates groups results by hash, keeping groups of two or more.
func Duplicates(results []FileResult) map[string][]FileResult {
	byHash := make(map[string][]FileResult)
	for _, r := range results {
		if r.Hash == "" {
			continue
		}
		byHash[r.Hash] = append(byHash[r.Hash], r)
	}
	for h, group := range byHash {
		if len(group) < 2 {
			delete(byHash, h)
		}
	}
	return byHash
}

// FindFilesChangedBetweenArchives diffs two archives and keeps the changes
// whose current side matches options. Deleted entries are matched on
// their previous state.
func (q *QueryEngine) FindFilesChangedBetweenArchives(ctx context.Context, oldName, newName string, options QueryOptions) ([]diff.DiffEntry, error) {
	mt, err := newMatcher(options)
	if err != nil {
		return nil, err
	}
	diffs, err := diff.CompareArchives(ctx, q.store, oldName, newName, q.Trusted, diff.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to compute diff: %w", err)
	}

	out := diffs[:0]
	for _, d := range diffs {
		e := d.New
		if d.Type == diff.Deleted {
			e = d.Old
		}
		if mt.matchEntry(e) {
			out = append(out, d)
		}
	}
	return out, nil
}

// FindLargestFiles returns up to n matches of archive name, largest first.
// n <= 0 returns every match.
func (q *QueryEngine) FindLargestFiles(ctx context.Context, name string, n int, options QueryOptions) ([]FileResult, error) {
	return q.top(ctx, name, n, options, func(a, b FileResult) int {
		return cmp.Compare(b.Size, a.Size)
	})
}

// FindNewestFiles returns up to n matches of archive name, newest first.
func (q *QueryEngine) FindNewestFiles(ctx context.Context, name string, n int, options QueryOptions) ([]FileResult, error) {
	return q.top(ctx, name, n, options, func(a, b FileResult) int {
		return b.ModTime.Compare(a.ModTime)
	})
}

// FindOldestFiles returns up to n matches of archive name, oldest first.
func (q *QueryEngine) FindOldestFiles(ctx context.Context, name string, n int, options QueryOptions) ([]FileResult, error) {
	return q.top(ctx, name, n, options, func(a, b FileResult) int {
		return a.ModTime.Compare(b.ModTime)
	})
}

func (q *QueryEngine) top(ctx context.Context, name string, n int, options QueryOptions, order func(a, b FileResult) int) ([]FileResult, error) {
	results, err := q.QueryArchive(ctx, name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to query archive: %w", err)
	}
	slices.SortStableFunc(results, order)
	if n > 0 && n < len(results) {
		return results[:n], nil
	}
	return results, nil
}
