package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/diff"
	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testManifest(offset int) manifest.Manifest {
	m := manifest.Manifest{Root: "/data", Created: base.Unix()}
	m.Entries = []manifest.Entry{
		{Path: "docs", IsDir: true, Mode: 0o755, ModTime: base.Unix()},
		{Path: "docs/readme.md", Size: 1024, ModTime: base.Add(-48 * time.Hour).Unix(), Mode: 0o644, Hash: []byte{0xaa, 0x01}},
		{Path: "docs/guide.md", Size: 4096, ModTime: base.Add(-24 * time.Hour).Unix(), Mode: 0o644, Hash: []byte{0xaa, 0x02}},
		{Path: "src", IsDir: true, Mode: 0o755, ModTime: base.Unix()},
		{Path: "src/main.go", Size: 2048, ModTime: base.Unix(), Mode: 0o644, Hash: []byte{0xbb, 0x01}},
		{Path: "src/copy.go", Size: 2048, ModTime: base.Add(-time.Hour).Unix(), Mode: 0o644, Hash: []byte{0xbb, 0x01}},
		{Path: "big.bin", Size: 1 << 20, ModTime: base.Add(-72 * time.Hour).Unix(), Mode: 0o600, Hash: []byte{0xcc}},
	}
	for i := 0; i < offset; i++ {
		m.Entries = append(m.Entries, manifest.Entry{
			Path:    fmt.Sprintf("extra/%d.txt", i),
			Size:    int64(i),
			ModTime: base.Unix(),
			Mode:    0o644,
		})
	}
	return m
}

func view(t *testing.T, m manifest.Manifest) manifest.ArchivedManifest {
	t.Helper()
	buf, root, err := manifest.Encode(m, manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	v, err := manifest.View(archive.NewBuffer(buf), root, false)
	require.NoError(t, err)
	return v
}

func paths(results []FileResult) []string {
	if len(results) == 0 {
		return nil
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Path
	}
	return out
}

func TestMatch(t *testing.T) {
	t.Parallel()

	v := view(t, testManifest(0))
	isDir, isFile := true, false

	tests := []struct {
		name string
		opts QueryOptions
		want []string
	}{
		{"All", DefaultQueryOptions(), []string{"docs", "docs/readme.md", "docs/guide.md", "src", "src/main.go", "src/copy.go", "big.bin"}},
		{"BaseName", QueryOptions{Pattern: "*.md"}, []string{"docs/readme.md", "docs/guide.md"}},
		{"FullPath", QueryOptions{Pattern: "src/*"}, []string{"src/main.go", "src/copy.go"}},
		{"Literal", QueryOptions{Pattern: "src/main.go"}, []string{"src/main.go"}},
		{"LiteralMissing", QueryOptions{Pattern: "src/none.go"}, nil},
		{"MinSize", QueryOptions{MinSize: 4096}, []string{"docs/guide.md", "big.bin"}},
		{"SizeRange", QueryOptions{MinSize: 2000, MaxSize: 5000}, []string{"docs/guide.md", "src/main.go", "src/copy.go"}},
		{"Since", QueryOptions{StartTime: base.Add(-2 * time.Hour), IsDir: &isFile}, []string{"src/main.go", "src/copy.go"}},
		{"Until", QueryOptions{EndTime: base.Add(-47 * time.Hour)}, []string{"docs/readme.md", "big.bin"}},
		{"Hash", QueryOptions{Hash: "bb01"}, []string{"src/main.go", "src/copy.go"}},
		{"Dirs", QueryOptions{IsDir: &isDir}, []string{"docs", "src"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := Match(context.Background(), v, "snap", tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, paths(results))
			for _, r := range results {
				assert.Equal(t, "snap", r.Archive)
			}
		})
	}
}

func TestMatchResultFields(t *testing.T) {
	t.Parallel()

	results, err := Match(context.Background(), view(t, testManifest(0)), "snap", QueryOptions{Pattern: "big.bin"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, int64(1<<20), r.Size)
	assert.Equal(t, uint32(0o600), r.Permissions)
	assert.Equal(t, "cc", r.Hash)
	assert.True(t, r.ModTime.Equal(base.Add(-72*time.Hour)))
	assert.False(t, r.IsDir)
}

func TestMatchErrors(t *testing.T) {
	t.Parallel()

	v := view(t, testManifest(0))
	_, err := Match(context.Background(), v, "snap", QueryOptions{Pattern: "[bad"})
	assert.Error(t, err)
	_, err = Match(context.Background(), v, "snap", QueryOptions{Hash: "zz"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Match(ctx, v, "snap", DefaultQueryOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDuplicates(t *testing.T) {
	t.Parallel()

	results := []FileResult{
		{Path: "a", Hash: "01"},
		{Path: "b", Hash: "01"},
		{Path: "c", Hash: "02"},
		{Path: "d"},
		{Path: "e"},
	}
	dups := Duplicates(results)
	require.Len(t, dups, 1)
	assert.Equal(t, []string{"a", "b"}, paths(dups["01"]))
}

func newRepository(t *testing.T) *storage.Repository {
	t.Helper()
	opts := storage.DefaultRepositoryOptions()
	opts.CatalogOptions.SyncPolicy = 0
	repo, err := storage.OpenRepository(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	older := testManifest(2)
	older.Created = base.Add(-time.Hour).Unix()
	_, err = repo.Save("older", older, storage.SaveOptions{Encode: manifest.DefaultEncodeOptions()})
	require.NoError(t, err)

	newer := testManifest(3)
	newer.Entries[4].Size = 3000
	newer.Entries = append(newer.Entries[:1], newer.Entries[2:]...)
	_, err = repo.Save("newer", newer, storage.SaveOptions{Stream: true, Compress: true})
	require.NoError(t, err)
	return repo
}

func TestQueryEngine(t *testing.T) {
	t.Parallel()

	q := NewQueryEngine(newRepository(t))

	t.Run("QueryArchive", func(t *testing.T) {
		results, err := q.QueryArchive(context.Background(), "older", QueryOptions{Pattern: "extra/*"})
		require.NoError(t, err)
		assert.Equal(t, []string{"extra/0.txt", "extra/1.txt"}, paths(results))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := q.QueryArchive(context.Background(), "missing", DefaultQueryOptions())
		assert.ErrorIs(t, err, storage.ErrArchiveNotFound)
		_, err = q.QueryMultipleArchives(context.Background(), []string{"older", "missing"}, DefaultQueryOptions())
		assert.ErrorIs(t, err, storage.ErrArchiveNotFound)
	})

	t.Run("QueryMultipleArchives", func(t *testing.T) {
		results, err := q.QueryMultipleArchives(context.Background(), []string{"newer", "older"}, QueryOptions{Pattern: "extra/*"})
		require.NoError(t, err)
		require.Len(t, results, 5)
		assert.Equal(t, "newer", results[0].Archive)
		assert.Equal(t, "older", results[4].Archive)
	})

	t.Run("QueryAllArchives", func(t *testing.T) {
		results, err := q.QueryAllArchives(context.Background(), QueryOptions{Pattern: "*.md"})
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("FindDuplicateFiles", func(t *testing.T) {
		dups, err := q.FindDuplicateFiles(context.Background(), []string{"older", "newer"}, QueryOptions{Pattern: "*.go"})
		require.NoError(t, err)
		assert.Len(t, dups["bb01"], 4)
		assert.NotContains(t, dups, "aa01")
	})

	t.Run("FindLargestFiles", func(t *testing.T) {
		results, err := q.FindLargestFiles(context.Background(), "older", 2, DefaultQueryOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"big.bin", "docs/guide.md"}, paths(results))
	})

	t.Run("FindNewestFiles", func(t *testing.T) {
		results, err := q.FindNewestFiles(context.Background(), "older", 0, QueryOptions{Pattern: "*.go"})
		require.NoError(t, err)
		assert.Equal(t, []string{"src/main.go", "src/copy.go"}, paths(results))
	})

	t.Run("FindOldestFiles", func(t *testing.T) {
		results, err := q.FindOldestFiles(context.Background(), "older", 1, DefaultQueryOptions())
		require.NoError(t, err)
		assert.Equal(t, []string{"big.bin"}, paths(results))
	})

	t.Run("FindFilesChangedBetweenArchives", func(t *testing.T) {
		changes, err := q.FindFilesChangedBetweenArchives(context.Background(), "older", "newer", DefaultQueryOptions())
		require.NoError(t, err)
		got := make([]string, len(changes))
		for i, c := range changes {
			got[i] = c.String()
		}
		assert.Equal(t, []string{"Deleted: docs/readme.md", "New: extra/2.txt", "Modified: src/main.go"}, got)

		changes, err = q.FindFilesChangedBetweenArchives(context.Background(), "older", "newer", QueryOptions{Pattern: "*.go"})
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, diff.Modified, changes[0].Type)
		assert.Equal(t, int64(3000), changes[0].New.Size)
	})
}
