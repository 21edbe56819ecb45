package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/storage"
)

const day = 24 * 60 * 60

func oldManifest() manifest.Manifest {
	return manifest.Manifest{Root: "/data", Created: 1700000000, Entries: []manifest.Entry{
		{Path: "file1.txt", Size: 100, ModTime: 1700000000 - day, Mode: 0o644, Hash: []byte{1, 2, 3, 4}},
		{Path: "dir1", ModTime: 1700000000 - day, Mode: 0o755, IsDir: true},
		{Path: "dir1/file2.txt", Size: 200, ModTime: 1700000000 - day, Mode: 0o644, Hash: []byte{5, 6, 7, 8}},
		{Path: "file3.txt", Size: 300, ModTime: 1700000000 - day, Mode: 0o644, Hash: []byte{9, 10, 11, 12}},
		{Path: "same.txt", Size: 10, ModTime: 1700000000 - day, Mode: 0o644, Hash: []byte{1}},
	}}
}

func newManifest() manifest.Manifest {
	return manifest.Manifest{Root: "/data", Created: 1700000000, Entries: []manifest.Entry{
		{Path: "same.txt", Size: 10, ModTime: 1700000000 - day, Mode: 0o644, Hash: []byte{1}},
		{Path: "file1.txt", Size: 150, ModTime: 1700000000, Mode: 0o644, Hash: []byte{13, 14, 15, 16}},
		{Path: "dir1", ModTime: 1700000000 - day, Mode: 0o755, IsDir: true},
		{Path: "dir1/file2.txt", Size: 200, ModTime: 1700000000 - day, Mode: 0o600, Hash: []byte{5, 6, 7, 8}},
		{Path: "file4.txt", Size: 400, ModTime: 1700000000, Mode: 0o644, Hash: []byte{17, 18, 19, 20}},
	}}
}

func view(t *testing.T, m manifest.Manifest) manifest.ArchivedManifest {
	t.Helper()
	buf, root, err := manifest.Encode(m, manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	v, err := manifest.View(archive.NewBuffer(buf), root, false)
	require.NoError(t, err)
	return v
}

func TestCompare(t *testing.T) {
	t.Parallel()

	diffs, err := Compare(context.Background(), view(t, oldManifest()), view(t, newManifest()), DefaultOptions())
	require.NoError(t, err)

	got := make([]string, len(diffs))
	for i, d := range diffs {
		got[i] = d.String()
	}
	assert.Equal(t, []string{
		"Modified: dir1/file2.txt",
		"Modified: file1.txt",
		"Deleted: file3.txt",
		"New: file4.txt",
	}, got)

	assert.Equal(t, int64(100), diffs[1].Old.Size)
	assert.Equal(t, int64(150), diffs[1].New.Size)
	assert.Equal(t, []byte{13, 14, 15, 16}, diffs[1].New.Hash)
	assert.Zero(t, diffs[3].Old)
	assert.Zero(t, diffs[2].New)

	s := Summarize(diffs)
	assert.Equal(t, Summary{Added: 1, Modified: 2, Deleted: 1, SizeDelta: 50 + 400 - 300}, s)
	assert.Equal(t, 4, s.Total())
}

func TestCompareOptions(t *testing.T) {
	t.Parallel()

	before := manifest.Manifest{Entries: []manifest.Entry{
		{Path: "a", Size: 1, ModTime: 1, Mode: 0o644, Hash: []byte{1}},
		{Path: "b", Size: 1, ModTime: 1, Mode: 0o644},
	}}
	after := manifest.Manifest{Entries: []manifest.Entry{
		{Path: "a", Size: 1, ModTime: 2, Mode: 0o600, Hash: []byte{2}},
		{Path: "b", Size: 1, ModTime: 1, Mode: 0o644, Hash: []byte{3}},
	}}
	b, a := view(t, before), view(t, after)

	tests := []struct {
		name string
		opts Options
		want int
	}{
		{"Default", DefaultOptions(), 1},
		{"MetadataOnly", Options{IgnoreModTime: true, IgnoreMode: true}, 0},
		{"HashOnly", Options{CompareHashes: true, IgnoreModTime: true, IgnoreMode: true}, 1},
		{"ModTimeOnly", Options{IgnoreMode: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diffs, err := Compare(context.Background(), b, a, tt.opts)
			require.NoError(t, err)
			assert.Len(t, diffs, tt.want)
			for _, d := range diffs {
				assert.Equal(t, "a", d.Path)
			}
		})
	}
}

func TestComparePathPrefix(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.PathPrefix = "dir1/"
	diffs, err := Compare(context.Background(), view(t, oldManifest()), view(t, newManifest()), opts)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "Modified: dir1/file2.txt", diffs[0].String())
}

func TestCompareIdentical(t *testing.T) {
	t.Parallel()

	v := view(t, oldManifest())
	diffs, err := Compare(context.Background(), v, v, DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, diffs)
}

func TestCompareCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Compare(ctx, view(t, oldManifest()), view(t, newManifest()), DefaultOptions())
	assert.ErrorIs(t, err, ErrOperationCanceled)
}

func TestCompareArchives(t *testing.T) {
	t.Parallel()

	opts := storage.DefaultRepositoryOptions()
	opts.Catalog = false
	repo, err := storage.OpenRepository(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.Save("old", oldManifest(), storage.SaveOptions{Encode: manifest.DefaultEncodeOptions()})
	require.NoError(t, err)
	_, err = repo.Save("new", newManifest(), storage.SaveOptions{Compress: true, Stream: true})
	require.NoError(t, err)

	diffs, err := CompareArchives(context.Background(), repo, "old", "new", false, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, diffs, 4)
	assert.Equal(t, "file4.txt", diffs[3].Path)
	assert.Equal(t, Added, diffs[3].Type)

	_, err = CompareArchives(context.Background(), repo, "old", "missing", false, DefaultOptions())
	assert.ErrorIs(t, err, storage.ErrArchiveNotFound)
}
