package walker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/hash"
	"github.com/TFMV/flasharc/internal/manifest"
)

func makeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"dir1/subdir1", "dir2"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	files := map[string]string{
		"file1.txt":              "file1 content",
		"dir1/file2.txt":         "file2 content",
		"dir1/subdir1/file3.txt": "file3 content",
		"dir2/file4.txt":         "file4 content",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
	}
	return root
}

func TestWalk(t *testing.T) {
	t.Parallel()

	root := makeTree(t)
	var seen []string
	opts := DefaultWalkOptions()
	opts.Progress = func(e manifest.Entry) { seen = append(seen, e.Path) }

	entries, err := Walk(context.Background(), root, opts)
	require.NoError(t, err)

	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	assert.Equal(t, []string{
		"dir1",
		"dir1/file2.txt",
		"dir1/subdir1",
		"dir1/subdir1/file3.txt",
		"dir2",
		"dir2/file4.txt",
		"file1.txt",
	}, paths)
	assert.Equal(t, paths, seen)

	for _, e := range entries {
		if e.IsDir {
			assert.Nil(t, e.Hash, e.Path)
			assert.Zero(t, e.Size)
			continue
		}
		want := hash.Bytes([]byte(filepath.Base(e.Path)[:5]+" content"), hash.BLAKE3).Sum
		assert.Equal(t, want, e.Hash, e.Path)
		assert.Equal(t, int64(13), e.Size)
	}
}

func TestWalkOptions(t *testing.T) {
	t.Parallel()

	root := makeTree(t)

	t.Run("NoHashes", func(t *testing.T) {
		opts := DefaultWalkOptions()
		opts.ComputeHashes = false
		entries, err := Walk(context.Background(), root, opts)
		require.NoError(t, err)
		for _, e := range entries {
			assert.Nil(t, e.Hash)
		}
	})

	t.Run("MaxDepth", func(t *testing.T) {
		opts := DefaultWalkOptions()
		opts.MaxDepth = 1
		entries, err := Walk(context.Background(), root, opts)
		require.NoError(t, err)
		assert.Len(t, entries, 3)
	})

	t.Run("SHA256", func(t *testing.T) {
		opts := DefaultWalkOptions()
		opts.HashAlgorithm = hash.SHA256
		entries, err := Walk(context.Background(), root, opts)
		require.NoError(t, err)
		e := entries[len(entries)-1]
		assert.Equal(t, hash.Bytes([]byte("file1 content"), hash.SHA256).Sum, e.Hash)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Walk(ctx, root, DefaultWalkOptions())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("NotADirectory", func(t *testing.T) {
		_, err := Walk(context.Background(), filepath.Join(root, "file1.txt"), DefaultWalkOptions())
		assert.Error(t, err)
	})
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	root := makeTree(t)
	m, err := Snapshot(context.Background(), root, DefaultWalkOptions())
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(root), m.Root)
	assert.Positive(t, m.Created)
	assert.Len(t, m.Entries, 7)
	assert.Equal(t, int64(4*13), m.TotalSize())

	buf, pos, err := manifest.Encode(m, manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	v, err := manifest.View(archive.NewBuffer(buf), pos, false)
	require.NoError(t, err)
	e, ok := v.Lookup("dir1/subdir1/file3.txt")
	require.True(t, ok)
	assert.Equal(t, int64(13), e.Size())
	fi, err := os.Lstat(filepath.Join(root, "dir1", "subdir1", "file3.txt"))
	require.NoError(t, err)
	assert.Equal(t, fi.Mode().String(), Mode(e.Mode()))
}
