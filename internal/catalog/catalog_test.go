package catalog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecords(t *testing.T) {
	t.Parallel()

	s := openStore(t, InMemory)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []Record{
		{Name: "b", Root: 128, Entries: 3, Size: 4096, StoredSize: 1024, Digest: "d1", Compressed: true, CreatedAt: base.Add(2 * time.Hour)},
		{Name: "a", Root: 64, Entries: 1, Size: 512, StoredSize: 544, Digest: "d2", CreatedAt: base},
		{Name: "c", Root: 32, Entries: 9, Size: 1 << 20, StoredSize: 1 << 20, Digest: "d1", CreatedAt: base.Add(time.Hour)},
	}
	for _, r := range records {
		require.NoError(t, s.Put(r))
	}

	got, err := s.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name)
	assert.Equal(t, 128, got.Root)
	assert.True(t, got.Compressed)
	assert.True(t, got.CreatedAt.Equal(base.Add(2*time.Hour)))
	assert.InDelta(t, 0.25, got.Ratio(), 1e-9)

	list, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "b"}, names(list))

	bySize, err := s.ListBySize()
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, names(bySize))

	dups, err := s.FindByDigest("d1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, names(dups))

	none, err := s.FindByDigest("missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, s.Delete("c"))
	_, err = s.Get("c")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete("c"), ErrNotFound)
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()

	s := openStore(t, InMemory)
	for _, name := range []string{"", "a:b", "x*"} {
		assert.ErrorIs(t, s.Put(Record{Name: name}), ErrInvalidName, name)
	}
}

func TestEntries(t *testing.T) {
	t.Parallel()

	s := openStore(t, InMemory)
	require.True(t, s.IndexesEntries())
	require.NoError(t, s.Put(Record{Name: "one", CreatedAt: time.Now()}))
	require.NoError(t, s.Put(Record{Name: "two", CreatedAt: time.Now()}))

	require.NoError(t, s.PutEntries("one", []EntryRecord{
		{Path: "a.txt", Size: 3, Hash: "aa"},
		{Path: "dir", IsDir: true},
	}))
	require.NoError(t, s.PutEntries("two", []EntryRecord{
		{Path: "copy.txt", Size: 3, Hash: "aa"},
	}))

	e, err := s.GetEntry("one", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "one", e.Archive)
	assert.Equal(t, int64(3), e.Size)

	found, err := s.FindByHash("aa")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.ElementsMatch(t, []string{"one", "two"}, []string{found[0].Archive, found[1].Archive})

	// Replacing drops stale paths.
	require.NoError(t, s.PutEntries("one", []EntryRecord{{Path: "b.txt", Hash: "bb"}}))
	_, err = s.GetEntry("one", "a.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete("two"))
	found, err = s.FindByHash("aa")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestEntriesDisabled(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.IndexEntries = false
	s, err := Open(InMemory, opts)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutEntries("one", []EntryRecord{{Path: "a", Hash: "aa"}}))
	_, err = s.GetEntry("one", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPersistence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	require.NoError(t, s.Put(Record{Name: "kept", Entries: 7, CreatedAt: time.Now()}))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	assert.Equal(t, path, s.Path())
	r, err := s.Get("kept")
	require.NoError(t, err)
	assert.Equal(t, 7, r.Entries)
}

func names(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}
