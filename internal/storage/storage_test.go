package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flasharc/internal/manifest"
	"github.com/TFMV/flasharc/internal/mmap"
	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/ser"
)

func sampleManifest(n int) manifest.Manifest {
	m := manifest.Manifest{Root: "/data", Created: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).Unix()}
	for i := 0; i < n; i++ {
		m.Entries = append(m.Entries, manifest.Entry{
			Path:    "dir/" + string(rune('a'+i)) + ".txt",
			Size:    int64(i * 100),
			ModTime: 1700000000 + int64(i),
			Mode:    0o644,
			Hash:    []byte{byte(i), 0xab, 0xcd},
		})
	}
	return m
}

func encodeSample(t *testing.T) ([]byte, int) {
	t.Helper()
	buf, root, err := manifest.Encode(sampleManifest(10), manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	return buf, root
}

func newStore(t *testing.T, opts Options) *ArchiveStore {
	t.Helper()
	s, err := NewArchiveStore(t.TempDir(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHeader(t *testing.T) {
	t.Parallel()

	h := NewHeader(96, 1024, 0xdeadbeef, true)
	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, HeaderSize)
	assert.Equal(t, "FARC", string(b[:4]))

	got, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.True(t, got.Compressed())
	assert.Equal(t, uint8(rel.OffsetSize), got.OffsetWidth)

	corrupt := func(f func(b []byte)) []byte {
		c := append([]byte(nil), b...)
		f(c)
		return c
	}
	otherWidth := byte(8)
	if rel.OffsetSize == 8 {
		otherWidth = 4
	}
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"Truncated", b[:10], ErrInvalidArchive},
		{"BadMagic", corrupt(func(b []byte) { b[0] = 'X' }), ErrInvalidArchive},
		{"BadVersion", corrupt(func(b []byte) { b[4] = 9 }), ErrInvalidArchive},
		{"UnknownFlags", corrupt(func(b []byte) { b[6] = 0x80 }), ErrInvalidArchive},
		{"OffsetWidth", corrupt(func(b []byte) { b[7] = otherWidth }), ErrOffsetWidthMismatch},
		{"RootPastPayload", corrupt(func(b []byte) { b[8], b[9] = 0xff, 0xff }), ErrInvalidArchive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWriteOpen(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	tests := []struct {
		name     string
		opts     Options
		compress bool
		mapped   bool
	}{
		{"RawMapped", Options{Mmap: true}, false, true},
		{"RawRead", Options{Mmap: false}, false, false},
		{"Compressed", Options{Mmap: true}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, tt.opts)
			info, err := s.Write("snap", buf, root, WriteOptions{Compress: tt.compress})
			require.NoError(t, err)
			assert.Equal(t, uint64(len(buf)), info.Header.PayloadLen)
			assert.Equal(t, tt.compress, info.Header.Compressed())
			if !tt.compress {
				assert.Equal(t, int64(HeaderSize+len(buf)), info.StoredSize)
			}

			a, err := s.Open("snap")
			require.NoError(t, err)
			defer a.Close()
			assert.Equal(t, root, a.Root())
			assert.Equal(t, buf, a.Bytes())
			assert.Equal(t, len(buf), a.Buffer().Len())
			assert.True(t, isAligned(a.Bytes()))
			if tt.mapped {
				assert.Equal(t, mmapSupported(t), a.Mapped())
			} else {
				assert.False(t, a.Mapped())
			}

			m, err := manifest.View(a.Buffer(), a.Root(), false)
			require.NoError(t, err)
			assert.Equal(t, 10, m.Len())
		})
	}
}

func TestOpenFull(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	for _, mapped := range []bool{true, false} {
		s := newStore(t, Options{Mmap: mapped})
		_, err := s.Write("snap", buf, root, WriteOptions{})
		require.NoError(t, err)

		a, err := s.OpenFull("snap")
		require.NoError(t, err)
		assert.Equal(t, buf, a.Bytes())
		assert.Equal(t, mapped && mmapSupported(t), a.Mapped())
		require.NoError(t, a.Close())
	}

	s := newStore(t, Options{})
	_, err := s.OpenFull("missing")
	assert.Error(t, err)
}

func mmapSupported(t *testing.T) bool {
	t.Helper()
	p := filepath.Join(t.TempDir(), "sample")
	require.NoError(t, os.WriteFile(p, []byte("sample"), 0o644))
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	m, err := mmap.Map(f, mmap.Prefault)
	require.NoError(t, err)
	defer m.Close()
	return m.Mapped()
}

func TestWriteStream(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		s := newStore(t, Options{Mmap: true})
		want := sampleManifest(20)
		info, err := s.WriteStream("streamed", WriteOptions{Compress: compress}, func(w *ser.Writer) (int, error) {
			return manifest.EncodeTo(w, want, manifest.DefaultEncodeOptions())
		})
		require.NoError(t, err)
		assert.Equal(t, compress, info.Header.Compressed())

		st, err := s.Stat("streamed")
		require.NoError(t, err)
		assert.Equal(t, info.Header, st.Header)

		a, err := s.Open("streamed")
		require.NoError(t, err)
		assert.Equal(t, st.Header.Checksum, xxhash.Sum64(a.Bytes()))
		got, err := manifest.Decode(a.Bytes(), a.Root())
		require.NoError(t, err)
		assert.Equal(t, want, got)
		require.NoError(t, a.Close())
	}
}

func TestWriteStreamError(t *testing.T) {
	t.Parallel()

	s := newStore(t, DefaultOptions())
	_, err := s.WriteStream("broken", WriteOptions{}, func(w *ser.Writer) (int, error) {
		return 0, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary file left behind")
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	s := newStore(t, Options{Mmap: true})

	_, err := s.Open("missing")
	assert.ErrorIs(t, err, ErrArchiveNotFound)
	_, err = s.Stat("missing")
	assert.ErrorIs(t, err, ErrArchiveNotFound)

	t.Run("Checksum", func(t *testing.T) {
		_, err := s.Write("flipped", buf, root, WriteOptions{})
		require.NoError(t, err)
		raw, err := os.ReadFile(s.Path("flipped"))
		require.NoError(t, err)
		raw[HeaderSize+len(buf)/2] ^= 0xff
		require.NoError(t, os.WriteFile(s.Path("flipped"), raw, 0o644))

		_, err = s.Open("flipped")
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := s.Write("short", buf, root, WriteOptions{})
		require.NoError(t, err)
		require.NoError(t, os.Truncate(s.Path("short"), HeaderSize+int64(len(buf))-8))
		_, err = s.Open("short")
		assert.ErrorIs(t, err, ErrInvalidArchive)
	})

	t.Run("CorruptCompressed", func(t *testing.T) {
		_, err := s.Write("zst", buf, root, WriteOptions{Compress: true})
		require.NoError(t, err)
		raw, err := os.ReadFile(s.Path("zst"))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(s.Path("zst"), raw[:HeaderSize+(len(raw)-HeaderSize)/2], 0o644))
		_, err = s.Open("zst")
		assert.ErrorIs(t, err, ErrInvalidArchive)
	})

	t.Run("NotAnArchive", func(t *testing.T) {
		require.NoError(t, os.WriteFile(s.Path("junk"), []byte("not an archive"), 0o644))
		_, err := s.Open("junk")
		assert.ErrorIs(t, err, ErrInvalidArchive)
	})

	t.Run("RootOutsidePayload", func(t *testing.T) {
		_, err := s.Write("bad-root", buf, len(buf)+1, WriteOptions{})
		assert.ErrorIs(t, err, ErrInvalidArchive)
	})
}

func TestOpenCompressedLength(t *testing.T) {
	t.Parallel()

	s := newStore(t, Options{})
	frame := func(name string, payloadLen int, body []byte) {
		hdr, err := NewHeader(0, payloadLen, 0, true).MarshalBinary()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(s.Path(name), append(hdr, body...), 0o644))
	}

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	hello := enc.EncodeAll([]byte("hello archive"), nil)
	require.NoError(t, enc.Close())

	tests := []struct {
		name       string
		payloadLen int
		body       []byte
	}{
		{"MagicOnly", 1 << 40, []byte{0x28, 0xb5, 0x2f, 0xfd}},
		{"Overstated", 1 << 40, hello},
		{"Understated", 5, hello},
		{"Garbage", 64, []byte("definitely not zstd")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame(tt.name, tt.payloadLen, tt.body)
			_, err := s.Open(tt.name)
			assert.ErrorIs(t, err, ErrInvalidArchive)
		})
	}

	t.Run("Exact", func(t *testing.T) {
		hdr, err := NewHeader(0, len("hello archive"), xxhash.Sum64String("hello archive"), true).MarshalBinary()
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(s.Path("exact"), append(hdr, hello...), 0o644))
		a, err := s.Open("exact")
		require.NoError(t, err)
		defer a.Close()
		assert.Equal(t, "hello archive", string(a.Bytes()))
	})
}

func TestNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", ".", "..", ".hidden", "a/b", `a\b`, "a:b", "a*"} {
		assert.Error(t, ValidName(name), name)
	}
	for _, name := range []string{"snap", "archive-20250101-120000", "a.b"} {
		assert.NoError(t, ValidName(name), name)
	}

	s := newStore(t, DefaultOptions())
	_, err := s.Write("../escape", []byte{1}, 0, WriteOptions{})
	assert.Error(t, err)
}

func TestListStatDelete(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	s := newStore(t, DefaultOptions())
	for _, name := range []string{"c", "a", "b"} {
		_, err := s.Write(name, buf, root, WriteOptions{Compress: name == "b"})
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), ".a.tmp-1"+ArchiveFileExt), nil, 0o644))

	names, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	info, err := s.Stat("b")
	require.NoError(t, err)
	assert.True(t, info.Header.Compressed())
	assert.Equal(t, uint64(root), info.Header.Root)

	require.NoError(t, s.Delete("a"))
	assert.False(t, s.Cached("a"))
	assert.ErrorIs(t, s.Delete("a"), ErrArchiveNotFound)
	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, names)
}

func TestCache(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	s := newStore(t, Options{CacheSize: 2, Mmap: false})
	for _, name := range []string{"one", "two", "three"} {
		_, err := s.Write(name, buf, root, WriteOptions{})
		require.NoError(t, err)
	}
	assert.False(t, s.Cached("one"))
	assert.True(t, s.Cached("two"))
	assert.True(t, s.Cached("three"))

	a, err := s.Open("one")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	assert.True(t, s.Cached("one"))
	assert.False(t, s.Cached("two"))

	// Served from the cache even once the file is gone.
	require.NoError(t, os.Remove(s.Path("three")))
	a, err = s.Open("three")
	require.NoError(t, err)
	assert.Equal(t, buf, a.Bytes())

	s.SetCacheSize(0)
	assert.False(t, s.Cached("one"))
	assert.False(t, s.Cached("three"))

	_, err = s.Write("four", buf, root, WriteOptions{})
	require.NoError(t, err)
	assert.False(t, s.Cached("four"))
}

func TestMappedNotCached(t *testing.T) {
	t.Parallel()

	buf, root := encodeSample(t)
	s := newStore(t, Options{CacheSize: 4, Mmap: true})
	_, err := s.Write("m", buf, root, WriteOptions{})
	require.NoError(t, err)
	s.SetCacheSize(0)
	s.SetCacheSize(4)

	a, err := s.Open("m")
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, a.Mapped(), !s.Cached("m"))
}
