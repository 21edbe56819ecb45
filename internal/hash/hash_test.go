package hash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	tests := []struct {
		name      string
		algorithm Algorithm
		want      []byte
	}{
		{"BLAKE3", BLAKE3, func() []byte { s := blake3.Sum256(data); return s[:] }()},
		{"SHA256", SHA256, func() []byte { s := sha256.Sum256(data); return s[:] }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Bytes(data, tt.algorithm)
			require.NoError(t, r.Error)
			assert.Equal(t, tt.want, r.Sum)
			assert.Equal(t, int64(len(data)), r.Size)
			assert.Len(t, r.Hex(), 64)
		})
	}

	r := Bytes(data, UndefinedAlgorithm)
	assert.Error(t, r.Error)
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	a, err := ParseAlgorithm("sha256")
	require.NoError(t, err)
	assert.Equal(t, SHA256, a)

	a, err = ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, BLAKE3, a)

	_, err = ParseAlgorithm("md5")
	assert.Error(t, err)
}

func TestFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")
	content := bytes.Repeat([]byte("flasharc"), 10000)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	pool := NewBufferPool("test", 4096)
	r := File(path, Options{Algorithm: BLAKE3, Pool: pool})
	require.NoError(t, r.Error)
	assert.Equal(t, Bytes(content, BLAKE3).Sum, r.Sum)
	assert.Equal(t, int64(len(content)), r.Size)
	assert.Equal(t, uint64(1), pool.Metrics().Gets)
	assert.Equal(t, uint64(1), pool.Metrics().Puts)

	t.Run("Missing", func(t *testing.T) {
		r := File(filepath.Join(dir, "missing"), DefaultOptions())
		require.Error(t, r.Error)
		assert.Contains(t, r.Error.Error(), "failed to open file")
		assert.ErrorIs(t, r.Error, os.ErrNotExist)

		r = File(filepath.Join(dir, "missing"), Options{SkipErrors: true})
		assert.ErrorIs(t, r.Error, os.ErrNotExist)
	})
}

func TestReader(t *testing.T) {
	t.Parallel()

	r := Reader(bytes.NewReader([]byte("stream")), SHA256)
	require.NoError(t, r.Error)
	assert.True(t, Equal(Bytes([]byte("stream"), SHA256).Sum, r.Sum))
	assert.Equal(t, int64(6), r.Size)
}

func TestFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a", "b", "c", "d"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(name), 0o644))
		paths = append(paths, p)
	}

	results := Files(context.Background(), paths, Options{Algorithm: BLAKE3, Concurrency: 2})
	require.Len(t, results, 4)
	for _, p := range paths {
		require.NoError(t, results[p].Error)
		assert.Equal(t, Bytes([]byte(filepath.Base(p)), BLAKE3).Sum, results[p].Sum)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results = Files(ctx, paths, DefaultOptions())
	require.Len(t, results, 4)
	for _, r := range results {
		assert.ErrorIs(t, r.Error, context.Canceled)
	}
}

func TestBufferPool(t *testing.T) {
	t.Parallel()

	pool := NewBufferPool("unit", 128)
	buf := pool.Get()
	assert.Len(t, buf, 128)
	pool.Put(buf)
	pool.Put(make([]byte, 16))

	m := pool.Metrics()
	assert.Equal(t, uint64(1), m.Gets)
	assert.Equal(t, uint64(2), m.Puts)
	assert.Equal(t, uint64(1), m.RejectedBuffers)
	assert.Contains(t, m.String(), "BufferPool 'unit'")
}

func BenchmarkFile(b *testing.B) {
	dir := b.TempDir()
	path := filepath.Join(dir, "bench.bin")
	if err := os.WriteFile(path, bytes.Repeat([]byte{1}, 4<<20), 0o644); err != nil {
		b.Fatal(err)
	}
	b.SetBytes(4 << 20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if r := File(path, DefaultOptions()); r.Error != nil {
			b.Fatal(r.Error)
		}
	}
}
