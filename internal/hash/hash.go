// Package hash computes content digests for manifest entries and archives.
package hash

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
)

// Algorithm is a supported digest algorithm.
type Algorithm int

const (
	// BLAKE3 is the default algorithm.
	BLAKE3 Algorithm = iota
	// SHA256 is offered for interoperability with external tooling.
	SHA256
	// UndefinedAlgorithm is used for error handling.
	UndefinedAlgorithm
)

func (a Algorithm) String() string {
	switch a {
	case BLAKE3:
		return "BLAKE3"
	case SHA256:
		return "SHA256"
	default:
		return "Undefined"
	}
}

// ParseAlgorithm maps a case-insensitive name to an Algorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "BLAKE3":
		return BLAKE3, nil
	case "SHA256", "SHA-256":
		return SHA256, nil
	default:
		return UndefinedAlgorithm, fmt.Errorf("unsupported hash algorithm: %q", name)
	}
}

// Options configures file hashing.
type Options struct {
	// Algorithm to use for hashing.
	Algorithm Algorithm
	// SkipErrors returns the bare error instead of a wrapped one.
	SkipErrors bool
	// Concurrency is the number of files hashed at once by Files. A value
	// of 0 or less uses the number of available CPUs.
	Concurrency int
	// Pool supplies read buffers. Nil uses DefaultBufferPool.
	Pool *BufferPool
}

// DefaultOptions returns BLAKE3 with one worker per CPU.
func DefaultOptions() Options {
	return Options{Algorithm: BLAKE3}
}

// Result is the outcome of hashing one input.
type Result struct {
	// Sum is the raw digest.
	Sum []byte
	// Error is any error that occurred during hashing.
	Error error
	// Algorithm is the algorithm used for hashing.
	Algorithm Algorithm
	// Size is the number of bytes hashed.
	Size int64
}

// Hex returns the digest hex-encoded.
func (r Result) Hex() string { return hex.EncodeToString(r.Sum) }

func newHasher(algorithm Algorithm) (hash.Hash, error) {
	switch algorithm {
	case BLAKE3:
		return blake3.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", algorithm)
	}
}

// File hashes the contents of path, reading through a pooled buffer.
func File(path string, opts Options) Result {
	fail := func(format string, err error) Result {
		if opts.SkipErrors {
			return Result{Algorithm: opts.Algorithm, Error: err}
		}
		return Result{Algorithm: opts.Algorithm, Error: fmt.Errorf(format, path, err)}
	}

	hasher, err := newHasher(opts.Algorithm)
	if err != nil {
		return Result{Algorithm: opts.Algorithm, Error: err}
	}

	file, err := os.Open(path)
	if err != nil {
		return fail("failed to open file '%s': %w", err)
	}
	defer file.Close()

	pool := opts.Pool
	if pool == nil {
		pool = DefaultBufferPool
	}
	buffer := pool.Get()
	defer pool.Put(buffer)

	n, err := io.CopyBuffer(hasher, file, buffer)
	if err != nil {
		return fail("failed to read file '%s': %w", err)
	}
	return Result{Sum: hasher.Sum(nil), Algorithm: opts.Algorithm, Size: n}
}

// Bytes hashes a byte slice.
func Bytes(data []byte, algorithm Algorithm) Result {
	hasher, err := newHasher(algorithm)
	if err != nil {
		return Result{Algorithm: algorithm, Error: err}
	}
	_, _ = hasher.Write(data)
	return Result{Sum: hasher.Sum(nil), Algorithm: algorithm, Size: int64(len(data))}
}

// Reader hashes everything read from r.
func Reader(r io.Reader, algorithm Algorithm) Result {
	hasher, err := newHasher(algorithm)
	if err != nil {
		return Result{Algorithm: algorithm, Error: err}
	}
	size, err := io.Copy(hasher, r)
	if err != nil {
		return Result{Algorithm: algorithm, Error: fmt.Errorf("failed to hash data: %w", err)}
	}
	return Result{Sum: hasher.Sum(nil), Algorithm: algorithm, Size: size}
}

// Equal compares two digests.
func Equal(a, b []byte) bool {
	return bytes.Equal(a, b)
}

// Files hashes paths concurrently. Cancelling ctx stops scheduling new
// files; paths that were not hashed get ctx.Err() as their error.
func Files(ctx context.Context, paths []string, opts Options) map[string]Result {
	results := make(map[string]Result, len(paths))
	var mu sync.Mutex
	record := func(p string, r Result) {
		mu.Lock()
		results[p] = r
		mu.Unlock()
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	var eg errgroup.Group
	eg.SetLimit(concurrency)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			record(path, Result{Algorithm: opts.Algorithm, Error: err})
			continue
		}
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(path, Result{Algorithm: opts.Algorithm, Error: err})
				return nil
			}
			record(path, File(path, opts))
			return nil
		})
	}

	_ = eg.Wait()
	return results
}
