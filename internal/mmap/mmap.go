// Package mmap maps archive files read-only into memory. Mapped memory is
// page-aligned, which satisfies every alignment an archive can require.
package mmap

import (
	"fmt"
	"os"
)

type Options uint

const (
	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 1

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 2

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 3
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mapping is a read-only view of a file.
type Mapping struct {
	data   []byte
	mapped bool
}

// Map maps the whole of f. The mapping stays valid after f is closed.
// Empty files yield an empty mapping.
func Map(f *os.File, opt Options) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &Mapping{}, nil
	}
	if size > MaxSize {
		return nil, fmt.Errorf("mmap: %s is %d bytes, larger than the %d byte limit", f.Name(), size, int64(MaxSize))
	}
	b, mapped, err := mmap(f, int(size), opt)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &Mapping{data: b, mapped: mapped}, nil
}

// Bytes returns the mapped contents. They must not be modified and must not
// be used after Close.
func (m *Mapping) Bytes() []byte { return m.data }

// Len is the mapped length.
func (m *Mapping) Len() int { return len(m.data) }

// Mapped reports whether the bytes come from a real memory map rather than
// a read fallback.
func (m *Mapping) Mapped() bool { return m.mapped }

// Close unmaps the file. It is safe to call more than once.
func (m *Mapping) Close() error {
	if m == nil || m.data == nil {
		return nil
	}
	b := m.data
	m.data = nil
	if !m.mapped {
		return nil
	}
	return munmap(b)
}
