package manifest

import (
	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

const (
	// DefaultBloomBitsPerEntry sizes the path filter stored in a manifest.
	DefaultBloomBitsPerEntry = 10
	// DefaultBloomHashes is the number of probes per path.
	DefaultBloomHashes = 4
	// maxBloomHashes bounds the probe count accepted from an archive.
	maxBloomHashes = 32
)

// BloomFilter is a bit set probed with xxhash/murmur3 double hashing.
type BloomFilter struct {
	bits    []byte
	numHash uint32
}

// NewBloomFilter creates a filter of at least size bits.
func NewBloomFilter(size uint, numHash uint32) *BloomFilter {
	if size < 64 {
		size = 64
	}
	return &BloomFilter{
		bits:    make([]byte, (size+7)/8),
		numHash: numHash,
	}
}

// Add records data in the filter.
func (b *BloomFilter) Add(data []byte) {
	h1 := xxhash.Sum64(data)
	h2 := murmur3.Sum64(data)
	nbits := uint64(len(b.bits) * 8)

	for i := uint64(0); i < uint64(b.numHash); i++ {
		idx := (h1 + i*h2) % nbits
		b.bits[idx/8] |= 1 << (idx % 8)
	}
}

// Contains reports whether data may have been added.
func (b *BloomFilter) Contains(data []byte) bool {
	return bloomContains(b.bits, b.numHash, data)
}

// Bits returns the underlying bit set.
func (b *BloomFilter) Bits() []byte { return b.bits }

// Hashes returns the number of probes.
func (b *BloomFilter) Hashes() uint32 { return b.numHash }

// bloomContains probes a bit set that may live inside an archive buffer. An
// empty set matches everything.
func bloomContains(bits []byte, numHash uint32, data []byte) bool {
	if len(bits) == 0 {
		return true
	}
	h1 := xxhash.Sum64(data)
	h2 := murmur3.Sum64(data)
	nbits := uint64(len(bits) * 8)

	for i := uint64(0); i < uint64(numHash); i++ {
		idx := (h1 + i*h2) % nbits
		if bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}
