package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/TFMV/flasharc/internal/rel"
)

const (
	// HeaderSize is the fixed size of a frame header.
	HeaderSize = 32
	// FrameVersion is the current frame format version.
	FrameVersion = 1

	// FlagZstd marks a payload compressed with zstd.
	FlagZstd uint8 = 1 << 0
)

var frameMagic = [4]byte{'F', 'A', 'R', 'C'}

var (
	// ErrArchiveNotFound is returned when an archive is not found.
	ErrArchiveNotFound = errors.New("archive not found")
	// ErrInvalidArchive is returned when a file is not a valid frame.
	ErrInvalidArchive = errors.New("invalid archive")
	// ErrChecksumMismatch is returned when a payload fails its checksum.
	ErrChecksumMismatch = errors.New("archive checksum mismatch")
	// ErrOffsetWidthMismatch is returned when an archive was written with a
	// different relative pointer width than this build uses.
	ErrOffsetWidthMismatch = errors.New("archive offset width mismatch")
)

// Header is the fixed-size prefix of every archive file.
//
//	0  magic "FARC"
//	4  version      uint16
//	6  flags        uint8
//	7  offset width uint8
//	8  root         uint64
//	16 payload len  uint64
//	24 xxhash64     uint64
type Header struct {
	Version     uint16
	Flags       uint8
	OffsetWidth uint8
	Root        uint64
	PayloadLen  uint64
	Checksum    uint64
}

// NewHeader builds a header for this build's offset width.
func NewHeader(root, payloadLen int, checksum uint64, compressed bool) Header {
	h := Header{
		Version:     FrameVersion,
		OffsetWidth: rel.OffsetSize,
		Root:        uint64(root),
		PayloadLen:  uint64(payloadLen),
		Checksum:    checksum,
	}
	if compressed {
		h.Flags |= FlagZstd
	}
	return h
}

// Compressed reports whether the payload is zstd-compressed.
func (h Header) Compressed() bool { return h.Flags&FlagZstd != 0 }

// MarshalBinary encodes the header.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	h.put(b)
	return b, nil
}

func (h Header) put(b []byte) {
	copy(b[0:4], frameMagic[:])
	binary.LittleEndian.PutUint16(b[4:], h.Version)
	b[6] = h.Flags
	b[7] = h.OffsetWidth
	binary.LittleEndian.PutUint64(b[8:], h.Root)
	binary.LittleEndian.PutUint64(b[16:], h.PayloadLen)
	binary.LittleEndian.PutUint64(b[24:], h.Checksum)
}

// ParseHeader decodes and sanity-checks a header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header truncated to %d bytes", ErrInvalidArchive, len(b))
	}
	if [4]byte(b[0:4]) != frameMagic {
		return Header{}, fmt.Errorf("%w: bad magic %q", ErrInvalidArchive, b[0:4])
	}
	h := Header{
		Version:     binary.LittleEndian.Uint16(b[4:]),
		Flags:       b[6],
		OffsetWidth: b[7],
		Root:        binary.LittleEndian.Uint64(b[8:]),
		PayloadLen:  binary.LittleEndian.Uint64(b[16:]),
		Checksum:    binary.LittleEndian.Uint64(b[24:]),
	}
	if h.Version != FrameVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, h.Version)
	}
	if h.OffsetWidth != rel.OffsetSize {
		return Header{}, fmt.Errorf("%w: file uses %d-byte offsets, this build uses %d",
			ErrOffsetWidthMismatch, h.OffsetWidth, rel.OffsetSize)
	}
	if h.Flags&^FlagZstd != 0 {
		return Header{}, fmt.Errorf("%w: unknown flags %#x", ErrInvalidArchive, h.Flags)
	}
	if h.PayloadLen > 1<<46 || h.Root > h.PayloadLen {
		return Header{}, fmt.Errorf("%w: root %d outside payload of %d bytes", ErrInvalidArchive, h.Root, h.PayloadLen)
	}
	return h, nil
}
