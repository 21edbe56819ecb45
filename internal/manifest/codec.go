// Package manifest defines the archived filesystem manifest: the schema the
// rest of flasharc stores, looks up and exports.
//
// The archivers in this package are written by hand against the archive
// package and follow its layout rules: fields are placed with
// archive.StructLayout and resolved at pos plus their offset.
package manifest

import (
	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/de"
	"github.com/TFMV/flasharc/internal/ser"
)

// EncodeOptions tunes Encode.
type EncodeOptions struct {
	// Limit caps the archive size in bytes. Zero means unlimited.
	Limit int
	// BloomBitsPerEntry sizes the path filter.
	BloomBitsPerEntry int
	// BloomHashes is the number of filter probes per path.
	BloomHashes uint32
}

// DefaultEncodeOptions returns unlimited options with the default filter.
func DefaultEncodeOptions() EncodeOptions {
	return EncodeOptions{
		BloomBitsPerEntry: DefaultBloomBitsPerEntry,
		BloomHashes:       DefaultBloomHashes,
	}
}

func (opts EncodeOptions) archiver() *Archiver {
	ma := NewArchiver()
	if opts.BloomBitsPerEntry > 0 {
		ma.BloomBitsPerEntry = opts.BloomBitsPerEntry
	}
	if opts.BloomHashes != 0 {
		ma.BloomHashes = opts.BloomHashes
	}
	return ma
}

// Encode archives m and returns the bytes and the root position.
func Encode(m Manifest, opts EncodeOptions) ([]byte, int, error) {
	buf := ser.NewBuffer(ser.BufferOptions{InitialSize: estimateSize(m), Limit: opts.Limit})
	root, err := archive.SerializeValue(buf, opts.archiver(), m)
	if err != nil {
		return nil, 0, err
	}
	return buf.Detach(), root, nil
}

// EncodeTo streams the archive of m to w and returns the root position.
// The output is byte for byte what Encode produces with the same options.
func EncodeTo(w *ser.Writer, m Manifest, opts EncodeOptions) (int, error) {
	w.SetLimit(opts.Limit)
	root, err := archive.SerializeValue(w, opts.archiver(), m)
	if err != nil {
		return 0, err
	}
	return root, w.Flush()
}

// View returns the manifest view at root. Unless trusted, the buffer is
// fully validated first.
func View(buf archive.Buffer, root int, trusted bool) (ArchivedManifest, error) {
	ma := NewArchiver()
	if trusted {
		return archive.ArchivedValue(ma, buf, root), nil
	}
	return archive.CheckArchive(ma, buf, root)
}

// Check validates the manifest at root.
func Check(buf []byte, root int) error {
	_, err := View(archive.NewBuffer(buf), root, false)
	return err
}

// Decode validates the archive and restores an independent Manifest. The
// restored size is metered against the archive length.
func Decode(buf []byte, root int) (Manifest, error) {
	m, err := View(archive.NewBuffer(buf), root, false)
	if err != nil {
		return Manifest{}, err
	}
	return NewArchiver().Deserialize(de.NewHeap(len(buf)), m)
}

func estimateSize(m Manifest) int {
	n := 256 + len(m.Root)
	for _, e := range m.Entries {
		n += entryLayout.Size + len(e.Path) + len(e.Hash) + slotLayout.Size + 2
	}
	return n
}
