package ser

import (
	"bufio"
	"io"

	"github.com/cespare/xxhash/v2"
)

// DefaultWriterBufferSize is the bufio buffer used by NewWriter.
const DefaultWriterBufferSize = 64 * 1024

// Writer is a streaming serializer. It does not support Reserve, so
// footprints are resolved into a scratch slice and then written.
type Writer struct {
	w      *bufio.Writer
	digest *xxhash.Digest
	pos    int
	limit  int
	err    error
}

// NewWriter wraps w with a buffered, digesting serializer.
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, DefaultWriterBufferSize)
}

// NewWriterSize is NewWriter with an explicit buffer size.
func NewWriterSize(w io.Writer, size int) *Writer {
	return &Writer{
		w:      bufio.NewWriterSize(w, size),
		digest: xxhash.New(),
	}
}

// SetLimit caps the stream at n bytes. Zero means unlimited.
func (w *Writer) SetLimit(n int) { w.limit = n }

// Write appends p to the stream. After the first failure every write
// returns the same error.
func (w *Writer) Write(p []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.limit > 0 && len(p) > w.limit-w.pos {
		w.err = &CapacityError{Pos: w.pos, Want: len(p), Limit: w.limit}
		return w.err
	}
	n, err := w.w.Write(p)
	w.pos += n
	_, _ = w.digest.Write(p[:n])
	if err != nil {
		w.err = err
	}
	return err
}

// Pos is the number of bytes written so far.
func (w *Writer) Pos() int { return w.pos }

// Sum64 is the xxhash64 of every byte written so far.
func (w *Writer) Sum64() uint64 { return w.digest.Sum64() }

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.w.Flush(); err != nil {
		w.err = err
		return err
	}
	return nil
}
