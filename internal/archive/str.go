package archive

import (
	"strings"
	"unicode/utf8"
	"unsafe"

	"github.com/TFMV/flasharc/internal/rel"
	"github.com/TFMV/flasharc/internal/validation"
)

// ArchivedStr is a view over archived UTF-8 bytes.
type ArchivedStr struct {
	b []byte
}

// String returns the bytes as a string without copying. The result aliases
// the archive buffer.
func (s ArchivedStr) String() string {
	if len(s.b) == 0 {
		return ""
	}
	return unsafe.String(unsafe.SliceData(s.b), len(s.b))
}

// Clone returns a copy of the string that does not alias the buffer.
func (s ArchivedStr) Clone() string { return string(s.b) }

// Bytes returns the raw bytes. They must not be modified.
func (s ArchivedStr) Bytes() []byte { return s.b }

// Len is the length in bytes.
func (s ArchivedStr) Len() int { return len(s.b) }

// Equal compares against a Go string.
func (s ArchivedStr) Equal(v string) bool { return s.String() == v }

// StrArchiver archives a string payload.
type StrArchiver struct{}

// Str is the unsized archiver for string payloads.
var Str StrArchiver

func (StrArchiver) Pointee() rel.Pointee { return rel.StrPointee() }

func (StrArchiver) MakeAugment(v string) rel.Augment { return rel.Augment(len(v)) }

func (StrArchiver) AccessUnsized(buf []byte, pos int, aug rel.Augment) ArchivedStr {
	end := pos + int(aug)
	return ArchivedStr{b: buf[pos:end:end]}
}

func (StrArchiver) SerializeUnsized(s Serializer, v string) (int, error) {
	pos := s.Pos()
	if len(v) == 0 {
		return pos, nil
	}
	if err := s.Write(unsafe.Slice(unsafe.StringData(v), len(v))); err != nil {
		return 0, err
	}
	return pos, nil
}

func (StrArchiver) DeserializeUnsized(d Deserializer, a ArchivedStr) (string, error) {
	if err := d.Allocate(Layout{Size: a.Len(), Align: 1}); err != nil {
		return "", err
	}
	return strings.Clone(a.String()), nil
}

func (StrArchiver) CheckUnsized(c *validation.Context, pos int, aug rel.Augment) error {
	b := c.Bytes()[pos : pos+int(aug)]
	if !utf8.Valid(b) {
		return &validation.InvalidUTF8Error{Pos: pos, Len: len(b)}
	}
	return nil
}
