package manifest

import (
	"encoding/hex"
	"io/fs"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/validation"
)

// Entry describes one file or directory.
type Entry struct {
	Path    string
	Size    int64
	ModTime int64
	Mode    uint32
	IsDir   bool
	Hash    []byte
}

const (
	fieldPath = iota
	fieldSize
	fieldModTime
	fieldMode
	fieldIsDir
	fieldHash
)

var (
	hashVec = archive.Vec(archive.Uint8)

	entryLayout, entryOffsets = archive.StructLayout(
		archive.String.Layout(),
		archive.Int64.Layout(),
		archive.Int64.Layout(),
		archive.Uint32.Layout(),
		archive.Bool.Layout(),
		hashVec.Layout(),
	)
)

// ArchivedEntry is a zero-copy view of an archived Entry.
type ArchivedEntry struct {
	buf []byte
	pos int
}

func (e ArchivedEntry) at(field int) int { return e.pos + entryOffsets[field] }

// Path returns the path without copying.
func (e ArchivedEntry) Path() string {
	return archive.String.Access(e.buf, e.at(fieldPath)).String()
}

// Size is the file size in bytes.
func (e ArchivedEntry) Size() int64 { return archive.Int64.Access(e.buf, e.at(fieldSize)) }

// ModTime is the modification time in Unix seconds.
func (e ArchivedEntry) ModTime() int64 { return archive.Int64.Access(e.buf, e.at(fieldModTime)) }

// Mode is the raw permission and type bits.
func (e ArchivedEntry) Mode() uint32 { return archive.Uint32.Access(e.buf, e.at(fieldMode)) }

// FileMode converts Mode.
func (e ArchivedEntry) FileMode() fs.FileMode { return fs.FileMode(e.Mode()) }

// IsDir reports whether the entry is a directory.
func (e ArchivedEntry) IsDir() bool { return archive.Bool.Access(e.buf, e.at(fieldIsDir)) }

// Hash returns the content hash bytes without copying.
func (e ArchivedEntry) Hash() []byte {
	return hashVec.Access(e.buf, e.at(fieldHash)).Bytes()
}

// HashHex returns the content hash as hex.
func (e ArchivedEntry) HashHex() string { return hex.EncodeToString(e.Hash()) }

// Entry copies the view into an Entry.
func (e ArchivedEntry) Entry() Entry {
	out := Entry{
		Path:    archive.String.Access(e.buf, e.at(fieldPath)).Clone(),
		Size:    e.Size(),
		ModTime: e.ModTime(),
		Mode:    e.Mode(),
		IsDir:   e.IsDir(),
	}
	if h := e.Hash(); len(h) > 0 {
		out.Hash = append([]byte(nil), h...)
	}
	return out
}

// EntryArchiver archives Entry values.
type EntryArchiver struct{}

type entryResolver struct {
	path, hash archive.Resolver
}

func (EntryArchiver) Layout() archive.Layout { return entryLayout }

func (EntryArchiver) Serialize(s archive.Serializer, v Entry) (archive.Resolver, error) {
	path, err := archive.String.Serialize(s, v.Path)
	if err != nil {
		return nil, err
	}
	hash, err := hashVec.Serialize(s, v.Hash)
	if err != nil {
		return nil, err
	}
	return entryResolver{path: path, hash: hash}, nil
}

func (EntryArchiver) Resolve(v Entry, pos int, r archive.Resolver, out []byte) {
	er := r.(entryResolver)
	field := func(i int, l archive.Layout) (int, []byte) {
		off := entryOffsets[i]
		return pos + off, out[off : off+l.Size]
	}
	p, b := field(fieldPath, archive.String.Layout())
	archive.String.Resolve(v.Path, p, er.path, b)
	p, b = field(fieldSize, archive.Int64.Layout())
	archive.Int64.Resolve(v.Size, p, nil, b)
	p, b = field(fieldModTime, archive.Int64.Layout())
	archive.Int64.Resolve(v.ModTime, p, nil, b)
	p, b = field(fieldMode, archive.Uint32.Layout())
	archive.Uint32.Resolve(v.Mode, p, nil, b)
	p, b = field(fieldIsDir, archive.Bool.Layout())
	archive.Bool.Resolve(v.IsDir, p, nil, b)
	p, b = field(fieldHash, hashVec.Layout())
	hashVec.Resolve(v.Hash, p, er.hash, b)
}

func (EntryArchiver) Access(buf []byte, pos int) ArchivedEntry {
	return ArchivedEntry{buf: buf, pos: pos}
}

func (EntryArchiver) Deserialize(d archive.Deserializer, a ArchivedEntry) (Entry, error) {
	path, err := archive.String.Deserialize(d, archive.String.Access(a.buf, a.at(fieldPath)))
	if err != nil {
		return Entry{}, err
	}
	hash, err := hashVec.Deserialize(d, hashVec.Access(a.buf, a.at(fieldHash)))
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Path:    path,
		Size:    a.Size(),
		ModTime: a.ModTime(),
		Mode:    a.Mode(),
		IsDir:   a.IsDir(),
		Hash:    hash,
	}, nil
}

func (EntryArchiver) CheckBytes(c *validation.Context, pos int) error {
	if err := archive.String.CheckBytes(c, pos+entryOffsets[fieldPath]); err != nil {
		return err
	}
	if err := archive.Bool.CheckBytes(c, pos+entryOffsets[fieldIsDir]); err != nil {
		return err
	}
	return hashVec.CheckBytes(c, pos+entryOffsets[fieldHash])
}
