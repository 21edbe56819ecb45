package manifest

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/validation"
)

// ErrInconsistent is returned when an archived manifest is structurally
// valid but its derived tables do not match its entries.
var ErrInconsistent = errors.New("manifest: inconsistent derived tables")

// Manifest is a point-in-time listing of a directory tree.
type Manifest struct {
	Root    string
	Created int64
	Entries []Entry
}

// Sort orders the entries by path.
func (m *Manifest) Sort() {
	slices.SortFunc(m.Entries, func(a, b Entry) int { return strings.Compare(a.Path, b.Path) })
}

// TotalSize sums the sizes of all regular files.
func (m *Manifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		if !e.IsDir {
			n += e.Size
		}
	}
	return n
}

// IndexSlot maps a path hash to an entry position.
type IndexSlot struct {
	Hash  uint64
	Entry uint32
}

var slotLayout, slotOffsets = archive.StructLayout(archive.Uint64.Layout(), archive.Uint32.Layout())

type slotArchiver struct{}

func (slotArchiver) Layout() archive.Layout { return slotLayout }

func (slotArchiver) Serialize(archive.Serializer, IndexSlot) (archive.Resolver, error) {
	return nil, nil
}

func (slotArchiver) Resolve(v IndexSlot, pos int, _ archive.Resolver, out []byte) {
	archive.Uint64.Resolve(v.Hash, pos+slotOffsets[0], nil, out[slotOffsets[0]:])
	archive.Uint32.Resolve(v.Entry, pos+slotOffsets[1], nil, out[slotOffsets[1]:])
}

func (slotArchiver) Access(buf []byte, pos int) IndexSlot {
	return IndexSlot{
		Hash:  archive.Uint64.Access(buf, pos+slotOffsets[0]),
		Entry: archive.Uint32.Access(buf, pos+slotOffsets[1]),
	}
}

func (slotArchiver) Deserialize(_ archive.Deserializer, a IndexSlot) (IndexSlot, error) {
	return a, nil
}

func (slotArchiver) CheckBytes(*validation.Context, int) error { return nil }

var (
	entryVec = archive.Vec(EntryArchiver{})
	indexVec = archive.Vec(slotArchiver{})
	bloomVec = archive.Vec(archive.Uint8)

	manifestLayout, manifestOffsets = archive.StructLayout(
		archive.String.Layout(),
		archive.Int64.Layout(),
		entryVec.Layout(),
		indexVec.Layout(),
		bloomVec.Layout(),
		archive.Uint32.Layout(),
	)
)

const (
	fieldRoot = iota
	fieldCreated
	fieldEntries
	fieldIndex
	fieldBloom
	fieldBloomK
)

// BuildIndex returns the path index of entries sorted by hash.
func BuildIndex(entries []Entry) []IndexSlot {
	slots := make([]IndexSlot, len(entries))
	for i, e := range entries {
		slots[i] = IndexSlot{Hash: xxhash.Sum64String(e.Path), Entry: uint32(i)}
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Hash != slots[j].Hash {
			return slots[i].Hash < slots[j].Hash
		}
		return slots[i].Entry < slots[j].Entry
	})
	return slots
}

// BuildBloom returns a filter over the entry paths.
func BuildBloom(entries []Entry, bitsPerEntry int, hashes uint32) *BloomFilter {
	filter := NewBloomFilter(uint(len(entries)*bitsPerEntry), hashes)
	for _, e := range entries {
		filter.Add([]byte(e.Path))
	}
	return filter
}

// Archiver archives Manifest values. The path index and bloom filter are
// derived from the entries while serializing and dropped on deserialize.
type Archiver struct {
	BloomBitsPerEntry int
	BloomHashes       uint32
}

// NewArchiver returns an Archiver with the default filter parameters.
func NewArchiver() *Archiver {
	return &Archiver{BloomBitsPerEntry: DefaultBloomBitsPerEntry, BloomHashes: DefaultBloomHashes}
}

type manifestResolver struct {
	root, entries, index, bloom archive.Resolver

	slots  []IndexSlot
	bits   []byte
	hashes uint32
}

func (*Archiver) Layout() archive.Layout { return manifestLayout }

func (ma *Archiver) Serialize(s archive.Serializer, v Manifest) (archive.Resolver, error) {
	if uint64(len(v.Entries)) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("manifest: %d entries exceed the index range", len(v.Entries))
	}
	r := manifestResolver{slots: BuildIndex(v.Entries)}
	filter := BuildBloom(v.Entries, max(ma.BloomBitsPerEntry, 1), ma.BloomHashes)
	r.bits, r.hashes = filter.Bits(), filter.Hashes()

	var err error
	if r.root, err = archive.String.Serialize(s, v.Root); err != nil {
		return nil, err
	}
	if r.entries, err = entryVec.Serialize(s, v.Entries); err != nil {
		return nil, err
	}
	if r.index, err = indexVec.Serialize(s, r.slots); err != nil {
		return nil, err
	}
	if r.bloom, err = bloomVec.Serialize(s, r.bits); err != nil {
		return nil, err
	}
	return r, nil
}

func (*Archiver) Resolve(v Manifest, pos int, r archive.Resolver, out []byte) {
	mr := r.(manifestResolver)
	o := manifestOffsets
	archive.String.Resolve(v.Root, pos+o[fieldRoot], mr.root, out[o[fieldRoot]:])
	archive.Int64.Resolve(v.Created, pos+o[fieldCreated], nil, out[o[fieldCreated]:])
	entryVec.Resolve(v.Entries, pos+o[fieldEntries], mr.entries, out[o[fieldEntries]:])
	indexVec.Resolve(mr.slots, pos+o[fieldIndex], mr.index, out[o[fieldIndex]:])
	bloomVec.Resolve(mr.bits, pos+o[fieldBloom], mr.bloom, out[o[fieldBloom]:])
	archive.Uint32.Resolve(mr.hashes, pos+o[fieldBloomK], nil, out[o[fieldBloomK]:])
}

func (*Archiver) Access(buf []byte, pos int) ArchivedManifest {
	return ArchivedManifest{buf: buf, pos: pos}
}

func (*Archiver) Deserialize(d archive.Deserializer, a ArchivedManifest) (Manifest, error) {
	root, err := archive.String.Deserialize(d, archive.String.Access(a.buf, a.at(fieldRoot)))
	if err != nil {
		return Manifest{}, err
	}
	entries, err := entryVec.Deserialize(d, a.entries())
	if err != nil {
		return Manifest{}, err
	}
	return Manifest{Root: root, Created: a.Created(), Entries: entries}, nil
}

func (*Archiver) CheckBytes(c *validation.Context, pos int) error {
	o := manifestOffsets
	if err := archive.String.CheckBytes(c, pos+o[fieldRoot]); err != nil {
		return fmt.Errorf("root: %w", err)
	}
	if err := entryVec.CheckBytes(c, pos+o[fieldEntries]); err != nil {
		return fmt.Errorf("entries: %w", err)
	}
	if err := indexVec.CheckBytes(c, pos+o[fieldIndex]); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := bloomVec.CheckBytes(c, pos+o[fieldBloom]); err != nil {
		return fmt.Errorf("bloom: %w", err)
	}

	m := ArchivedManifest{buf: c.Bytes(), pos: pos}
	n := m.Len()
	for _, slot := range m.index().All() {
		if int(slot.Entry) >= n {
			return fmt.Errorf("%w: index slot points at entry %d of %d", ErrInconsistent, slot.Entry, n)
		}
	}
	if k := m.bloomHashes(); k > maxBloomHashes {
		return fmt.Errorf("%w: %d bloom probes", ErrInconsistent, k)
	}
	return nil
}

// ArchivedManifest is a zero-copy view of an archived Manifest.
type ArchivedManifest struct {
	buf []byte
	pos int
}

func (m ArchivedManifest) at(field int) int { return m.pos + manifestOffsets[field] }

func (m ArchivedManifest) entries() archive.ArchivedSlice[ArchivedEntry] {
	return entryVec.Access(m.buf, m.at(fieldEntries))
}

func (m ArchivedManifest) index() archive.ArchivedSlice[IndexSlot] {
	return indexVec.Access(m.buf, m.at(fieldIndex))
}

func (m ArchivedManifest) bloomHashes() uint32 {
	return archive.Uint32.Access(m.buf, m.at(fieldBloomK))
}

// Root is the directory the manifest was taken of.
func (m ArchivedManifest) Root() string {
	return archive.String.Access(m.buf, m.at(fieldRoot)).String()
}

// Created is the creation time in Unix seconds.
func (m ArchivedManifest) Created() int64 {
	return archive.Int64.Access(m.buf, m.at(fieldCreated))
}

// Len is the number of entries.
func (m ArchivedManifest) Len() int { return m.entries().Len() }

// Entry returns entry i.
func (m ArchivedManifest) Entry(i int) ArchivedEntry { return m.entries().At(i) }

// Entries iterates over the entries in archive order.
func (m ArchivedManifest) Entries() iter.Seq2[int, ArchivedEntry] { return m.entries().All() }

// MayContain probes the bloom filter. False means the path is absent.
func (m ArchivedManifest) MayContain(path string) bool {
	bits := bloomVec.Access(m.buf, m.at(fieldBloom)).Bytes()
	return bloomContains(bits, m.bloomHashes(), []byte(path))
}

// Lookup finds the entry for path through the hash index.
func (m ArchivedManifest) Lookup(path string) (ArchivedEntry, bool) {
	if !m.MayContain(path) {
		return ArchivedEntry{}, false
	}
	h := xxhash.Sum64String(path)
	idx := m.index()
	i := sort.Search(idx.Len(), func(i int) bool { return idx.At(i).Hash >= h })
	for ; i < idx.Len(); i++ {
		slot := idx.At(i)
		if slot.Hash != h {
			break
		}
		e := m.Entry(int(slot.Entry))
		if e.Path() == path {
			return e, true
		}
	}
	return ArchivedEntry{}, false
}

// TotalSize sums the sizes of all regular files.
func (m ArchivedManifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries() {
		if !e.IsDir() {
			n += e.Size()
		}
	}
	return n
}

// Bytes returns the underlying archive buffer.
func (m ArchivedManifest) Bytes() []byte { return m.buf }

// Pos is the position of the manifest footprint.
func (m ArchivedManifest) Pos() int { return m.pos }
