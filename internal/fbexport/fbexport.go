// Package fbexport converts archived manifests to and from a FlatBuffers
// table for tools that read FlatBuffers rather than flasharc archives.
// The table layout is described in manifest.fbs.
package fbexport

import (
	"errors"
	"fmt"
	"sync"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/TFMV/flasharc/internal/manifest"
)

// Identifier is the FlatBuffers file identifier of an exported manifest.
const Identifier = "FAMF"

// ErrMalformed is returned when a buffer is not an exported manifest.
var ErrMalformed = errors.New("malformed flatbuffers manifest")

// Field slots, in schema order.
const (
	entryPath = iota
	entrySize
	entryMtime
	entryIsDir
	entryPermissions
	entryHash
	entryFields
)

const (
	manifestEntries = iota
	manifestRoot
	manifestCreated
	manifestFields
)

// builderPool is a pool of FlatBuffers builders to reduce allocations
var builderPool = sync.Pool{
	New: func() any {
		return flatbuffers.NewBuilder(0)
	},
}

func getBuilder() *flatbuffers.Builder {
	return builderPool.Get().(*flatbuffers.Builder)
}

func putBuilder(builder *flatbuffers.Builder) {
	builder.Reset()
	builderPool.Put(builder)
}

// Export builds a FlatBuffers manifest from an archived manifest. The view
// is read in place; nothing is deserialized first.
func Export(m manifest.ArchivedManifest) []byte {
	builder := getBuilder()
	defer putBuilder(builder)

	offsets := make([]flatbuffers.UOffsetT, 0, m.Len())
	for _, e := range m.Entries() {
		pathOffset := builder.CreateString(e.Path())
		var hashOffset flatbuffers.UOffsetT
		hash := e.Hash()
		if len(hash) > 0 {
			hashOffset = builder.CreateByteVector(hash)
		}

		builder.StartObject(entryFields)
		builder.PrependUOffsetTSlot(entryPath, pathOffset, 0)
		builder.PrependInt64Slot(entrySize, e.Size(), 0)
		builder.PrependInt64Slot(entryMtime, e.ModTime(), 0)
		builder.PrependBoolSlot(entryIsDir, e.IsDir(), false)
		builder.PrependUint32Slot(entryPermissions, e.Mode(), 0)
		if len(hash) > 0 {
			builder.PrependUOffsetTSlot(entryHash, hashOffset, 0)
		}
		offsets = append(offsets, builder.EndObject())
	}

	builder.StartVector(flatbuffers.SizeUOffsetT, len(offsets), flatbuffers.SizeUOffsetT)
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	entriesOffset := builder.EndVector(len(offsets))
	rootOffset := builder.CreateString(m.Root())

	builder.StartObject(manifestFields)
	builder.PrependUOffsetTSlot(manifestEntries, entriesOffset, 0)
	builder.PrependUOffsetTSlot(manifestRoot, rootOffset, 0)
	builder.PrependInt64Slot(manifestCreated, m.Created(), 0)
	builder.FinishWithFileIdentifier(builder.EndObject(), []byte(Identifier))

	return append([]byte(nil), builder.FinishedBytes()...)
}

// table wraps flatbuffers.Table with slot-based accessors.
type table struct {
	flatbuffers.Table
}

func (t *table) field(slot int) flatbuffers.UOffsetT {
	return flatbuffers.UOffsetT(t.Offset(flatbuffers.VOffsetT(4 + 2*slot)))
}

func (t *table) bytesAt(slot int) []byte {
	if o := t.field(slot); o != 0 {
		return t.ByteVector(o + t.Pos)
	}
	return nil
}

func (t *table) int64At(slot int) int64 {
	if o := t.field(slot); o != 0 {
		return t.GetInt64(o + t.Pos)
	}
	return 0
}

func (t *table) uint32At(slot int) uint32 {
	if o := t.field(slot); o != 0 {
		return t.GetUint32(o + t.Pos)
	}
	return 0
}

func (t *table) boolAt(slot int) bool {
	if o := t.field(slot); o != 0 {
		return t.GetBool(o + t.Pos)
	}
	return false
}

// Read decodes an exported manifest into entries and the manifest's root
// and creation time. FlatBuffers offers no bounds checking, so out-of-range
// offsets are caught and reported as ErrMalformed.
func Read(buf []byte) (m manifest.Manifest, err error) {
	if len(buf) < 8 || string(buf[4:8]) != Identifier {
		return manifest.Manifest{}, fmt.Errorf("%w: missing %q identifier", ErrMalformed, Identifier)
	}
	defer func() {
		if r := recover(); r != nil {
			m, err = manifest.Manifest{}, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	root := table{flatbuffers.Table{Bytes: buf, Pos: flatbuffers.GetUOffsetT(buf)}}
	m.Root = string(root.bytesAt(manifestRoot))
	m.Created = root.int64At(manifestCreated)

	o := root.field(manifestEntries)
	if o == 0 {
		return m, nil
	}
	vec := root.Vector(o)
	n := root.VectorLen(o)
	if n > len(buf)/flatbuffers.SizeUOffsetT {
		return manifest.Manifest{}, fmt.Errorf("%w: %d entries in %d bytes", ErrMalformed, n, len(buf))
	}
	m.Entries = make([]manifest.Entry, n)
	for i := range m.Entries {
		x := root.Indirect(vec + flatbuffers.UOffsetT(i)*flatbuffers.SizeUOffsetT)
		e := table{flatbuffers.Table{Bytes: buf, Pos: x}}
		m.Entries[i] = manifest.Entry{
			Path:    string(e.bytesAt(entryPath)),
			Size:    e.int64At(entrySize),
			ModTime: e.int64At(entryMtime),
			Mode:    e.uint32At(entryPermissions),
			IsDir:   e.boolAt(entryIsDir),
		}
		if h := e.bytesAt(entryHash); len(h) > 0 {
			m.Entries[i].Hash = append([]byte(nil), h...)
		}
	}
	return m, nil
}
