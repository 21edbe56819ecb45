// Package ser provides the serializer backends used to write archives.
//
// Buffer writes into a growable in-memory byte slice whose start is always
// BufferAlign-aligned, so scalar views over the finished bytes are aligned
// exactly as they were when the archive was laid out. A Buffer may carry a
// capacity limit; exceeding it fails the write with a *CapacityError.
//
// Writer streams an archive straight to an io.Writer through a bufio.Writer
// while maintaining an xxhash64 digest of everything written. Streaming
// output cannot be patched after the fact, which the archive format never
// requires: every footprint is written after its dependencies.
//
// Both types satisfy the archive.Serializer capability (Write and Pos) and
// Buffer also offers Reserve, which lets footprints be resolved in place
// without an intermediate copy.
//
// Example:
//
//	buf := ser.GetBuffer()
//	defer ser.PutBuffer(buf)
//	pos, err := archive.SerializeValue(buf, archive.String, "hello world")
//	if err != nil {
//		return err
//	}
//	view := archive.ArchivedValue(archive.String, archive.NewBuffer(buf.Bytes()), pos)
package ser
