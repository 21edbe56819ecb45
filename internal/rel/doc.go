// Package rel implements self-relative pointers for archive buffers.
//
// A RelPtr stores the signed distance from its own position to its target,
// so an archive can be loaded at any address and still be walked without
// fixups. Pointers to unsized targets (slices, strings, head+tail blocks)
// carry an augment next to the offset: the element count for slices and
// blocks, the byte length for strings.
//
// Encoding is little-endian. By default offsets and augments are 32-bit;
// building with the wide_offsets tag switches both to 64-bit. The width is a
// format choice: archives written with one width cannot be read with the
// other.
//
// The functions in this package perform no bounds checks. Untrusted buffers
// must go through the validation package first.
package rel
