/*
Package archive implements a zero-copy archive format.

An archive is a byte buffer whose contents are used in place: once written,
values are read by indexing into the buffer through views, with no decode
step. References inside the buffer are self-relative pointers (see package
rel), so a buffer can be memory-mapped at any address.

# Archivers

Every archivable Go type T has an archiver, a value implementing
Archiver[T, A]. A is the archived form: a view type that reads the
footprint straight out of the buffer. For scalars A is T itself; for strings
it is ArchivedStr; for slices it is ArchivedSlice.

Writing a value happens in two phases:

 1. Serialize writes the value's dependencies (string bytes, vector
    elements, boxed values) and returns a Resolver describing where they
    ended up.
 2. Resolve writes the value's own footprint at a known position, using only
    the value, the position and the resolver.

SerializeValue runs both phases. Prepare and Pending.Commit expose them
separately when a parent needs to serialize several fields before laying
out its own footprint.

Composite types compute field offsets with StructLayout and must pass
pos+offset to each field's Resolve.

# Unsized values

Strings, slices and head+tail blocks have no fixed footprint. They implement
UnsizedArchiver and are always reached through a relative pointer whose
augment carries the length. String, Vec and BoxOf wrap an unsized archiver
into an owning container with a fixed footprint.

# Validation

ArchivedValue and ArchivedUnsizedValue trust the buffer completely and are
the only unchecked entry points. CheckArchive and CheckUnsizedArchive first
walk the buffer with a validation.Context, verifying bounds, alignment,
string encoding, discriminants and that no two values share bytes, and then
return the same view. Every failure is returned as an error; none panic.

CheckBytes implementations may assume their footprint is in bounds, aligned
and already claimed by the caller.

# Endianness

Archives are always little-endian. Archivers that declare ArchiveCopy have
archived bytes identical to their native memory on little-endian hosts, which
lets slices of them be written and read with a single copy.
*/
package archive
