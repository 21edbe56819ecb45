// Package storage persists archives as framed .farc files and serves them
// back as validated, aligned buffers.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/klauspost/compress/zstd"

	"github.com/TFMV/flasharc/internal/archive"
	"github.com/TFMV/flasharc/internal/mmap"
	"github.com/TFMV/flasharc/internal/ser"
)

const (
	// DefaultCompression is the default zstd encoder level.
	DefaultCompression = 3
	// DefaultCacheSize is the default number of decoded payloads to cache.
	DefaultCacheSize = 10
	// ArchiveFileExt is the file extension for archives.
	ArchiveFileExt = ".farc"

	maxPayload = 1 << 40
	// maxWindow bounds the zstd window a frame may ask the decoder for.
	maxWindow = 1 << 26
	// decodeChunk is the first allocation for a decoded payload.
	decodeChunk = 1 << 20
)

// Options configures an ArchiveStore.
type Options struct {
	// CompressionLevel is the zstd encoder level (1 fastest, 4 best).
	CompressionLevel int
	// CacheSize bounds the number of decoded payloads kept in memory.
	// Zero disables the cache.
	CacheSize int
	// Mmap maps uncompressed archives instead of reading them.
	Mmap bool
	// Logger receives debug events. Nil means no logging.
	Logger log.Logger
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CompressionLevel: DefaultCompression,
		CacheSize:        DefaultCacheSize,
		Mmap:             true,
	}
}

// WriteOptions controls a single write.
type WriteOptions struct {
	// Compress stores the payload zstd-compressed.
	Compress bool
}

// Info describes a stored archive without loading its payload.
type Info struct {
	Name       string
	Header     Header
	StoredSize int64
	ModTime    time.Time
}

// ArchiveStore manages archive files in a directory.
type ArchiveStore struct {
	baseDir  string
	useMmap  bool
	logger   log.Logger
	encLevel zstd.EncoderLevel
	encoder  *zstd.Encoder

	cacheMutex   sync.RWMutex
	archiveCache map[string]cachedPayload
	cacheSize    int
	cacheKeys    []string
}

type cachedPayload struct {
	header Header
	data   []byte
}

// NewArchiveStore creates the store directory if needed and returns a store
// rooted at it.
func NewArchiveStore(baseDir string, opts Options) (*ArchiveStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	if opts.CompressionLevel <= 0 {
		opts.CompressionLevel = DefaultCompression
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	lvl := zstd.EncoderLevel(opts.CompressionLevel)
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	return &ArchiveStore{
		baseDir:      baseDir,
		useMmap:      opts.Mmap,
		logger:       log.With(opts.Logger, "component", "archive-store"),
		encLevel:     lvl,
		encoder:      encoder,
		archiveCache: make(map[string]cachedPayload),
		cacheSize:    opts.CacheSize,
		cacheKeys:    make([]string, 0, max(opts.CacheSize, 0)),
	}, nil
}

// Dir is the directory the store manages.
func (s *ArchiveStore) Dir() string { return s.baseDir }

// Close releases the encoder.
func (s *ArchiveStore) Close() error {
	s.encoder.Close()
	return nil
}

// ValidName reports whether name can be used as an archive name.
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\:*?`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid archive name %q", name)
	}
	return nil
}

// Path returns the file path for name.
func (s *ArchiveStore) Path(name string) string {
	return filepath.Join(s.baseDir, name+ArchiveFileExt)
}

// Write stores payload as archive name with the root at root. The payload
// is cached and must not be modified afterwards.
func (s *ArchiveStore) Write(name string, payload []byte, root int, opts WriteOptions) (Info, error) {
	if err := ValidName(name); err != nil {
		return Info{}, err
	}
	if root < 0 || root > len(payload) {
		return Info{}, fmt.Errorf("%w: root %d outside payload of %d bytes", ErrInvalidArchive, root, len(payload))
	}

	h := NewHeader(root, len(payload), xxhash.Sum64(payload), opts.Compress)
	body := payload
	if opts.Compress {
		body = s.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	}

	info, err := s.commit(name, h, func(f *os.File) error {
		_, err := f.Write(body)
		return err
	})
	if err != nil {
		return Info{}, err
	}
	if isAligned(payload) {
		s.cacheArchive(name, cachedPayload{header: h, data: payload})
	}
	return info, nil
}

// WriteStream stores the archive produced by fn without holding it in
// memory. fn serializes into w and returns the root position.
func (s *ArchiveStore) WriteStream(name string, opts WriteOptions, fn func(w *ser.Writer) (int, error)) (Info, error) {
	if err := ValidName(name); err != nil {
		return Info{}, err
	}

	var h Header
	info, err := s.commit(name, h, func(f *os.File) error {
		var (
			dst io.Writer = f
			enc *zstd.Encoder
		)
		if opts.Compress {
			var err error
			enc, err = zstd.NewWriter(f, zstd.WithEncoderLevel(s.encLevel))
			if err != nil {
				return err
			}
			dst = enc
		}
		w := ser.NewWriter(dst)
		root, err := fn(w)
		if err == nil {
			err = w.Flush()
		}
		if enc != nil {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}
		if err != nil {
			return err
		}
		if root < 0 || root > w.Pos() {
			return fmt.Errorf("%w: root %d outside payload of %d bytes", ErrInvalidArchive, root, w.Pos())
		}
		h = NewHeader(root, w.Pos(), w.Sum64(), opts.Compress)
		hdr, _ := h.MarshalBinary()
		_, err = f.WriteAt(hdr, 0)
		return err
	})
	if err != nil {
		return Info{}, err
	}
	info.Header = h
	s.evict(name)
	return info, nil
}

// commit writes a framed archive to a temporary file, syncs it and renames
// it into place. body writes everything after the header.
func (s *ArchiveStore) commit(name string, h Header, body func(f *os.File) error) (Info, error) {
	f, err := os.CreateTemp(s.baseDir, "."+name+".tmp-*")
	if err != nil {
		return Info{}, fmt.Errorf("failed to create archive file: %w", err)
	}
	tmp := f.Name()
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	hdr, _ := h.MarshalBinary()
	if _, err := f.Write(hdr); err != nil {
		cleanup()
		return Info{}, fmt.Errorf("failed to write archive header: %w", err)
	}
	if err := body(f); err != nil {
		cleanup()
		return Info{}, fmt.Errorf("failed to write archive %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return Info{}, fmt.Errorf("failed to sync archive %s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		cleanup()
		return Info{}, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return Info{}, err
	}
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		_ = os.Remove(tmp)
		return Info{}, fmt.Errorf("failed to commit archive %s: %w", name, err)
	}

	level.Debug(s.logger).Log("msg", "wrote archive", "name", name, "stored", fi.Size(), "compressed", h.Compressed())
	return Info{Name: name, Header: h, StoredSize: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Open loads archive name. Raw archives are memory mapped when the store
// allows it; compressed archives are decoded into an aligned buffer. The
// payload checksum is always verified. The returned Archive must be closed.
func (s *ArchiveStore) Open(name string) (*Archive, error) {
	return s.open(name, mmap.RandomAccess)
}

// OpenFull is Open for callers that read the whole payload once. Mappings
// are prefaulted and read ahead sequentially.
func (s *ArchiveStore) OpenFull(name string) (*Archive, error) {
	return s.open(name, mmap.Prefault|mmap.SequentialAccess)
}

func (s *ArchiveStore) open(name string, access mmap.Options) (*Archive, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}

	s.cacheMutex.RLock()
	if c, ok := s.archiveCache[name]; ok {
		s.cacheMutex.RUnlock()
		return &Archive{name: name, header: c.header, data: c.data}, nil
	}
	s.cacheMutex.RUnlock()

	f, err := s.openFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	stored := fi.Size() - HeaderSize

	a := &Archive{name: name, header: h}
	switch {
	case h.Compressed():
		compressed := make([]byte, stored)
		if _, err := io.ReadFull(f, compressed); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, name, err)
		}
		out, err := decompress(compressed, h.PayloadLen)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, name, err)
		}
		a.data = out
	case uint64(stored) != h.PayloadLen:
		return nil, fmt.Errorf("%w: %s: payload is %d bytes, header says %d", ErrInvalidArchive, name, stored, h.PayloadLen)
	case s.useMmap:
		m, err := mmap.Map(f, access)
		if err != nil {
			return nil, err
		}
		if payload := m.Bytes()[HeaderSize:]; isAligned(payload) {
			a.data, a.mapping = payload, m
			break
		}
		a.data = append(ser.AlignedBytes(int(h.PayloadLen))[:0], m.Bytes()[HeaderSize:]...)
		_ = m.Close()
	default:
		a.data = ser.AlignedBytes(int(h.PayloadLen))
		if _, err := io.ReadFull(f, a.data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, name, err)
		}
	}

	if sum := xxhash.Sum64(a.data); sum != h.Checksum {
		_ = a.Close()
		return nil, fmt.Errorf("%w: %s: got %016x, want %016x", ErrChecksumMismatch, name, sum, h.Checksum)
	}

	level.Debug(s.logger).Log("msg", "opened archive", "name", name, "mapped", a.Mapped(), "payload", h.PayloadLen)
	if a.mapping == nil {
		s.cacheArchive(name, cachedPayload{header: h, data: a.data})
	}
	return a, nil
}

func (s *ArchiveStore) openFile(name string) (*os.File, error) {
	f, err := os.Open(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	return f, err
}

// decompress decodes a compressed payload the header says is want bytes
// long. The output grows with the decoded data and never past want, so an
// overstated length cannot force a large allocation up front.
func decompress(compressed []byte, want uint64) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
		zstd.WithDecoderMaxWindow(maxWindow))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out := ser.AlignedBytes(int(min(want, decodeChunk)))
	n := 0
	for {
		if n == len(out) {
			if uint64(n) == want {
				var extra [1]byte
				if m, _ := io.ReadFull(dec, extra[:]); m > 0 {
					return nil, fmt.Errorf("decoded more than the %d bytes the header says", want)
				}
				break
			}
			grown := ser.AlignedBytes(int(min(want, uint64(2*len(out)))))
			copy(grown, out[:n])
			out = grown
		}
		m, err := dec.Read(out[n:])
		n += m
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if uint64(n) != want {
		return nil, fmt.Errorf("decoded %d bytes, header says %d", n, want)
	}
	return out[:n], nil
}

func readHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	h, err := ParseHeader(b[:])
	if err != nil {
		return Header{}, err
	}
	if h.PayloadLen > maxPayload {
		return Header{}, fmt.Errorf("%w: payload of %d bytes is too large", ErrInvalidArchive, h.PayloadLen)
	}
	return h, nil
}

// Stat reads the header of archive name.
func (s *ArchiveStore) Stat(name string) (Info, error) {
	if err := ValidName(name); err != nil {
		return Info{}, err
	}
	f, err := s.openFile(name)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	h, err := readHeader(f)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", name, err)
	}
	fi, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	return Info{Name: name, Header: h, StoredSize: fi.Size(), ModTime: fi.ModTime()}, nil
}

// List returns the names of all archives, sorted.
func (s *ArchiveStore) List() ([]string, error) {
	files, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != ArchiveFileExt {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ArchiveFileExt))
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes archive name.
func (s *ArchiveStore) Delete(name string) error {
	if err := ValidName(name); err != nil {
		return err
	}
	s.evict(name)

	err := os.Remove(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, name)
	}
	if err == nil {
		level.Debug(s.logger).Log("msg", "deleted archive", "name", name)
	}
	return err
}

// SetCacheSize sets the maximum number of payloads to cache.
func (s *ArchiveStore) SetCacheSize(size int) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	s.cacheSize = size
	for len(s.cacheKeys) > max(s.cacheSize, 0) {
		oldestKey := s.cacheKeys[0]
		s.cacheKeys = s.cacheKeys[1:]
		delete(s.archiveCache, oldestKey)
	}
}

// Cached reports whether name's payload is in the cache.
func (s *ArchiveStore) Cached(name string) bool {
	s.cacheMutex.RLock()
	defer s.cacheMutex.RUnlock()
	_, ok := s.archiveCache[name]
	return ok
}

// cacheArchive adds a payload to the cache, evicting the least recently
// added entry when full.
func (s *ArchiveStore) cacheArchive(name string, c cachedPayload) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	if s.cacheSize <= 0 {
		return
	}
	if i := slices.Index(s.cacheKeys, name); i >= 0 {
		s.cacheKeys = slices.Delete(s.cacheKeys, i, i+1)
	} else if len(s.cacheKeys) >= s.cacheSize {
		oldestKey := s.cacheKeys[0]
		s.cacheKeys = s.cacheKeys[1:]
		delete(s.archiveCache, oldestKey)
	}
	s.cacheKeys = append(s.cacheKeys, name)
	s.archiveCache[name] = c
}

func (s *ArchiveStore) evict(name string) {
	s.cacheMutex.Lock()
	defer s.cacheMutex.Unlock()

	delete(s.archiveCache, name)
	if i := slices.Index(s.cacheKeys, name); i >= 0 {
		s.cacheKeys = slices.Delete(s.cacheKeys, i, i+1)
	}
}

func isAligned(b []byte) bool {
	if cap(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))%ser.BufferAlign == 0
}

// Archive is an opened archive payload.
type Archive struct {
	name    string
	header  Header
	data    []byte
	mapping *mmap.Mapping
}

// Name is the archive's store name.
func (a *Archive) Name() string { return a.name }

// Header is the archive's frame header.
func (a *Archive) Header() Header { return a.header }

// Root is the position of the root value in the payload.
func (a *Archive) Root() int { return int(a.header.Root) }

// Bytes is the payload. It must not be modified or used after Close.
func (a *Archive) Bytes() []byte { return a.data }

// Buffer wraps the payload as an archive buffer.
func (a *Archive) Buffer() archive.Buffer { return archive.NewBuffer(a.data) }

// Mapped reports whether the payload is memory mapped.
func (a *Archive) Mapped() bool { return a.mapping != nil }

// Close releases the payload.
func (a *Archive) Close() error {
	a.data = nil
	if a.mapping == nil {
		return nil
	}
	m := a.mapping
	a.mapping = nil
	return m.Close()
}
