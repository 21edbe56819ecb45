// Package catalog keeps an indexed record of every archive in a store so
// listings and digest lookups do not have to open archive files.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/buntdb"
)

// InMemory opens a catalog that is never persisted.
const InMemory = ":memory:"

const (
	recordPrefix = "archive:"
	entryPrefix  = "entry:"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("catalog record not found")
	// ErrInvalidName is returned for names that cannot be used as keys.
	ErrInvalidName = errors.New("invalid catalog name")
)

// Record describes one stored archive.
type Record struct {
	Name       string    `json:"name"`
	Root       int       `json:"root"`
	Entries    int       `json:"entries"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"storedSize"`
	Digest     string    `json:"digest"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Ratio is the stored size over the payload size.
func (r Record) Ratio() float64 {
	if r.Size == 0 {
		return 1
	}
	return float64(r.StoredSize) / float64(r.Size)
}

// EntryRecord is the per-path metadata kept when entry indexing is on.
type EntryRecord struct {
	Archive string `json:"archive"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime"`
	Mode    uint32 `json:"mode"`
	IsDir   bool   `json:"isDir"`
	Hash    string `json:"hash,omitempty"`
}

// stored adds a numeric creation time so the time index orders correctly
// regardless of how the timestamp string is formatted.
type stored struct {
	Record
	Created int64 `json:"created"`
}

// Options configures a catalog.
type Options struct {
	// IndexEntries also stores one record per manifest entry so paths and
	// content hashes can be searched across archives.
	IndexEntries bool
	// SyncPolicy controls how often buntdb fsyncs its log.
	SyncPolicy buntdb.SyncPolicy
}

// DefaultOptions returns the default options for a catalog.
func DefaultOptions() Options {
	return Options{
		IndexEntries: true,
		SyncPolicy:   buntdb.EverySecond,
	}
}

// Store is a buntdb-backed archive catalog.
type Store struct {
	db           *buntdb.DB
	path         string
	mutex        sync.RWMutex
	indexEntries bool
}

// Open opens or creates the catalog at path. Use InMemory for a catalog
// that lives only as long as the Store.
func Open(path string, options Options) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	var cfg buntdb.Config
	if err := db.ReadConfig(&cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read catalog config: %w", err)
	}
	cfg.SyncPolicy = options.SyncPolicy
	if err := db.SetConfig(cfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure catalog: %w", err)
	}

	if err := createIndexes(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &Store{db: db, path: path, indexEntries: options.IndexEntries}, nil
}

func createIndexes(db *buntdb.DB) error {
	indexes := []struct {
		name    string
		pattern string
		less    []func(a, b string) bool
	}{
		{"created", recordPrefix + "*", []func(a, b string) bool{buntdb.IndexJSON("created")}},
		{"size", recordPrefix + "*", []func(a, b string) bool{buntdb.IndexJSON("size")}},
		{"digest", recordPrefix + "*", []func(a, b string) bool{buntdb.IndexJSON("digest")}},
		{"entry_hash", entryPrefix + "*", []func(a, b string) bool{buntdb.IndexJSON("hash")}},
	}
	for _, idx := range indexes {
		if err := db.ReplaceIndex(idx.name, idx.pattern, idx.less...); err != nil {
			return err
		}
	}
	return nil
}

// Path is the file the catalog persists to.
func (s *Store) Path() string { return s.path }

// Close closes the catalog.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.db.Close()
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, ":*?") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Put inserts or replaces the record for r.Name.
func (s *Store) Put(r Record) error {
	if err := validName(r.Name); err != nil {
		return err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	data, err := json.Marshal(stored{Record: r, Created: r.CreatedAt.UnixNano()})
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(recordPrefix+r.Name, string(data), nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", r.Name, err)
	}
	return nil
}

// Get returns the record for name.
func (s *Store) Get(name string) (Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var r Record
	err := s.db.View(func(tx *buntdb.Tx) error {
		data, err := tx.Get(recordPrefix + name)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(data), &r)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record %s: %w", name, err)
	}
	return r, nil
}

// List returns every record, oldest first.
func (s *Store) List() ([]Record, error) {
	return s.ascend("created", nil)
}

// ListBySize returns every record, largest payload first.
func (s *Store) ListBySize() ([]Record, error) {
	records, err := s.ascend("size", nil)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// FindByDigest returns the records whose payload digest equals digest.
func (s *Store) FindByDigest(digest string) ([]Record, error) {
	pivot, err := json.Marshal(map[string]string{"digest": digest})
	if err != nil {
		return nil, err
	}
	return s.ascend("digest", pivot)
}

func (s *Store) ascend(index string, equal []byte) ([]Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var (
		records []Record
		decErr  error
	)
	iter := func(key, value string) bool {
		var r Record
		if err := json.Unmarshal([]byte(value), &r); err != nil {
			decErr = fmt.Errorf("failed to decode %s: %w", key, err)
			return false
		}
		records = append(records, r)
		return true
	}
	err := s.db.View(func(tx *buntdb.Tx) error {
		if equal != nil {
			return tx.AscendEqual(index, string(equal), iter)
		}
		return tx.Ascend(index, iter)
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return records, nil
}

// Delete removes the record for name and any entry records it owns.
func (s *Store) Delete(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete(recordPrefix + name); err != nil {
			return err
		}
		return deleteEntries(tx, name)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

func deleteEntries(tx *buntdb.Tx, name string) error {
	var keys []string
	err := tx.AscendKeys(entryPrefix+name+":*", func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := tx.Delete(key); err != nil && !errors.Is(err, buntdb.ErrNotFound) {
			return err
		}
	}
	return nil
}

// IndexesEntries reports whether PutEntries stores anything.
func (s *Store) IndexesEntries() bool { return s.indexEntries }

// PutEntries replaces the entry records of archive. It is a no-op when
// entry indexing is disabled.
func (s *Store) PutEntries(archive string, entries []EntryRecord) error {
	if !s.indexEntries {
		return nil
	}
	if err := validName(archive); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	err := s.db.Update(func(tx *buntdb.Tx) error {
		if err := deleteEntries(tx, archive); err != nil {
			return err
		}
		for _, e := range entries {
			e.Archive = archive
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(entryPrefix+archive+":"+e.Path, string(data), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put entries for %s: %w", archive, err)
	}
	return nil
}

// GetEntry returns the entry record for path in archive.
func (s *Store) GetEntry(archive, path string) (EntryRecord, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var e EntryRecord
	err := s.db.View(func(tx *buntdb.Tx) error {
		data, err := tx.Get(entryPrefix + archive + ":" + path)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(data), &e)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return EntryRecord{}, fmt.Errorf("%w: %s:%s", ErrNotFound, archive, path)
	}
	if err != nil {
		return EntryRecord{}, fmt.Errorf("failed to get entry: %w", err)
	}
	return e, nil
}

// FindByHash returns every indexed entry whose content hash is hash, in
// any archive.
func (s *Store) FindByHash(hash string) ([]EntryRecord, error) {
	pivot, err := json.Marshal(map[string]string{"hash": hash})
	if err != nil {
		return nil, err
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var (
		found  []EntryRecord
		decErr error
	)
	err = s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendEqual("entry_hash", string(pivot), func(key, value string) bool {
			var e EntryRecord
			if err := json.Unmarshal([]byte(value), &e); err != nil {
				decErr = fmt.Errorf("failed to decode %s: %w", key, err)
				return false
			}
			found = append(found, e)
			return true
		})
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search entries: %w", err)
	}
	return found, nil
}
