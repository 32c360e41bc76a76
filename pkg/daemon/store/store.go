// Package store provides Badger DB-backed storage for the run history: one
// record per full scan, reconciled watch batch, eviction sweep and
// integrity check.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key prefixes for different data types
const (
	prefixRun  = "r:" // Run records, ordered by start time
	prefixMeta = "m:" // Metadata (schema, etc.)
)

// Kind identifies what produced a record.
type Kind string

const (
	KindScan      Kind = "scan"
	KindReconcile Kind = "reconcile"
	KindEvict     Kind = "evict"
	KindVerify    Kind = "verify"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Record is one completed run.
type Record struct {
	ID      string        `json:"id"`
	Kind    Kind          `json:"kind"`
	Started time.Time     `json:"started"`
	Elapsed time.Duration `json:"elapsed"`

	// Summary is a one-line human description.
	Summary string `json:"summary"`

	// Detail is the kind-specific result, JSON encoded.
	Detail json.RawMessage `json:"detail,omitempty"`
}

// NewRecord builds a record with detail marshaled from v. An empty id gets
// a fresh UUID.
func NewRecord(id string, kind Kind, started time.Time, elapsed time.Duration, summary string, v any) (*Record, error) {
	if id == "" {
		id = uuid.NewString()
	}
	rec := &Record{ID: id, Kind: kind, Started: started, Elapsed: elapsed, Summary: summary}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s detail: %w", kind, err)
		}
		rec.Detail = data
	}
	return rec, nil
}

// Decode unmarshals the record's detail into v.
func (r *Record) Decode(v any) error {
	if len(r.Detail) == 0 {
		return nil
	}
	return json.Unmarshal(r.Detail, v)
}

// Store is the history storage backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store at the given path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.EnsureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// runKey orders records by start time, then ID.
func runKey(rec *Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixRun, rec.Started.UnixNano(), rec.ID))
}

// Put stores a record.
func (s *Store) Put(rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(rec), data)
	})
}

// List returns up to limit records, newest first. A zero limit returns all.
// A non-empty kind restricts the result to that kind.
func (s *Store) List(limit int, kind Kind) ([]*Record, error) {
	var results []*Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode Seek finds the last key <= the seek key.
		for it.Seek([]byte(prefixRun + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(results) >= limit {
				break
			}
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if kind != "" && rec.Kind != kind {
				continue
			}
			results = append(results, &rec)
		}
		return nil
	})

	return results, err
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (*Record, error) {
	all, err := s.List(0, "")
	if err != nil {
		return nil, err
	}
	for _, rec := range all {
		if rec.ID == id {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Prune deletes records that started before cutoff and returns how many
// were removed.
func (s *Store) Prune(cutoff time.Time) (int, error) {
	end := []byte(fmt.Sprintf("%s%020d", prefixRun, cutoff.UnixNano()))
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(end) {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Clear deletes every record.
func (s *Store) Clear() error {
	return s.db.DropPrefix([]byte(prefixRun))
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
