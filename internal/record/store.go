// Package record implements the Record Store (§4.A): the durable,
// externally-addressed map from message id to Record, plus an ordered
// in-memory mirror used for range scans over a chat's history.
package record

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/btree"

	"github.com/rdxlab/tgdb/internal/msgtypes"

	. "github.com/rdxlab/tgdb/internal/logging"
)

// mirrorEntry is one key/record pair held in the in-memory mirror, ordered
// by key so Range visits records in the ascending key order §4.A requires
// (the original's own in-memory cache is a std::map<std::string, T>, keyed
// the same way).
type mirrorEntry struct {
	key int64
	rec *msgtypes.Record
}

func mirrorLess(a, b mirrorEntry) bool { return a.key < b.key }

// mirrorGet looks up key in mirror, unwrapping the mirrorEntry wrapper.
func mirrorGet(mirror *btree.BTreeG[mirrorEntry], key int64) (*msgtypes.Record, bool) {
	entry, ok := mirror.Get(mirrorEntry{key: key})
	if !ok {
		return nil, false
	}
	return entry.rec, true
}

// Store is the durable record store. Keys are the external ids produced by
// msgtypes.ExternalID; badger/v4 provides crash-safe persistence, and a
// google/btree mirror keeps keys in sorted order for fast, in-key-order
// chat-range iteration without a badger prefix scan on every read (§4.A, §5).
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	mirror *btree.BTreeG[mirrorEntry]
}

// Open opens (creating if absent) the badger database at dir and replays
// its contents into the in-memory ordered mirror.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("record: create dir %s: %w", dir, err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("record: open badger at %s: %w", dir, err)
	}

	s := &Store{
		db:     db,
		mirror: btree.NewG(32, mirrorLess),
	}
	if err := s.loadMirror(); err != nil {
		db.Close()
		return nil, err
	}

	L_info("record: store opened", "dir", dir, "count", s.mirror.Len())
	return s, nil
}

func (s *Store) loadMirror() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := decodeKey(item.Key())

			err := item.Value(func(val []byte) error {
				var rec msgtypes.Record
				if err := json.Unmarshal(val, &rec); err != nil {
					return fmt.Errorf("decode record %d: %w", key, err)
				}
				s.mirror.ReplaceOrInsert(mirrorEntry{key, &rec})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func encodeKey(key int64) []byte {
	return []byte(fmt.Sprintf("rec:%020d", key))
}

func decodeKey(raw []byte) int64 {
	var key int64
	fmt.Sscanf(string(raw), "rec:%020d", &key)
	return key
}

// Put persists rec under key, overwriting any existing record there.
func (s *Store) Put(key int64, rec *msgtypes.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(key, rec)
}

func (s *Store) putLocked(key int64, rec *msgtypes.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("record: marshal %d: %w", key, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(encodeKey(key), data)
	}); err != nil {
		return fmt.Errorf("record: put %d: %w", key, err)
	}
	s.mirror.ReplaceOrInsert(mirrorEntry{key, rec})
	return nil
}

// Get returns the record at key, or ok=false if absent.
func (s *Store) Get(key int64) (*msgtypes.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return mirrorGet(s.mirror, key)
}

// Has reports whether key is present.
func (s *Store) Has(key int64) bool {
	_, ok := s.Get(key)
	return ok
}

// Remove deletes the record at key. It is not an error to remove an
// absent key.
func (s *Store) Remove(key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(encodeKey(key))
	}); err != nil {
		return fmt.Errorf("record: remove %d: %w", key, err)
	}
	s.mirror.Delete(mirrorEntry{key: key})
	return nil
}

// Transaction runs fn against an exclusive view of the store (§4.A): the
// caller's writes via Tx.Put inside fn are serialized with any
// concurrent outside access, matching the record store's single-writer
// model without exposing badger's txn type to callers. Each Tx.Put is
// written through immediately; writes are not rolled back if fn returns
// an error.
func (s *Store) Transaction(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}

// Tx is the limited view a Transaction callback operates through.
type Tx struct {
	s *Store
}

// Put persists rec under key within the enclosing transaction.
func (tx *Tx) Put(key int64, rec *msgtypes.Record) error {
	return tx.s.putLocked(key, rec)
}

// Get returns the record at key within the enclosing transaction.
func (tx *Tx) Get(key int64) (*msgtypes.Record, bool) {
	return mirrorGet(tx.s.mirror, key)
}

// Range calls fn for every record in ascending key order, stopping early
// if fn returns false. Iteration is over a point-in-time snapshot of the
// mirror and does not observe concurrent writes made during the call.
func (s *Store) Range(fn func(key int64, rec *msgtypes.Record) bool) {
	s.mu.RLock()
	snapshot := make([]mirrorEntry, 0, s.mirror.Len())
	s.mirror.Ascend(func(e mirrorEntry) bool {
		snapshot = append(snapshot, e)
		return true
	})
	s.mu.RUnlock()

	for _, e := range snapshot {
		if !fn(e.key, e.rec) {
			return
		}
	}
}

// Len returns the number of records currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mirror.Len()
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("record: close: %w", err)
	}
	return nil
}
