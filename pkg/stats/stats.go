// Package stats persists the per-predicate cardinality statistics that
// drive the multi-pattern join's reordering policy. Statistics are
// written by callers through Put or ReplaceAll; the quad store's
// checkpoint does not recompute them. They are stored in a small embedded
// bbolt database kept alongside the store's other files; this is
// deliberately a separate file from gspo.tdb, atoms.*, and wal.log —
// it is a derived cache, not part of the durable write path, and can be
// rebuilt by rescanning the B+tree if it is ever lost.
package stats

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/mercury/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketPredicates = []byte("predicates")

// PredicateStats holds the selectivity signal used by the join
// reordering policy: how many quads carry the predicate, and an
// estimate of how many distinct subjects it spans.
type PredicateStats struct {
	Frequency        uint64
	DistinctSubjects uint64
}

// Store persists predicate cardinality statistics in a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the statistics database at <dataDir>/stats.db.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "stats.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPredicates)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the statistics database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put records the statistics for a single predicate atom.
func (s *Store) Put(predicate types.AtomId, st PredicateStats) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPredicates)
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return b.Put(predicateKey(predicate), data)
	})
}

// Get returns the statistics recorded for a predicate atom, or the zero
// value if none have been recorded yet (an unseen predicate is treated
// as maximally selective so it never blocks query planning).
func (s *Store) Get(predicate types.AtomId) (PredicateStats, error) {
	var st PredicateStats
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPredicates)
		data := b.Get(predicateKey(predicate))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &st)
	})
	return st, err
}

// ReplaceAll atomically replaces the entire predicate statistics table
// with all; predicates absent from all are dropped.
func (s *Store) ReplaceAll(all map[types.AtomId]PredicateStats) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketPredicates); err != nil && err != bolt.ErrBucketNotFound {
			return err
		}
		b, err := tx.CreateBucket(bucketPredicates)
		if err != nil {
			return err
		}
		for pred, st := range all {
			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			if err := b.Put(predicateKey(pred), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func predicateKey(p types.AtomId) []byte {
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(p >> (8 * i))
	}
	return buf
}
