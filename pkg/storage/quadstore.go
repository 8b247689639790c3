// Package storage composes the atom store, page cache, WAL, and GSPO
// B+tree into the bitemporal Quad Store: add/delete, the four query
// modes (as-of, current, changes, evolution), named-graph
// enumeration, explicit batches, checkpointing, and statistics. It
// owns the reader/writer lock discipline described for the store:
// shared reads, exclusive batches, with a bounded lock-timeout option.
package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/mercury/pkg/atom"
	"github.com/cuemby/mercury/pkg/btree"
	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/log"
	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/pagecache"
	"github.com/cuemby/mercury/pkg/types"
	"github.com/cuemby/mercury/pkg/wal"
)

const (
	pageFile = "gspo.tdb"
	walDir   = "wal"
)

// Store is an opened bitemporal quad store rooted at a directory.
type Store struct {
	dir  string
	opts config.Options

	atoms *atom.Store
	cache *pagecache.Cache
	tree  *btree.Tree
	log   *wal.WAL

	lockmu    sync.RWMutex
	batchOpen bool
	pending   []pendingWrite

	lastAppliedTx uint64
}

type pendingWrite struct {
	key       types.TemporalKey
	tombstone bool
}

// Open opens or creates a quad store at dir with the given options.
func Open(dir string, opts config.Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating store directory", err)
	}

	atoms, err := atom.Open(dir)
	if err != nil {
		return nil, err
	}

	cache, err := pagecache.Open(filepath.Join(dir, pageFile), opts.PageSize, opts.PageCacheFrames)
	if err != nil {
		atoms.Close()
		return nil, err
	}

	tree, err := btree.Open(cache)
	if err != nil {
		atoms.Close()
		cache.Close()
		return nil, err
	}

	w, err := wal.Open(filepath.Join(dir, walDir))
	if err != nil {
		atoms.Close()
		cache.Close()
		return nil, err
	}

	s := &Store{dir: dir, opts: opts, atoms: atoms, cache: cache, tree: tree, log: w}

	lastTx, err := w.Recover(func(rec wal.Record) {
		if rec.Kind != wal.KindPut {
			return
		}
		key := types.DecodeTemporalKey(rec.Payload[:types.TemporalKeySize])
		tombstone := rec.Payload[types.TemporalKeySize] != 0
		tree.Insert(key, tombstone, 0)
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.lastAppliedTx = lastTx

	log.WithStore(dir).Info().Uint64("recovered_tx", lastTx).Msg("quad store opened")

	return s, nil
}

func (s *Store) acquireRead() error {
	return acquireTimeout(s.lockmu.TryRLock, s.lockmu.RLock, s.opts.LockTimeoutMillis, "read")
}

func (s *Store) releaseRead() { s.lockmu.RUnlock() }

func (s *Store) acquireWrite() error {
	return acquireTimeout(s.lockmu.TryLock, s.lockmu.Lock, s.opts.LockTimeoutMillis, "write")
}

func (s *Store) releaseWrite() { s.lockmu.Unlock() }

func acquireTimeout(tryLock func() bool, lock func(), timeoutMillis int64, mode string) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.LockWaitDuration, mode)

	if timeoutMillis <= 0 {
		lock()
		return nil
	}
	deadline := time.Now().Add(time.Duration(timeoutMillis) * time.Millisecond)
	for {
		if tryLock() {
			return nil
		}
		if time.Now().After(deadline) {
			return mercuryerr.New(mercuryerr.KindConcurrencyError, "lock acquisition timed out")
		}
		time.Sleep(time.Millisecond)
	}
}

// AddCurrent interns (g,s,p,o) and adds it valid from now to +∞.
func (s *Store) AddCurrent(graph, subject, predicate, object string) error {
	return s.Add(graph, subject, predicate, object, time.Now().UnixNano(), types.InfiniteTime)
}

// Add interns (g,s,p,o) and adds a fact valid over [validFrom, validTo).
func (s *Store) Add(graph, subject, predicate, object string, validFrom, validTo int64) error {
	if validFrom >= validTo {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "valid_from must precede valid_to")
	}
	if s.opts.ReadOnly {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "store is read-only")
	}

	key, err := s.internKey(graph, subject, predicate, object, validFrom, validTo)
	if err != nil {
		return err
	}
	return s.writeOne(key, false)
}

// Delete inserts a tombstone for (g,s,p,o) effective at atTime.
func (s *Store) Delete(graph, subject, predicate, object string, atTime int64) error {
	if s.opts.ReadOnly {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "store is read-only")
	}
	key, err := s.internKey(graph, subject, predicate, object, atTime, types.InfiniteTime)
	if err != nil {
		return err
	}
	return s.writeOne(key, true)
}

// AddRaw inserts a fact or tombstone with an explicit validity
// interval and tombstone flag, bypassing the now/atTime defaults of
// Add/Delete. It exists for the pruning transfer, which replays
// quads from a source store verbatim (or flattened) into a fresh
// target.
func (s *Store) AddRaw(graph, subject, predicate, object string, validFrom, validTo int64, tombstone bool) error {
	if s.opts.ReadOnly {
		return mercuryerr.New(mercuryerr.KindInvalidArgument, "store is read-only")
	}
	key, err := s.internKey(graph, subject, predicate, object, validFrom, validTo)
	if err != nil {
		return err
	}
	return s.writeOne(key, tombstone)
}

func (s *Store) internKey(graph, subject, predicate, object string, validFrom, validTo int64) (types.TemporalKey, error) {
	var key types.TemporalKey

	g := types.NoAtom
	var err error
	if graph != "" {
		g, err = s.atoms.Intern([]byte(graph))
		if err != nil {
			return key, err
		}
	}
	subj, err := s.atoms.Intern([]byte(subject))
	if err != nil {
		return key, err
	}
	pred, err := s.atoms.Intern([]byte(predicate))
	if err != nil {
		return key, err
	}
	obj, err := s.atoms.Intern([]byte(object))
	if err != nil {
		return key, err
	}

	key = types.TemporalKey{
		Graph: g, Subject: subj, Predicate: pred, Object: obj,
		ValidFrom: validFrom, ValidTo: validTo, TxnTime: time.Now().UnixNano(),
	}
	return key, nil
}

// writeOne performs a single-record WAL append/flush/apply cycle
// outside an explicit batch: append, flush, apply, then mark the
// cache dirty.
func (s *Store) writeOne(key types.TemporalKey, tombstone bool) error {
	if err := s.acquireWrite(); err != nil {
		return err
	}
	defer s.releaseWrite()

	if s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "a batch is already open")
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchDuration)

	if err := s.appendAndApply([]pendingWrite{{key: key, tombstone: tombstone}}); err != nil {
		return err
	}
	s.maybeCheckpoint()
	return nil
}

func (s *Store) appendAndApply(writes []pendingWrite) error {
	var lastTx uint64
	for _, w := range writes {
		payload := make([]byte, types.TemporalKeySize+1)
		w.key.Encode(payload[:types.TemporalKeySize])
		if w.tombstone {
			payload[types.TemporalKeySize] = 1
		}
		txID, err := s.log.Append(wal.KindPut, payload)
		if err != nil {
			return err
		}
		lastTx = txID
	}
	if err := s.log.Flush(); err != nil {
		return err
	}
	for _, w := range writes {
		if _, err := s.tree.Insert(w.key, w.tombstone, 0); err != nil {
			return err
		}
	}
	s.log.MarkApplied()
	s.lastAppliedTx = lastTx
	metrics.QuadsTotal.Set(float64(s.tree.Stats().Entries))
	return nil
}

func (s *Store) maybeCheckpoint() {
	if s.log.ShouldCheckpoint(s.opts.CheckpointSize, time.Duration(s.opts.CheckpointIntervalSeconds)*time.Second) {
		if err := s.Checkpoint(); err != nil {
			log.Logger.Warn().Err(err).Msg("automatic checkpoint failed")
		}
	}
}

// BeginBatch acquires the exclusive write lock for a multi-op batch.
func (s *Store) BeginBatch() error {
	if err := s.acquireWrite(); err != nil {
		return err
	}
	if s.batchOpen {
		s.releaseWrite()
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "a batch is already open")
	}
	s.batchOpen = true
	s.pending = nil
	return nil
}

// BatchAdd queues an add within an open batch.
func (s *Store) BatchAdd(graph, subject, predicate, object string, validFrom, validTo int64) error {
	if !s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "no batch is open")
	}
	key, err := s.internKey(graph, subject, predicate, object, validFrom, validTo)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, pendingWrite{key: key, tombstone: false})
	return nil
}

// BatchDelete queues a tombstone within an open batch.
func (s *Store) BatchDelete(graph, subject, predicate, object string, atTime int64) error {
	if !s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "no batch is open")
	}
	key, err := s.internKey(graph, subject, predicate, object, atTime, types.InfiniteTime)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, pendingWrite{key: key, tombstone: true})
	return nil
}

// BatchAddRaw queues a raw add/tombstone within an open batch; see AddRaw.
func (s *Store) BatchAddRaw(graph, subject, predicate, object string, validFrom, validTo int64, tombstone bool) error {
	if !s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "no batch is open")
	}
	key, err := s.internKey(graph, subject, predicate, object, validFrom, validTo)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, pendingWrite{key: key, tombstone: tombstone})
	return nil
}

// CommitBatch appends, flushes, and applies all queued writes
// atomically, then releases the write lock.
func (s *Store) CommitBatch() error {
	if !s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "no batch is open")
	}
	defer func() {
		s.batchOpen = false
		s.pending = nil
		s.releaseWrite()
	}()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.BatchDuration)

	if err := s.appendAndApply(s.pending); err != nil {
		return err
	}
	s.maybeCheckpoint()
	return nil
}

// RollbackBatch abandons all queued writes; nothing was fsynced, so
// there is nothing to undo on disk.
func (s *Store) RollbackBatch() error {
	if !s.batchOpen {
		return mercuryerr.New(mercuryerr.KindConcurrencyError, "no batch is open")
	}
	s.batchOpen = false
	s.pending = nil
	s.releaseWrite()
	return nil
}

// Checkpoint flushes the page cache and writes a WAL checkpoint
// marker, permitting truncation of superseded segments.
func (s *Store) Checkpoint() error {
	if err := s.cache.FlushAll(); err != nil {
		return err
	}
	if err := s.tree.SetCheckpoint(s.lastAppliedTx); err != nil {
		return err
	}
	return s.log.Checkpoint(s.lastAppliedTx)
}

// Statistics reports the store's current size and durability position.
func (s *Store) Statistics() types.Statistics {
	treeStats := s.tree.Stats()
	return types.Statistics{
		Quads:   treeStats.Entries,
		Atoms:   s.atoms.Count(),
		Bytes:   treeStats.Pages * uint64(s.cache.PageSize()),
		WALTx:   s.lastAppliedTx,
		WALSize: uint64(s.log.Size()),
	}
}

// Atoms exposes the underlying atom store for resolving query results.
func (s *Store) Atoms() *atom.Store { return s.atoms }

// AcquireReadLock takes the shared read lock for the duration of
// cursor use; callers must call ReleaseReadLock when done.
func (s *Store) AcquireReadLock() error { return s.acquireRead() }

// ReleaseReadLock releases a lock taken by AcquireReadLock.
func (s *Store) ReleaseReadLock() { s.releaseRead() }

// Close flushes and closes all underlying resources.
func (s *Store) Close() error {
	if err := s.cache.FlushAll(); err != nil {
		return err
	}
	if err := s.log.Close(); err != nil {
		return err
	}
	if err := s.cache.Close(); err != nil {
		return err
	}
	return s.atoms.Close()
}
