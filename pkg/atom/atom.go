// Package atom interns RDF lexical terms into compact 64-bit ids. The
// store is backed by three files: an append-only payload log, a packed
// offset table indexed by AtomId, and an open-addressed hash index
// mapping term hash to AtomId. The offset table and hash index are
// both rebuilt from the payload log on open, so only the payload log
// needs to be durable.
package atom

import (
	"encoding/binary"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/types"
)

const (
	payloadFile = "atoms.atoms"
	offsetFile  = "atoms.offsets"
	indexFile   = "atoms.atomidx"

	initialBuckets = 1024
	emptyBucket    = ^uint64(0)
)

type bucket struct {
	hash uint64
	id   uint64
}

// Store interns byte strings into AtomIds and resolves them back.
// AtomId 0 is reserved and never returned by Intern.
type Store struct {
	mu sync.RWMutex

	dir         string
	payload     *os.File
	payloadSize int64

	offsets []int64 // offsets[id] == byte offset of the length-prefixed record for id; offsets[0] unused

	buckets  []bucket
	numAtoms uint64
}

// Open creates or opens the atom store rooted at dir, replaying the
// payload log to rebuild the hash index.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating atom store directory", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, payloadFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "opening atoms.atoms", err)
	}

	s := &Store{
		dir:     dir,
		payload: f,
		offsets: make([]int64, 1, 64),
		buckets: newBucketTable(initialBuckets),
	}
	s.offsets[0] = -1 // NoAtom has no payload

	if err := s.rebuildFromPayload(); err != nil {
		f.Close()
		return nil, err
	}

	return s, nil
}

func newBucketTable(n int) []bucket {
	t := make([]bucket, n)
	for i := range t {
		t[i] = bucket{hash: emptyBucket}
	}
	return t
}

// rebuildFromPayload replays the append-only payload file to
// reconstruct the offsets table and hash index. This lets the store
// recover its intern index purely from durable state: atoms.atomidx
// is a cache, never authoritative.
func (s *Store) rebuildFromPayload() error {
	info, err := s.payload.Stat()
	if err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "stat atoms.atoms", err)
	}

	var offset int64
	lenBuf := make([]byte, 4)
	for offset < info.Size() {
		if _, err := s.payload.ReadAt(lenBuf, offset); err != nil {
			return mercuryerr.Wrap(mercuryerr.KindCorruptedData, "reading atom length prefix", err)
		}
		n := binary.LittleEndian.Uint32(lenBuf)
		term := make([]byte, n)
		if _, err := s.payload.ReadAt(term, offset+4); err != nil {
			return mercuryerr.Wrap(mercuryerr.KindCorruptedData, "reading atom payload", err)
		}

		id := uint64(len(s.offsets))
		s.offsets = append(s.offsets, offset)
		s.insertIndex(hashTerm(term), id)
		s.numAtoms++

		offset += 4 + int64(n)
	}
	s.payloadSize = offset
	return nil
}

func hashTerm(term []byte) uint64 {
	h := fnv.New64a()
	h.Write(term)
	return h.Sum64()
}

// Intern returns the AtomId for term, assigning a new id on first
// sight. Repeated interning of the same bytes is idempotent and
// returns the same id within the store's lifetime (and across
// sessions, since the index is rebuilt from the durable payload log).
func (s *Store) Intern(term []byte) (types.AtomId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AtomInternDuration)

	h := hashTerm(term)
	if id, ok := s.lookupIndex(h, term); ok {
		return types.AtomId(id), nil
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(term)))
	if _, err := s.payload.WriteAt(lenBuf, s.payloadSize); err != nil {
		return types.NoAtom, mercuryerr.Wrap(mercuryerr.KindIoError, "appending atom length", err)
	}
	if _, err := s.payload.WriteAt(term, s.payloadSize+4); err != nil {
		return types.NoAtom, mercuryerr.Wrap(mercuryerr.KindIoError, "appending atom payload", err)
	}

	id := uint64(len(s.offsets))
	s.offsets = append(s.offsets, s.payloadSize)
	s.payloadSize += 4 + int64(len(term))
	s.insertIndex(h, id)
	s.numAtoms++

	metrics.AtomsTotal.Set(float64(s.numAtoms))

	return types.AtomId(id), nil
}

// Resolve returns the bytes interned under id.
func (s *Store) Resolve(id types.AtomId) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == types.NoAtom || uint64(id) >= uint64(len(s.offsets)) {
		return nil, mercuryerr.New(mercuryerr.KindNotFound, "unknown atom id")
	}

	offset := s.offsets[id]
	lenBuf := make([]byte, 4)
	if _, err := s.payload.ReadAt(lenBuf, offset); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "reading atom length", err)
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	term := make([]byte, n)
	if _, err := s.payload.ReadAt(term, offset+4); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "reading atom payload", err)
	}
	return term, nil
}

// Count returns the number of interned atoms (excluding the reserved
// NoAtom id).
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numAtoms
}

// Close flushes the payload file and writes snapshots of the offsets
// and hash index to atoms.offsets and atoms.atomidx. Open does not read
// these snapshots; it always rebuilds both from the payload log.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.payload.Sync(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "syncing atoms.atoms", err)
	}
	if err := s.persistOffsets(); err != nil {
		return err
	}
	if err := s.persistIndex(); err != nil {
		return err
	}
	return s.payload.Close()
}

func (s *Store) persistOffsets() error {
	buf := make([]byte, 8*len(s.offsets))
	for i, off := range s.offsets {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(off))
	}
	return mercuryerr.WrapNil(os.WriteFile(filepath.Join(s.dir, offsetFile), buf, 0o644),
		mercuryerr.KindIoError, "writing atoms.offsets")
}

func (s *Store) persistIndex() error {
	buf := make([]byte, 16*len(s.buckets))
	for i, b := range s.buckets {
		binary.LittleEndian.PutUint64(buf[i*16:], b.hash)
		binary.LittleEndian.PutUint64(buf[i*16+8:], b.id)
	}
	return mercuryerr.WrapNil(os.WriteFile(filepath.Join(s.dir, indexFile), buf, 0o644),
		mercuryerr.KindIoError, "writing atoms.atomidx")
}

func (s *Store) lookupIndex(h uint64, term []byte) (uint64, bool) {
	n := len(s.buckets)
	idx := int(h % uint64(n))
	for i := 0; i < n; i++ {
		b := s.buckets[idx]
		if b.hash == emptyBucket {
			return 0, false
		}
		if b.hash == h {
			existing, err := s.resolveLocked(types.AtomId(b.id))
			if err == nil && string(existing) == string(term) {
				return b.id, true
			}
		}
		idx = (idx + 1) % n
	}
	return 0, false
}

func (s *Store) resolveLocked(id types.AtomId) ([]byte, error) {
	offset := s.offsets[id]
	lenBuf := make([]byte, 4)
	if _, err := s.payload.ReadAt(lenBuf, offset); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	term := make([]byte, n)
	_, err := s.payload.ReadAt(term, offset+4)
	return term, err
}

func (s *Store) insertIndex(h, id uint64) {
	if uint64(len(s.buckets))*3 < s.numAtoms*4 {
		s.growIndex()
	}
	n := len(s.buckets)
	idx := int(h % uint64(n))
	for i := 0; i < n; i++ {
		if s.buckets[idx].hash == emptyBucket {
			s.buckets[idx] = bucket{hash: h, id: id}
			return
		}
		idx = (idx + 1) % n
	}
}

func (s *Store) growIndex() {
	old := s.buckets
	s.buckets = newBucketTable(len(old) * 2)
	for _, b := range old {
		if b.hash == emptyBucket {
			continue
		}
		n := len(s.buckets)
		idx := int(b.hash % uint64(n))
		for {
			if s.buckets[idx].hash == emptyBucket {
				s.buckets[idx] = b
				break
			}
			idx = (idx + 1) % n
		}
	}
}
