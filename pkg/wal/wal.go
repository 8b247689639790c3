// Package wal implements the segmented write-ahead log that precedes
// every mutation to the GSPO index. Records are self-delimiting and
// independently verifiable (length prefix, tx id, kind, payload,
// CRC32 trailer); recovery stops at the first bad CRC or truncated
// tail rather than failing the whole replay. The segment-rotation and
// immutable-state-snapshot shape follows the HashiCorp-style WAL used
// for Raft logs, simplified to a single writer and a single reader
// (the store's own recovery pass).
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
)

// RecordKind distinguishes the payload carried by a WAL record.
type RecordKind uint8

const (
	// KindPut is an insertion of a TemporalKey into the GSPO index.
	KindPut RecordKind = iota
	// KindCheckpoint marks a durability boundary; payload is the last
	// applied tx id as 8 little-endian bytes.
	KindCheckpoint
)

// State is the WAL's lifecycle state: Quiescent while idle,
// transitioning through a batch's append/flush/apply, and pinned to
// ReadOnlyFaulted on any I/O failure until the store is reopened.
type State int

const (
	StateQuiescent State = iota
	StateAppendingBatch
	StateFlushedBatch
	StateAppliedBatch
	StateReadOnlyFaulted
)

const (
	recordHeaderSize = 4 + 8 + 1 // len | tx_id | kind
	crcSize          = 4
	defaultSegmentSize = 16 << 20
)

// Record is one decoded WAL entry.
type Record struct {
	TxID    uint64
	Kind    RecordKind
	Payload []byte
}

type segment struct {
	id   uint64
	file *os.File
	size int64
}

// WAL is a segmented, single-writer write-ahead log.
type WAL struct {
	mu sync.Mutex

	dir         string
	segmentSize int64

	segments []*segment
	tail     *segment

	nextTxID      uint64
	lastFlushedTx uint64
	state         atomic.Int32

	bytesSinceCheckpoint int64
	lastCheckpoint       time.Time
}

// Open opens or creates the WAL directory at dir. If segments already
// exist, the caller is expected to call Recover before appending.
func Open(dir string) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating wal directory", err)
	}

	w := &WAL{
		dir:            dir,
		segmentSize:    defaultSegmentSize,
		nextTxID:       1,
		lastCheckpoint: time.Now(),
	}

	ids, err := existingSegmentIDs(dir)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		seg, err := w.createSegment(1)
		if err != nil {
			return nil, err
		}
		w.segments = []*segment{seg}
		w.tail = seg
		return w, nil
	}

	for _, id := range ids {
		f, err := os.OpenFile(segmentPath(dir, id), os.O_RDWR, 0o644)
		if err != nil {
			return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "opening wal segment", err)
		}
		info, err := f.Stat()
		if err != nil {
			return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "stat wal segment", err)
		}
		seg := &segment{id: id, file: f, size: info.Size()}
		w.segments = append(w.segments, seg)
	}
	w.tail = w.segments[len(w.segments)-1]
	return w, nil
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, "wal-"+strconv.FormatUint(id, 10)+".log")
}

func existingSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "reading wal directory", err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var id uint64
		if _, err := parseSegmentName(e.Name(), &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func parseSegmentName(name string, id *uint64) (int, error) {
	const prefix, suffix = "wal-", ".log"
	if len(name) <= len(prefix)+len(suffix) || name[:len(prefix)] != prefix || name[len(name)-len(suffix):] != suffix {
		return 0, mercuryerr.New(mercuryerr.KindInvalidArgument, "not a wal segment name")
	}
	v, err := strconv.ParseUint(name[len(prefix):len(name)-len(suffix)], 10, 64)
	if err != nil {
		return 0, mercuryerr.Wrap(mercuryerr.KindInvalidArgument, "parsing wal segment id", err)
	}
	*id = v
	return 1, nil
}

func (w *WAL) createSegment(id uint64) (*segment, error) {
	f, err := os.OpenFile(segmentPath(w.dir, id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, mercuryerr.Wrap(mercuryerr.KindIoError, "creating wal segment", err)
	}
	return &segment{id: id, file: f}, nil
}

// Append serializes and writes one record to the tail segment. It
// does not fsync; callers must call Flush before relying on
// durability. Returns the assigned tx id.
func (w *WAL) Append(kind RecordKind, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if State(w.state.Load()) == StateReadOnlyFaulted {
		return 0, mercuryerr.New(mercuryerr.KindIoError, "wal is read-only quiesced after a prior failure")
	}
	w.state.Store(int32(StateAppendingBatch))

	txID := w.nextTxID
	buf := make([]byte, recordHeaderSize+len(payload)+crcSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:12], txID)
	buf[12] = byte(kind)
	copy(buf[recordHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+len(payload):], crc)

	if w.tail.size+int64(len(buf)) > w.segmentSize {
		if err := w.rotate(); err != nil {
			w.state.Store(int32(StateReadOnlyFaulted))
			return 0, err
		}
	}

	if _, err := w.tail.file.WriteAt(buf, w.tail.size); err != nil {
		w.state.Store(int32(StateReadOnlyFaulted))
		return 0, mercuryerr.Wrap(mercuryerr.KindIoError, "appending wal record", err)
	}
	w.tail.size += int64(len(buf))
	w.nextTxID++
	w.bytesSinceCheckpoint += int64(len(buf))

	metrics.WALAppendsTotal.Inc()
	metrics.WALBytesWritten.Add(float64(len(buf)))

	return txID, nil
}

func (w *WAL) rotate() error {
	seg, err := w.createSegment(w.tail.id + 1)
	if err != nil {
		return err
	}
	w.segments = append(w.segments, seg)
	w.tail = seg
	return nil
}

// Flush fsyncs the tail segment through the last appended record.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WALFlushDuration)

	if err := w.tail.file.Sync(); err != nil {
		w.state.Store(int32(StateReadOnlyFaulted))
		return mercuryerr.Wrap(mercuryerr.KindIoError, "syncing wal segment", err)
	}
	w.lastFlushedTx = w.nextTxID - 1
	w.state.Store(int32(StateFlushedBatch))
	return nil
}

// MarkApplied transitions the WAL back to Quiescent once the caller
// has applied flushed records to the in-memory B+tree and marked the
// relevant cache pages dirty.
func (w *WAL) MarkApplied() {
	w.state.Store(int32(StateAppliedBatch))
	w.state.Store(int32(StateQuiescent))
}

// ShouldCheckpoint reports whether the size or time threshold for an
// automatic checkpoint has been crossed.
func (w *WAL) ShouldCheckpoint(sizeThreshold int64, interval time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesSinceCheckpoint >= sizeThreshold || time.Since(w.lastCheckpoint) >= interval
}

// Checkpoint writes a checkpoint marker recording lastAppliedTx and
// truncates (deletes) any segments that are now entirely superseded.
func (w *WAL) Checkpoint(lastAppliedTx uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckpointDuration)

	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, lastAppliedTx)

	txID := w.nextTxID
	buf := make([]byte, recordHeaderSize+len(payload)+crcSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(buf[4:12], txID)
	buf[12] = byte(KindCheckpoint)
	copy(buf[recordHeaderSize:], payload)
	crc := crc32.ChecksumIEEE(buf[:recordHeaderSize+len(payload)])
	binary.LittleEndian.PutUint32(buf[recordHeaderSize+len(payload):], crc)

	if _, err := w.tail.file.WriteAt(buf, w.tail.size); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "writing checkpoint record", err)
	}
	w.tail.size += int64(len(buf))
	w.nextTxID++
	if err := w.tail.file.Sync(); err != nil {
		return mercuryerr.Wrap(mercuryerr.KindIoError, "syncing checkpoint record", err)
	}

	// All segments before the tail are now superseded by the
	// checkpoint; they may be truncated since nothing after them can
	// still be needed for recovery.
	if len(w.segments) > 1 {
		for _, seg := range w.segments[:len(w.segments)-1] {
			seg.file.Close()
			os.Remove(segmentPath(w.dir, seg.id))
		}
		w.segments = w.segments[len(w.segments)-1:]
	}

	w.bytesSinceCheckpoint = 0
	w.lastCheckpoint = time.Now()
	metrics.CheckpointsTotal.Inc()
	return nil
}

// Recover replays every record across all segments in tx order,
// invoking apply for each, and stops at the first corrupt or
// truncated record rather than failing outright. It returns the tx id
// of the last record the caller should consider durably applied.
func (w *WAL) Recover(apply func(Record)) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lastGood uint64
	for _, seg := range w.segments {
		info, err := seg.file.Stat()
		if err != nil {
			return lastGood, mercuryerr.Wrap(mercuryerr.KindIoError, "stat wal segment during recovery", err)
		}

		var offset int64
		for offset < info.Size() {
			header := make([]byte, recordHeaderSize)
			if _, err := seg.file.ReadAt(header, offset); err != nil {
				return lastGood, nil // truncated tail: stop at last valid boundary
			}
			payloadLen := binary.LittleEndian.Uint32(header[0:4])
			txID := binary.LittleEndian.Uint64(header[4:12])
			kind := RecordKind(header[12])

			total := recordHeaderSize + int(payloadLen) + crcSize
			if offset+int64(total) > info.Size() {
				return lastGood, nil // truncated tail
			}

			rest := make([]byte, int(payloadLen)+crcSize)
			if _, err := seg.file.ReadAt(rest, offset+recordHeaderSize); err != nil {
				return lastGood, nil
			}
			payload := rest[:payloadLen]
			wantCRC := binary.LittleEndian.Uint32(rest[payloadLen:])

			full := make([]byte, recordHeaderSize+int(payloadLen))
			copy(full, header)
			copy(full[recordHeaderSize:], payload)
			if crc32.ChecksumIEEE(full) != wantCRC {
				return lastGood, nil // bad CRC: stop replay at last valid boundary
			}

			apply(Record{TxID: txID, Kind: kind, Payload: payload})
			lastGood = txID
			if txID >= w.nextTxID {
				w.nextTxID = txID + 1
			}
			offset += int64(total)
		}
	}
	w.state.Store(int32(StateQuiescent))
	return lastGood, nil
}

// State returns the WAL's current lifecycle state.
func (w *WAL) State() State { return State(w.state.Load()) }

// Size returns the total on-disk size, in bytes, of every WAL segment
// still present (checkpointed segments are removed, not just logically
// superseded, so this is the WAL's real footprint, not a high-water mark).
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, seg := range w.segments {
		total += seg.size
	}
	return total
}

// Close syncs and closes all open segments.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, seg := range w.segments {
		if err := seg.file.Sync(); err != nil {
			return mercuryerr.Wrap(mercuryerr.KindIoError, "syncing wal segment on close", err)
		}
		if err := seg.file.Close(); err != nil {
			return mercuryerr.Wrap(mercuryerr.KindIoError, "closing wal segment", err)
		}
	}
	return nil
}
