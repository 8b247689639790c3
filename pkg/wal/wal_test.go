package wal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIncreasingTxIDs(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	tx1, err := w.Append(KindPut, []byte("one"))
	require.NoError(t, err)
	tx2, err := w.Append(KindPut, []byte("two"))
	require.NoError(t, err)
	require.Equal(t, tx1+1, tx2)
}

func TestFlushTransitionsStateToFlushedBatch(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Append(KindPut, []byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.Equal(t, StateFlushedBatch, w.State())

	w.MarkApplied()
	require.Equal(t, StateQuiescent, w.State())
}

func TestRecoverReplaysAppendedRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	_, err = w.Append(KindPut, []byte("first"))
	require.NoError(t, err)
	_, err = w.Append(KindPut, []byte("second"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	w2, err := Open(dir)
	require.NoError(t, err)
	defer w2.Close()

	var payloads []string
	last, err := w2.Recover(func(r Record) {
		payloads = append(payloads, string(r.Payload))
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, payloads)
	require.Equal(t, uint64(2), last)
}

func TestRecoverStopsAtTruncatedTail(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	_, err = w.Append(KindPut, []byte("good"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	tail := w.tail.file
	info, err := tail.Stat()
	require.NoError(t, err)
	require.NoError(t, tail.Truncate(info.Size()-2))
	require.NoError(t, w.Close())

	w2, err := Open(dir)
	require.NoError(t, err)
	defer w2.Close()

	var replayed int
	last, err := w2.Recover(func(r Record) { replayed++ })
	require.NoError(t, err, "a truncated tail must not fail recovery")
	require.Equal(t, 0, replayed, "the only record was truncated and must not be replayed")
	require.Equal(t, uint64(0), last)
}

func TestCheckpointRemovesSupersededSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir)
	require.NoError(t, err)
	defer w.Close()

	w.segmentSize = recordHeaderSize + 10 + crcSize // force a rotation after one small record
	tx1, err := w.Append(KindPut, []byte("0123456789"))
	require.NoError(t, err)
	_, err = w.Append(KindPut, []byte("0123456789"))
	require.NoError(t, err)
	require.Len(t, w.segments, 2, "the second append should have rotated into a new segment")

	require.NoError(t, w.Checkpoint(tx1))
	require.Len(t, w.segments, 1, "checkpoint must prune segments entirely superseded by it")
}

func TestShouldCheckpointHonorsSizeThreshold(t *testing.T) {
	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.ShouldCheckpoint(1<<20, time.Hour))
	_, err = w.Append(KindPut, []byte("0123456789"))
	require.NoError(t, err)
	require.True(t, w.ShouldCheckpoint(5, time.Hour), "bytes written since the last checkpoint exceed the threshold")
}
