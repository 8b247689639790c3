package prune

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(t.TempDir(), config.Defaults())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTransferFlattenToCurrentDropsHistoryAndTombstones(t *testing.T) {
	source := openTestStore(t)
	target := openTestStore(t)

	past := time.Now().Add(-1 * time.Hour).UnixNano()
	require.NoError(t, source.Add("", "alice", "age", "20", 0, past))
	require.NoError(t, source.Add("", "alice", "age", "21", past, types.InfiniteTime))
	require.NoError(t, source.Delete("", "bob", "knows", "alice", past))

	result, err := Transfer(context.Background(), source, target, Options{History: FlattenToCurrent, Verify: true})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Transferred, "only the current age fact should survive a flatten")
	require.True(t, result.HashesMatch)
	require.True(t, result.CountsMatch)

	cur, err := target.QueryCurrent("", "alice", "age", "")
	require.NoError(t, err)
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTransferPreserveVersionsKeepsAllNonTombstones(t *testing.T) {
	source := openTestStore(t)
	target := openTestStore(t)

	now := time.Now().UnixNano()
	require.NoError(t, source.Add("", "alice", "age", "20", 0, now))
	require.NoError(t, source.Add("", "alice", "age", "21", now, types.InfiniteTime))
	require.NoError(t, source.Delete("", "bob", "knows", "alice", now)) // tombstone-only fact

	result, err := Transfer(context.Background(), source, target, Options{History: PreserveVersions})
	require.NoError(t, err)
	require.Equal(t, uint64(2), result.Transferred)

	cur, err := target.QueryEvolution("", "alice", "age", "")
	require.NoError(t, err)
	var count int
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, 2, count)
}

func TestDryRunNeverWritesTarget(t *testing.T) {
	source := openTestStore(t)
	target := openTestStore(t)
	require.NoError(t, source.AddCurrent("", "alice", "knows", "bob"))

	result, err := Transfer(context.Background(), source, target, Options{History: FlattenToCurrent, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Transferred)
	require.Equal(t, uint64(0), target.Statistics().Quads, "a dry run must never write the target")
}

func TestFilterExcludesMatchingGraphsAndPredicates(t *testing.T) {
	source := openTestStore(t)
	target := openTestStore(t)
	require.NoError(t, source.AddCurrent("", "alice", "secret", "x"))
	require.NoError(t, source.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, source.AddCurrent("quarantine", "carol", "knows", "dave"))

	filter := And(ExcludeGraphs(map[string]bool{"quarantine": true}), ExcludePredicates(map[string]bool{"secret": true}))
	result, err := Transfer(context.Background(), source, target, Options{History: PreserveVersions, Filter: filter})
	require.NoError(t, err)
	require.Equal(t, uint64(1), result.Transferred)
	require.Equal(t, uint64(2), result.Filtered)
}
