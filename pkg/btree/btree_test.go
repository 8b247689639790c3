package btree

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/mercury/pkg/pagecache"
	"github.com/cuemby/mercury/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestTree(t *testing.T) (*Tree, *pagecache.Cache) {
	t.Helper()
	cache, err := pagecache.Open(filepath.Join(t.TempDir(), "gspo.tdb"), 4096, 16)
	require.NoError(t, err)
	tree, err := Open(cache)
	require.NoError(t, err)
	return tree, cache
}

func key(s, p, o types.AtomId, validFrom int64) types.TemporalKey {
	return types.TemporalKey{Subject: s, Predicate: p, Object: o, ValidFrom: validFrom, ValidTo: types.InfiniteTime}
}

func TestInsertThenRangeScanReturnsSortedKeys(t *testing.T) {
	tree, cache := openTestTree(t)
	defer cache.Close()

	k1 := key(3, 1, 1, 0)
	k2 := key(1, 1, 1, 0)
	k3 := key(2, 1, 1, 0)
	for _, k := range []types.TemporalKey{k1, k2, k3} {
		inserted, err := tree.Insert(k, false, 0)
		require.NoError(t, err)
		require.True(t, inserted)
	}

	cur, err := tree.RangeScan(key(0, 0, 0, 0), key(^types.AtomId(0), 0, 0, types.InfiniteTime))
	require.NoError(t, err)

	var subjects []types.AtomId
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		subjects = append(subjects, cur.Key().Subject)
	}
	require.Equal(t, []types.AtomId{1, 2, 3}, subjects, "range scan must return entries in ascending GSPO order")
}

func TestInsertDuplicateKeyIsANoOp(t *testing.T) {
	tree, cache := openTestTree(t)
	defer cache.Close()

	k := key(1, 1, 1, 0)
	inserted, err := tree.Insert(k, false, 42)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = tree.Insert(k, false, 99)
	require.NoError(t, err)
	require.False(t, inserted, "an identical GSPO+temporal key must not be inserted twice")
	require.Equal(t, uint64(1), tree.Stats().Entries)
}

func TestInsertPastLeafCapacityTriggersSplit(t *testing.T) {
	tree, cache := openTestTree(t)
	defer cache.Close()

	for i := 0; i < 500; i++ {
		_, err := tree.Insert(key(types.AtomId(i), 1, 1, 0), false, uint64(i))
		require.NoError(t, err)
	}

	stats := tree.Stats()
	require.Equal(t, uint64(500), stats.Entries)
	require.Greater(t, stats.Pages, uint64(2), "500 entries must overflow a single leaf page (header page plus one root leaf)")

	cur, err := tree.RangeScan(key(0, 0, 0, 0), key(999, 0, 0, types.InfiniteTime))
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
	require.Equal(t, 500, count, "every inserted entry must still be reachable after splits")
}

func TestTombstoneFlagRoundTripsThroughInsertAndScan(t *testing.T) {
	tree, cache := openTestTree(t)
	defer cache.Close()

	_, err := tree.Insert(key(1, 1, 1, 0), true, 7)
	require.NoError(t, err)

	cur, err := tree.RangeScan(key(0, 0, 0, 0), key(999, 0, 0, types.InfiniteTime))
	require.NoError(t, err)
	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, cur.Tombstone())
	require.Equal(t, uint64(7), cur.Value())
}

func TestReopenRecoversHeaderState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gspo.tdb")
	cache, err := pagecache.Open(path, 4096, 16)
	require.NoError(t, err)
	tree, err := Open(cache)
	require.NoError(t, err)
	_, err = tree.Insert(key(1, 1, 1, 0), false, 5)
	require.NoError(t, err)
	require.NoError(t, tree.SetCheckpoint(3))
	require.NoError(t, cache.Close())

	cache2, err := pagecache.Open(path, 4096, 16)
	require.NoError(t, err)
	defer cache2.Close()
	tree2, err := Open(cache2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), tree2.Stats().Entries, "reopening must recover the entry count from the header")
}
