package storage

import (
	"testing"
	"time"

	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), config.Defaults())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func drain(t *testing.T, cur *QuadCursor) []types.Quad {
	t.Helper()
	var out []types.Quad
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, cur.Current())
	}
}

func TestAddThenQueryCurrentIsExact(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("", "alice", "knows", "carol"))

	cur, err := s.QueryCurrent("", "alice", "knows", "")
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 2)
}

func TestDeleteTombstonesAFact(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.Delete("", "alice", "knows", "bob", time.Now().UnixNano()))

	cur, err := s.QueryCurrent("", "alice", "knows", "bob")
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Empty(t, quads, "a deleted fact must not appear in a current query")
}

func TestQueryEvolutionOrdersByAscendingValidFrom(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add("", "alice", "age", "20", 100, 200))
	require.NoError(t, s.Add("", "alice", "age", "21", 200, 300))
	require.NoError(t, s.Add("", "alice", "age", "19", 0, 100))

	cur, err := s.QueryEvolution("", "alice", "age", "")
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 3)
	for i := 1; i < len(quads); i++ {
		require.LessOrEqual(t, quads[i-1].Key.ValidFrom, quads[i].Key.ValidFrom)
	}
}

func TestAsOfReturnsExactSetValidAtInstant(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add("", "alice", "age", "20", 0, 100))
	require.NoError(t, s.Add("", "alice", "age", "21", 100, 200))

	cur, err := s.QueryAsOf("", "alice", "age", "", 50)
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 1)

	obj, err := s.ResolveAtom(quads[0].Key.Object)
	require.NoError(t, err)
	require.Equal(t, "20", string(obj))
}

func TestAsOfCollapsesOverlappingCorrectionToLatestVersion(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Add("", "alice", "worksFor", "acme", 2020, 2023))
	// A correction narrowing the ValidTo, written later, must win: at the
	// probe instant both entries are still valid, but only the higher
	// TxnTime one should be reported.
	require.NoError(t, s.Add("", "alice", "worksFor", "acme", 2020, 2022))

	cur, err := s.QueryAsOf("", "alice", "worksFor", "acme", 2021)
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 1, "overlapping corrected versions of the same fact must collapse to exactly one result")
}

func TestDeleteAfterCorrectionStillTombstonesTheFact(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.Delete("", "alice", "knows", "bob", time.Now().UnixNano()))

	cur, err := s.QueryCurrent("", "alice", "knows", "bob")
	require.NoError(t, err)
	require.Empty(t, drain(t, cur), "the most recent write for a fact being a tombstone must suppress every earlier overlapping version")
}

func TestBatchRollbackLeavesStoreUnchanged(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	before := s.Statistics()

	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.BatchAdd("", "alice", "knows", "dave", time.Now().UnixNano(), types.InfiniteTime))
	require.NoError(t, s.RollbackBatch())

	after := s.Statistics()
	require.Equal(t, before.Quads, after.Quads, "rollback must not change the quad count")

	cur, err := s.QueryCurrent("", "alice", "knows", "dave")
	require.NoError(t, err)
	require.Empty(t, drain(t, cur))
}

func TestCommitBatchAppliesAllWritesAtomically(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.BatchAdd("", "a", "p", "1", 0, types.InfiniteTime))
	require.NoError(t, s.BatchAdd("", "a", "p", "2", 0, types.InfiniteTime))
	require.NoError(t, s.CommitBatch())

	cur, err := s.QueryCurrent("", "a", "p", "")
	require.NoError(t, err)
	require.Len(t, drain(t, cur), 2)
}

func TestAtomRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InternAtom([]byte("http://example.org/alice"))
	require.NoError(t, err)
	back, err := s.ResolveAtom(id)
	require.NoError(t, err)
	require.Equal(t, "http://example.org/alice", string(back))
}

func TestGraphIsolationDefaultGraphNeverLeaksNamedGraphQuads(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("graph1", "alice", "knows", "carol"))

	cur, err := s.QueryCurrent("", "alice", "knows", "")
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 1, "an unbound graph position in a pattern query must stay scoped to the default graph")
}

func TestScanAllSeesEveryGraphIncludingTombstones(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("graph1", "alice", "knows", "carol"))
	require.NoError(t, s.Delete("", "alice", "knows", "bob", time.Now().UnixNano()))

	cur, err := s.ScanAll()
	require.NoError(t, err)
	quads := drain(t, cur)
	require.Len(t, quads, 3, "ScanAll must see every graph and the tombstone")
}

func TestGetNamedGraphsExcludesDefaultGraph(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("graph1", "alice", "knows", "carol"))

	graphs, err := s.GetNamedGraphs()
	require.NoError(t, err)
	require.Equal(t, []string{"graph1"}, graphs)
}

func TestCheckpointThenReopenRecoversAppliedWrites(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, config.Defaults())
	require.NoError(t, err)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.Checkpoint())
	require.NoError(t, s.Close())

	reopened, err := Open(dir, config.Defaults())
	require.NoError(t, err)
	defer reopened.Close()

	cur, err := reopened.QueryCurrent("", "alice", "knows", "bob")
	require.NoError(t, err)
	require.Len(t, drain(t, cur), 1)
}
