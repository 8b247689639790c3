package exec

import (
	"context"
	"testing"

	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/query/filter"
	"github.com/cuemby/mercury/pkg/query/join"
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

func mustIntern(t *testing.T, s *storage.Store, term string) types.AtomId {
	t.Helper()
	id, err := s.InternAtom([]byte(term))
	require.NoError(t, err)
	return id
}

func pattern(subj, pred, obj types.Term) types.Pattern {
	return types.Pattern{Graph: types.BoundTerm(types.NoAtom), Subject: subj, Predicate: pred, Object: obj, Temporal: types.Evolution()}
}

func TestSelectStreamsBindings(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("", "alice", "knows", "carol"))

	knows := types.BoundTerm(mustIntern(t, s, "knows"))
	alice := types.BoundTerm(mustIntern(t, s, "alice"))
	objVar := types.VariableId(1)

	q := Query{Kind: KindSelect, Group: join.Group{Required: []types.Pattern{pattern(alice, knows, types.VarTerm(objVar))}}}
	cur, err := Open(context.Background(), s, nil, q)
	require.NoError(t, err)
	defer cur.Close()

	var rows int
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		require.False(t, cur.Current().IsQuad)
		rows++
	}
	require.Equal(t, 2, rows)
}

func TestAskReturnsExactlyOneRowWhenSomethingMatches(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))

	knows := types.BoundTerm(mustIntern(t, s, "knows"))
	alice := types.BoundTerm(mustIntern(t, s, "alice"))

	q := Query{Kind: KindAsk, Group: join.Group{Required: []types.Pattern{pattern(alice, knows, types.VarTerm(1))}}}
	cur, err := Open(context.Background(), s, nil, q)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok, "expected ASK to find a matching row")
}

func TestConstructInstantiatesTemplateFromBindings(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))

	knows := types.BoundTerm(mustIntern(t, s, "knows"))
	alice := types.BoundTerm(mustIntern(t, s, "alice"))
	friend := mustIntern(t, s, "friendOf")
	objVar := types.VariableId(1)

	q := Query{
		Kind:  KindConstruct,
		Group: join.Group{Required: []types.Pattern{pattern(alice, knows, types.VarTerm(objVar))}},
		Templates: []Template{{
			Graph: types.BoundTerm(types.NoAtom), Subject: types.VarTerm(objVar),
			Predicate: types.BoundTerm(friend), Object: alice,
		}},
	}
	cur, err := Open(context.Background(), s, nil, q)
	require.NoError(t, err)
	defer cur.Close()

	ok, err := cur.Next()
	require.NoError(t, err)
	require.True(t, ok)
	row := cur.Current()
	require.True(t, row.IsQuad)
	require.Equal(t, mustIntern(t, s, "bob"), row.Quad.Key.Subject)
	require.Equal(t, friend, row.Quad.Key.Predicate)
}

func TestDescribeReturnsOneHopClosure(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("", "carol", "knows", "alice"))

	q := Query{
		Kind:     KindDescribe,
		Group:    join.Group{},
		Describe: []types.Term{types.BoundTerm(mustIntern(t, s, "alice"))},
	}
	cur, err := Open(context.Background(), s, nil, q)
	require.NoError(t, err)
	defer cur.Close()

	var quads int
	for {
		ok, err := cur.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		quads++
	}
	require.Equal(t, 2, quads, "describe(alice) should return both the quad where alice is subject and where alice is object")
}

// TestFilterPushdownActuallyGatesRows substitutes join.EvaluateStub with
// a real comparison evaluator, the seam pkg/query/join exposes for an
// expression-evaluation collaborator, and checks that a pushed FILTER
// removes rows from the executor's output rather than just computing
// a pushdown level for them.
func TestFilterPushdownActuallyGatesRows(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AddCurrent("", "alice", "knows", "bob"))
	require.NoError(t, s.AddCurrent("", "alice", "knows", "carol"))

	knows := types.BoundTerm(mustIntern(t, s, "knows"))
	alice := types.BoundTerm(mustIntern(t, s, "alice"))
	objVar := filter.HashVariable("obj")
	excluded := mustIntern(t, s, "carol")

	group := join.Group{
		Required: []types.Pattern{pattern(alice, knows, types.VarTerm(objVar))},
		Filters:  []filter.Filter{filter.Analyze(`?obj != "carol"`)},
	}

	countRows := func(q Query) int {
		cur, err := Open(context.Background(), s, nil, q)
		require.NoError(t, err)
		defer cur.Close()
		var rows int
		for {
			ok, err := cur.Next()
			require.NoError(t, err)
			if !ok {
				return rows
			}
			rows++
		}
	}

	original := join.EvaluateStub
	t.Cleanup(func() { join.EvaluateStub = original })

	join.EvaluateStub = func(f filter.Filter, b types.Binding) bool {
		bound, ok := b.Vars[objVar]
		if !ok {
			return true
		}
		return bound != excluded
	}

	filtered := countRows(Query{Kind: KindSelect, Group: group})
	require.Equal(t, 1, filtered, "the pushed filter must exclude the carol binding")

	join.EvaluateStub = func(filter.Filter, types.Binding) bool { return true }
	unfiltered := countRows(Query{Kind: KindSelect, Group: join.Group{Required: group.Required}})
	require.Equal(t, 2, unfiltered, "without the filter both bob and carol bindings must be emitted")

	require.Less(t, filtered, unfiltered, "the filter must strictly reduce emitted rows relative to the same plan without it")
}

func TestCursorCloseIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	q := Query{Kind: KindAsk, Group: join.Group{}}
	cur, err := Open(context.Background(), s, nil, q)
	require.NoError(t, err)
	cur.Close()
	cur.Close()
}
