package atom

import (
	"testing"

	"github.com/cuemby/mercury/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestInternIsIdempotentWithinASession(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id1, err := s.Intern([]byte("alice"))
	require.NoError(t, err)
	id2, err := s.Intern([]byte("alice"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, uint64(1), s.Count())
}

func TestInternAssignsDistinctIdsToDistinctTerms(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id1, err := s.Intern([]byte("alice"))
	require.NoError(t, err)
	id2, err := s.Intern([]byte("bob"))
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.Equal(t, uint64(2), s.Count())
}

func TestResolveReturnsOriginalBytes(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Intern([]byte("hello world"))
	require.NoError(t, err)

	term, err := s.Resolve(id)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(term))
}

func TestResolveUnknownIdFails(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Resolve(types.AtomId(999))
	require.Error(t, err)
}

func TestResolveNoAtomFails(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Resolve(types.NoAtom)
	require.Error(t, err)
}

func TestInternSurvivesCloseAndReopenByReplayingPayloadLog(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	id, err := s.Intern([]byte("persistent"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	term, err := reopened.Resolve(id)
	require.NoError(t, err)
	require.Equal(t, "persistent", string(term))

	reinterned, err := reopened.Intern([]byte("persistent"))
	require.NoError(t, err)
	require.Equal(t, id, reinterned, "re-interning after reopen must recover the same id from the replayed log")
}

func TestInternGrowsIndexPastLoadFactor(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ids := make(map[types.AtomId]bool)
	for i := 0; i < 2000; i++ {
		id, err := s.Intern([]byte{byte(i), byte(i >> 8), byte(i >> 16)})
		require.NoError(t, err)
		ids[id] = true
	}
	require.Len(t, ids, 2000, "every interned term beyond the initial bucket count must still get a unique id")
}
