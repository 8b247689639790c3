package storage

import (
	"sort"
	"time"

	"github.com/cuemby/mercury/pkg/btree"
	"github.com/cuemby/mercury/pkg/types"
)

// QuadCursor streams matching quads in GSPO index order. It wraps a
// raw btree.Cursor with a post-scan temporal/position filter, since a
// bound predicate or object that isn't part of the scanned prefix
// still has to be checked entry by entry.
//
// ModeCurrent, ModeAsOf and ModeRange additionally resolve competing
// versions of the same (graph, subject, predicate, object): a Delete
// and a bitemporal correction both land as a distinct TemporalKey
// rather than closing out the prior entry's ValidTo, so more than one
// entry for the same fact can be valid at the same instant. The index
// is graph-fixed and GSPO-ordered, so every entry sharing (S, P, O)
// arrives contiguously; resolve groups each such run, clusters the
// entries whose valid intervals mutually overlap the query window,
// and keeps only the highest-TxnTime entry per cluster, dropping it
// entirely if that entry is a tombstone. ModeEvolution and ModeAll
// need the raw, uncollapsed history (audit trail and bulk transfer,
// respectively) and bypass resolution.
type QuadCursor struct {
	inner     *btree.Cursor
	subject   *types.AtomId
	pred      *types.AtomId
	object    *types.AtomId
	temporal  types.Temporal
	exhausted bool

	resolve   bool
	lookahead *types.Quad
	pending   []types.Quad
	current   types.Quad
}

func (c *QuadCursor) matches(k types.TemporalKey) bool {
	if c.subject != nil && k.Subject != *c.subject {
		return false
	}
	if c.pred != nil && k.Predicate != *c.pred {
		return false
	}
	if c.object != nil && k.Object != *c.object {
		return false
	}
	return true
}

// needsResolution reports whether mode requires cross-version
// resolution rather than a raw per-entry pass-through.
func needsResolution(mode types.TemporalMode) bool {
	switch mode {
	case types.ModeCurrent, types.ModeAsOf, types.ModeRange:
		return true
	default:
		return false
	}
}

// sameFact reports whether a and b name the same (subject, predicate,
// object), ignoring their temporal fields.
func sameFact(a, b types.TemporalKey) bool {
	return a.Subject == b.Subject && a.Predicate == b.Predicate && a.Object == b.Object
}

// resolveOverlappingVersions clusters group (all entries sharing one
// (subject, predicate, object)) by mutual valid-interval overlap
// within [t1, t2), and keeps the highest-TxnTime entry of each
// cluster unless that entry is a tombstone. Entries whose interval
// doesn't touch [t1, t2) at all are dropped before clustering.
func resolveOverlappingVersions(group []types.Quad, t1, t2 int64) []types.Quad {
	candidates := make([]types.Quad, 0, len(group))
	for _, q := range group {
		if q.Key.Overlaps(t1, t2) {
			candidates = append(candidates, q)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Key.ValidFrom < candidates[j].Key.ValidFrom
	})

	var result []types.Quad
	flush := func(start, end int, clusterMaxTo int64) {
		winner := candidates[start]
		for i := start + 1; i < end; i++ {
			if candidates[i].Key.TxnTime > winner.Key.TxnTime {
				winner = candidates[i]
			}
		}
		if !winner.Tombstone {
			result = append(result, winner)
		}
	}

	clusterStart := 0
	clusterMaxTo := candidates[0].Key.ValidTo
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Key.ValidFrom < clusterMaxTo {
			if candidates[i].Key.ValidTo > clusterMaxTo {
				clusterMaxTo = candidates[i].Key.ValidTo
			}
			continue
		}
		flush(clusterStart, i, clusterMaxTo)
		clusterStart = i
		clusterMaxTo = candidates[i].Key.ValidTo
	}
	flush(clusterStart, len(candidates), clusterMaxTo)
	return result
}

// advanceRaw returns the next position-matching raw entry, consuming
// the stashed lookahead (if any) before pulling from inner.
func (c *QuadCursor) advanceRaw() (types.Quad, bool, error) {
	if c.lookahead != nil {
		q := *c.lookahead
		c.lookahead = nil
		return q, true, nil
	}
	for {
		ok, err := c.inner.Next()
		if err != nil {
			return types.Quad{}, false, err
		}
		if !ok {
			return types.Quad{}, false, nil
		}
		k := c.inner.Key()
		if !c.matches(k) {
			continue
		}
		return types.Quad{Key: k, Tombstone: c.inner.Tombstone()}, true, nil
	}
}

// fillNextGroup collects the next contiguous run of same-(S,P,O)
// entries, resolves it against the cursor's temporal window, and
// appends the surviving entries (0 or more) to pending. It returns
// false once the underlying scan is exhausted.
func (c *QuadCursor) fillNextGroup() (bool, error) {
	first, ok, err := c.advanceRaw()
	if err != nil || !ok {
		return false, err
	}
	group := []types.Quad{first}
	for {
		q, ok, err := c.advanceRaw()
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if !sameFact(q.Key, first.Key) {
			c.lookahead = &q
			break
		}
		group = append(group, q)
	}

	var t1, t2 int64
	switch c.temporal.Mode {
	case types.ModeCurrent, types.ModeAsOf:
		t1, t2 = c.temporal.T1, c.temporal.T1+1
	case types.ModeRange:
		t1, t2 = c.temporal.T1, c.temporal.T2
	}
	c.pending = append(c.pending, resolveOverlappingVersions(group, t1, t2)...)
	return true, nil
}

// Next advances to the next quad satisfying the pattern and temporal
// predicate, returning false when exhausted.
func (c *QuadCursor) Next() (bool, error) {
	if c.exhausted {
		return false, nil
	}
	if !c.resolve {
		for {
			ok, err := c.inner.Next()
			if err != nil {
				return false, err
			}
			if !ok {
				c.exhausted = true
				return false, nil
			}
			k := c.inner.Key()
			if !c.matches(k) {
				continue
			}
			q := types.Quad{Key: k, Tombstone: c.inner.Tombstone()}
			if c.temporal.Matches(q) {
				c.current = q
				return true, nil
			}
		}
	}
	for {
		if len(c.pending) > 0 {
			c.current = c.pending[0]
			c.pending = c.pending[1:]
			return true, nil
		}
		more, err := c.fillNextGroup()
		if err != nil {
			return false, err
		}
		if !more {
			c.exhausted = true
			return false, nil
		}
	}
}

// Current returns the quad at the cursor's current position.
func (c *QuadCursor) Current() types.Quad {
	return c.current
}

// scanRange builds the lower/upper TemporalKey bounds for the widest
// contiguous bound prefix starting at graph. Fields after the first
// unbound one are left at their zero/max extremes.
func scanRange(graph types.AtomId, subject, predicate, object *types.AtomId) (lower, upper types.TemporalKey) {
	lower = types.TemporalKey{Graph: graph}
	upper = types.TemporalKey{Graph: graph, Subject: types.AtomId(^uint64(0)), Predicate: types.AtomId(^uint64(0)),
		Object: types.AtomId(^uint64(0)), ValidFrom: types.InfiniteTime, ValidTo: types.InfiniteTime, TxnTime: types.InfiniteTime}

	if subject == nil {
		return lower, upper
	}
	lower.Subject, upper.Subject = *subject, *subject

	if predicate == nil {
		return lower, upper
	}
	lower.Predicate, upper.Predicate = *predicate, *predicate

	if object == nil {
		return lower, upper
	}
	lower.Object, upper.Object = *object, *object

	return lower, upper
}

// Scan exposes the raw GSPO range scan to the query engine: graph is
// always a concrete id (callers apply the default-graph isolation
// rule themselves), subject/predicate/object are nil for wildcard.
func (s *Store) Scan(graph types.AtomId, subject, predicate, object *types.AtomId, temporal types.Temporal) (*QuadCursor, error) {
	return s.scan(graph, subject, predicate, object, temporal)
}

func (s *Store) scan(graph types.AtomId, subject, predicate, object *types.AtomId, temporal types.Temporal) (*QuadCursor, error) {
	lower, upper := scanRange(graph, subject, predicate, object)
	cur, err := s.tree.RangeScan(lower, upper)
	if err != nil {
		return nil, err
	}
	return &QuadCursor{inner: cur, subject: subject, pred: predicate, object: object, temporal: temporal,
		resolve: needsResolution(temporal.Mode)}, nil
}

// ScanAll iterates the entire index in GSPO order, including
// tombstones, regardless of graph. This is for bulk transfer
// (pruning), never for pattern queries, which stay graph-isolated.
func (s *Store) ScanAll() (*QuadCursor, error) {
	lower := types.TemporalKey{}
	upper := types.TemporalKey{Graph: types.AtomId(^uint64(0)), Subject: types.AtomId(^uint64(0)),
		Predicate: types.AtomId(^uint64(0)), Object: types.AtomId(^uint64(0)),
		ValidFrom: types.InfiniteTime, ValidTo: types.InfiniteTime, TxnTime: types.InfiniteTime}
	cur, err := s.tree.RangeScan(lower, upper)
	if err != nil {
		return nil, err
	}
	return &QuadCursor{inner: cur, temporal: types.Temporal{Mode: types.ModeAll}}, nil
}

// ResolveAtom exposes atom resolution for callers (pruning, query
// executor output) that need to turn an id back into lexical bytes.
func (s *Store) ResolveAtom(id types.AtomId) ([]byte, error) {
	return s.atoms.Resolve(id)
}

// InternAtom exposes atom interning for callers (pruning transfer
// writing into a target store) without going through Add/Delete.
func (s *Store) InternAtom(term []byte) (types.AtomId, error) {
	return s.atoms.Intern(term)
}

// resolveWild interns term if non-empty and returns a pointer to the
// resulting AtomId, or nil if term is the empty string (wildcard).
func (s *Store) resolveWild(term string) (*types.AtomId, error) {
	if term == "" {
		return nil, nil
	}
	id, err := s.atoms.Intern([]byte(term))
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Store) graphID(graph string) (types.AtomId, error) {
	if graph == "" {
		return types.NoAtom, nil
	}
	return s.atoms.Intern([]byte(graph))
}

// QueryAsOf returns all quads matching the (possibly wildcard)
// pattern that are valid at instant t.
func (s *Store) QueryAsOf(graph, subject, predicate, object string, t int64) (*QuadCursor, error) {
	g, err := s.graphID(graph)
	if err != nil {
		return nil, err
	}
	subj, err := s.resolveWild(subject)
	if err != nil {
		return nil, err
	}
	pred, err := s.resolveWild(predicate)
	if err != nil {
		return nil, err
	}
	obj, err := s.resolveWild(object)
	if err != nil {
		return nil, err
	}
	return s.scan(g, subj, pred, obj, types.AsOf(t))
}

// QueryCurrent is QueryAsOf evaluated at the present instant.
func (s *Store) QueryCurrent(graph, subject, predicate, object string) (*QuadCursor, error) {
	return s.QueryAsOf(graph, subject, predicate, object, time.Now().UnixNano())
}

// QueryChanges returns all quads whose valid interval overlaps [t1, t2].
func (s *Store) QueryChanges(graph, subject, predicate, object string, t1, t2 int64) (*QuadCursor, error) {
	g, err := s.graphID(graph)
	if err != nil {
		return nil, err
	}
	subj, err := s.resolveWild(subject)
	if err != nil {
		return nil, err
	}
	pred, err := s.resolveWild(predicate)
	if err != nil {
		return nil, err
	}
	obj, err := s.resolveWild(object)
	if err != nil {
		return nil, err
	}
	return s.scan(g, subj, pred, obj, types.TimeRange(t1, t2))
}

// QueryEvolution returns every non-tombstone version of the pattern,
// in ascending valid_from order. Index order alone gives that only
// within one (subject, predicate, object), so the matching versions are
// collected and sorted before the cursor is returned.
func (s *Store) QueryEvolution(graph, subject, predicate, object string) (*QuadCursor, error) {
	g, err := s.graphID(graph)
	if err != nil {
		return nil, err
	}
	subj, err := s.resolveWild(subject)
	if err != nil {
		return nil, err
	}
	pred, err := s.resolveWild(predicate)
	if err != nil {
		return nil, err
	}
	obj, err := s.resolveWild(object)
	if err != nil {
		return nil, err
	}
	cur, err := s.scan(g, subj, pred, obj, types.Evolution())
	if err != nil {
		return nil, err
	}
	var versions []types.Quad
	ok, err := cur.Next()
	for ; ok && err == nil; ok, err = cur.Next() {
		versions = append(versions, cur.Current())
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].Key.ValidFrom < versions[j].Key.ValidFrom })
	// The inner cursor is drained, so Next serves only the sorted pending list.
	return &QuadCursor{inner: cur.inner, temporal: types.Evolution(), resolve: true, pending: versions}, nil
}

// GetNamedGraphs returns the deduplicated set of non-default graph
// IRIs that hold at least one non-tombstone index entry (a graph whose
// facts have all been deleted is still listed). This walks the
// full index rather than consulting a maintained secondary set.
func (s *Store) GetNamedGraphs() ([]string, error) {
	cur, err := s.tree.RangeScan(
		types.TemporalKey{},
		types.TemporalKey{Graph: types.AtomId(^uint64(0)), Subject: types.AtomId(^uint64(0)),
			Predicate: types.AtomId(^uint64(0)), Object: types.AtomId(^uint64(0)),
			ValidFrom: types.InfiniteTime, ValidTo: types.InfiniteTime, TxnTime: types.InfiniteTime})
	if err != nil {
		return nil, err
	}

	seen := map[types.AtomId]bool{types.NoAtom: true}
	var graphs []string
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		k := cur.Key()
		if cur.Tombstone() || seen[k.Graph] {
			continue
		}
		seen[k.Graph] = true
		iri, err := s.atoms.Resolve(k.Graph)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, string(iri))
	}
	return graphs, nil
}
