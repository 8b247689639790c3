// Package scan streams the matches of a single triple pattern against
// a quad store, extending an input binding table with any variables
// the pattern leaves unbound. It is the leaf operator of the join
// pipeline in pkg/query/join.
package scan

import (
	"github.com/cuemby/mercury/pkg/log"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
)

// Scanner streams bindings that satisfy one pattern, given an input
// binding already carrying values for variables bound by earlier
// patterns in the join order.
type Scanner struct {
	store   *storage.Store
	pattern types.Pattern
	input   types.Binding

	cursor *storage.QuadCursor

	// graphVar/subjectVar/... are the variable ids still unbound going
	// into the scan, or false if the position was already resolved.
	graphVar, subjectVar, predicateVar, objectVar types.VariableId
	hasGraphVar, hasSubjectVar, hasPredicateVar, hasObjectVar bool
}

// New builds a scanner for pattern given the bindings already produced
// by earlier patterns. Terms are resolved to atom ids directly from
// the pattern (bound terms) or from input (variables already bound by
// an earlier pattern); variables with no value yet are left wildcard.
func New(store *storage.Store, pattern types.Pattern, input types.Binding) (*Scanner, error) {
	graph, hasGraphVar, graphVar := resolveGraph(pattern.Graph, input)
	subject, hasSubjectVar, subjectVar := resolveTerm(pattern.Subject, input)
	predicate, hasPredicateVar, predicateVar := resolveTerm(pattern.Predicate, input)
	object, hasObjectVar, objectVar := resolveTerm(pattern.Object, input)

	cursor, err := store.Scan(graph, subject, predicate, object, pattern.Temporal)
	if err != nil {
		return nil, err
	}

	return &Scanner{
		store: store, pattern: pattern, input: input, cursor: cursor,
		graphVar: graphVar, hasGraphVar: hasGraphVar,
		subjectVar: subjectVar, hasSubjectVar: hasSubjectVar,
		predicateVar: predicateVar, hasPredicateVar: hasPredicateVar,
		objectVar: objectVar, hasObjectVar: hasObjectVar,
	}, nil
}

// resolveGraph applies graph isolation: an unbound, unresolved graph
// position scans only the default graph, never "all graphs".
func resolveGraph(t types.Term, input types.Binding) (graph types.AtomId, hasVar bool, v types.VariableId) {
	if t.Bound {
		return t.Atom, false, 0
	}
	if bound, ok := input.Vars[t.Variable]; ok {
		return bound, false, 0
	}
	return types.NoAtom, true, t.Variable
}

func resolveTerm(t types.Term, input types.Binding) (atom *types.AtomId, hasVar bool, v types.VariableId) {
	if t.Bound {
		a := t.Atom
		return &a, false, 0
	}
	if bound, ok := input.Vars[t.Variable]; ok {
		return &bound, false, 0
	}
	return nil, true, t.Variable
}

// Next advances the scanner and, on success, returns a binding
// extending input with every variable this pattern newly resolves.
// It returns false when the underlying index range is exhausted.
func (s *Scanner) Next() (types.Binding, bool, error) {
	for {
		ok, err := s.cursor.Next()
		if err != nil {
			return types.Binding{}, false, err
		}
		if !ok {
			return types.Binding{}, false, nil
		}
		metrics.PatternScansTotal.Inc()

		q := s.cursor.Current()
		out, consistent := s.extend(q)
		if consistent {
			return out, true, nil
		}
		// same variable appears twice in the pattern (e.g. ?x ex:p ?x)
		// and this quad's two occurrences disagree — skip it.
	}
}

func (s *Scanner) extend(q types.Quad) (types.Binding, bool) {
	out := s.input.Clone()
	out.ValidFrom = q.Key.ValidFrom
	out.ValidTo = q.Key.ValidTo
	out.TxnTime = q.Key.TxnTime

	ok := true
	ok = bindOrCheck(out, s.hasGraphVar, s.graphVar, q.Key.Graph) && ok
	ok = bindOrCheck(out, s.hasSubjectVar, s.subjectVar, q.Key.Subject) && ok
	ok = bindOrCheck(out, s.hasPredicateVar, s.predicateVar, q.Key.Predicate) && ok
	ok = bindOrCheck(out, s.hasObjectVar, s.objectVar, q.Key.Object) && ok
	return out, ok
}

func bindOrCheck(b types.Binding, hasVar bool, v types.VariableId, value types.AtomId) bool {
	if !hasVar {
		return true
	}
	if existing, ok := b.Vars[v]; ok {
		return existing == value
	}
	b.Vars[v] = value
	return true
}

// Close releases resources held by the scanner. Pattern scans do not
// own the store's read lock; the caller (query executor) holds it for
// the query's lifetime.
func (s *Scanner) Close() {
	log.Logger.Debug().Msg("pattern scan closed")
}
