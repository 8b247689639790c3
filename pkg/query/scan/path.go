package scan

import (
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
)

// PathKind selects one of the minimum set of property path operators.
type PathKind int

const (
	PathDirect      PathKind = iota // P
	PathInverse                     // ^P
	PathZeroOrMore                  // P*
	PathOneOrMore                   // P+
	PathZeroOrOne                   // P?
)

// PropertyPath is a single-predicate path expression. Paths never
// create or emit new atoms; they only traverse existing edges.
type PropertyPath struct {
	Kind      PathKind
	Predicate types.AtomId
}

// PathPattern is a triple pattern whose predicate position is a
// property path rather than a single bound/variable term.
type PathPattern struct {
	Graph    types.Term
	Subject  types.Term
	Path     PropertyPath
	Object   types.Term
	Temporal types.Temporal
}

// PathScanner streams bindings satisfying a property path pattern.
type PathScanner struct {
	store *storage.Store
	pat   PathPattern
	input types.Binding

	results []types.Binding
	pos     int
}

// NewPath builds a path scanner. Traversal for P*/P+ requires a
// concrete starting subject; when the subject is itself unbound, this
// seeds candidate subjects with a wildcard scan over the path's base
// predicate and computes the closure per candidate.
func NewPath(store *storage.Store, pat PathPattern, input types.Binding) (*PathScanner, error) {
	graph, hasGraphVar, graphVar := resolveGraph(pat.Graph, input)
	subjectAtom, hasSubjectVar, subjectVar := resolveTerm(pat.Subject, input)
	objectAtom, hasObjectVar, objectVar := resolveTerm(pat.Object, input)

	var subjects []types.AtomId
	if subjectAtom != nil {
		subjects = []types.AtomId{*subjectAtom}
	} else {
		seeds, err := seedSubjects(store, graph, pat.Path.Predicate, pat.Path.Kind)
		if err != nil {
			return nil, err
		}
		subjects = seeds
	}

	pred := pat.Path.Predicate
	var results []types.Binding
	for _, subj := range subjects {
		reached, err := closure(store, graph, subj, pred, pat.Path.Kind)
		if err != nil {
			return nil, err
		}
		for _, obj := range reached {
			if objectAtom != nil && obj != *objectAtom {
				continue
			}
			out := input.Clone()
			ok := true
			ok = bindOrCheck(out, hasGraphVar, graphVar, graph) && ok
			ok = bindOrCheck(out, hasSubjectVar, subjectVar, subj) && ok
			ok = bindOrCheck(out, hasObjectVar, objectVar, obj) && ok
			if ok {
				results = append(results, out)
			}
		}
	}

	return &PathScanner{store: store, pat: pat, input: input, results: results}, nil
}

// Next returns the next binding in the closure, or false when exhausted.
func (p *PathScanner) Next() (types.Binding, bool, error) {
	if p.pos >= len(p.results) {
		return types.Binding{}, false, nil
	}
	b := p.results[p.pos]
	p.pos++
	return b, true, nil
}

// seedSubjects enumerates distinct subjects reachable by scanning the
// path's base predicate in either direction, used only when the
// pattern's subject position is unbound.
func seedSubjects(store *storage.Store, graph, predicate types.AtomId, kind PathKind) ([]types.AtomId, error) {
	pred := predicate
	cur, err := store.Scan(graph, nil, &pred, nil, types.Evolution())
	if err != nil {
		return nil, err
	}
	seen := map[types.AtomId]bool{}
	var subjects []types.AtomId
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		q := cur.Current()
		start := q.Key.Subject
		if kind == PathInverse {
			start = q.Key.Object
		}
		if !seen[start] {
			seen[start] = true
			subjects = append(subjects, start)
		}
	}
	return subjects, nil
}

// closure computes the set of nodes reachable from start following
// predicate (or its inverse), per the path kind, with a visited set
// guarding against cycles.
func closure(store *storage.Store, graph, start, predicate types.AtomId, kind PathKind) ([]types.AtomId, error) {
	switch kind {
	case PathDirect:
		return step(store, graph, start, predicate, false)
	case PathInverse:
		return step(store, graph, start, predicate, true)
	case PathZeroOrOne:
		reached, err := step(store, graph, start, predicate, false)
		if err != nil {
			return nil, err
		}
		return append(reached, start), nil
	case PathOneOrMore:
		return transitiveClosure(store, graph, start, predicate, false)
	case PathZeroOrMore:
		reached, err := transitiveClosure(store, graph, start, predicate, false)
		if err != nil {
			return nil, err
		}
		return append(reached, start), nil
	default:
		return nil, nil
	}
}

func step(store *storage.Store, graph, start, predicate types.AtomId, inverse bool) ([]types.AtomId, error) {
	pred := predicate
	var cur *storage.QuadCursor
	var err error
	if inverse {
		cur, err = store.Scan(graph, nil, &pred, &start, types.Evolution())
	} else {
		cur, err = store.Scan(graph, &start, &pred, nil, types.Evolution())
	}
	if err != nil {
		return nil, err
	}
	var out []types.AtomId
	for {
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		q := cur.Current()
		if inverse {
			out = append(out, q.Key.Subject)
		} else {
			out = append(out, q.Key.Object)
		}
	}
	return out, nil
}

func transitiveClosure(store *storage.Store, graph, start, predicate types.AtomId, inverse bool) ([]types.AtomId, error) {
	visited := map[types.AtomId]bool{start: true}
	frontier := []types.AtomId{start}
	var reached []types.AtomId

	for len(frontier) > 0 {
		next, err := step(store, graph, frontier[0], predicate, inverse)
		if err != nil {
			return nil, err
		}
		frontier = frontier[1:]
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			reached = append(reached, n)
			frontier = append(frontier, n)
		}
	}
	return reached, nil
}
