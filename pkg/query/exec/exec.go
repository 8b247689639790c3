// Package exec orchestrates the four query forms (SELECT, ASK,
// CONSTRUCT, DESCRIBE) over a join plan, holding the store's read
// lock for the query's lifetime and streaming results through a
// cursor whose Current view is valid only until the next Next call.
package exec

import (
	"context"

	"github.com/cuemby/mercury/pkg/log"
	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/query/join"
	"github.com/cuemby/mercury/pkg/stats"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
)

// Kind selects the query form being executed.
type Kind int

const (
	KindSelect Kind = iota
	KindAsk
	KindConstruct
	KindDescribe
)

// Template is a CONSTRUCT triple template, each position either a
// bound atom or a reference to a variable produced by the join.
type Template struct {
	Graph, Subject, Predicate, Object types.Term
}

// Query is a fully planned query: a join group plus what to do with
// its result bindings.
type Query struct {
	Kind      Kind
	Group     join.Group
	Project   []types.VariableId // SELECT: variables to project, in order
	Templates []Template         // CONSTRUCT: triples to synthesise per binding
	Describe  []types.Term       // DESCRIBE: resources whose closure to return (bound or variable)
}

// state tracks the cursor lifecycle described for query results:
// Unstarted -> Active -> Exhausted|Cancelled|Disposed.
type state int

const (
	stateUnstarted state = iota
	stateActive
	stateExhausted
	stateCancelled
	stateDisposed
)

// Cursor streams one query's results. Current is a borrowed view
// valid only until the next call to Next.
type Cursor struct {
	store   *storage.Store
	query   Query
	joiner  *join.Joiner
	state   state
	current Row

	// describe/construct emission needs a secondary quad stream per
	// source binding; pending holds quads not yet drained from it.
	pending []types.Quad
}

// Row is one emitted result: bindings for SELECT/ASK, or a quad for
// CONSTRUCT/DESCRIBE.
type Row struct {
	Binding types.Binding
	Quad    types.Quad
	IsQuad  bool
}

// Open acquires the store's read lock and builds the join plan. The
// caller must call Close to release the lock, even on error after the
// lock was acquired.
func Open(ctx context.Context, store *storage.Store, st *stats.Store, q Query) (*Cursor, error) {
	if err := store.AcquireReadLock(); err != nil {
		return nil, err
	}

	plan := join.BuildPlan(q.Group, st)
	joiner, err := join.New(ctx, store, plan, types.NewBinding())
	if err != nil {
		store.ReleaseReadLock()
		return nil, err
	}

	return &Cursor{store: store, query: q, joiner: joiner, state: stateUnstarted}, nil
}

// Next advances the cursor, returning false once results (and, for
// CONSTRUCT/DESCRIBE, any pending synthesised quads) are exhausted.
func (c *Cursor) Next() (bool, error) {
	if c.state == stateExhausted || c.state == stateCancelled || c.state == stateDisposed {
		return false, nil
	}
	c.state = stateActive
	timer := metrics.NewTimer()

	for {
		if len(c.pending) > 0 {
			c.current = Row{Quad: c.pending[0], IsQuad: true}
			c.pending = c.pending[1:]
			metrics.QueryRowsEmitted.Inc()
			return true, nil
		}

		b, ok, err := c.joiner.Next()
		if err != nil {
			if kind, _ := mercuryerr.KindOf(err); kind == mercuryerr.KindQueryCancelled {
				c.state = stateCancelled
			} else {
				c.state = stateExhausted
			}
			return false, err
		}
		if !ok {
			c.state = stateExhausted
			timer.ObserveDurationVec(metrics.QueryDuration, kindLabel(c.query.Kind))
			return false, nil
		}

		switch c.query.Kind {
		case KindSelect, KindAsk:
			c.current = Row{Binding: b}
			metrics.QueryRowsEmitted.Inc()
			return true, nil
		case KindConstruct:
			c.pending = instantiate(c.query.Templates, b)
			continue
		case KindDescribe:
			quads, err := describeClosure(c.store, c.query.Describe, b)
			if err != nil {
				c.state = stateExhausted
				return false, err
			}
			c.pending = quads
			continue
		}
	}
}

// Current returns the row at the cursor's current position; valid
// only between a true-returning Next and the subsequent Next call.
func (c *Cursor) Current() Row { return c.current }

// Close releases the read lock. Safe to call multiple times.
func (c *Cursor) Close() {
	if c.state == stateDisposed {
		return
	}
	c.state = stateDisposed
	c.store.ReleaseReadLock()
	log.Logger.Debug().Msg("query cursor closed")
}

func kindLabel(k Kind) string {
	switch k {
	case KindSelect:
		return "select"
	case KindAsk:
		return "ask"
	case KindConstruct:
		return "construct"
	case KindDescribe:
		return "describe"
	default:
		return "unknown"
	}
}

func instantiate(templates []Template, b types.Binding) []types.Quad {
	var out []types.Quad
	for _, t := range templates {
		graph, ok1 := resolveTemplateTerm(t.Graph, b)
		subject, ok2 := resolveTemplateTerm(t.Subject, b)
		predicate, ok3 := resolveTemplateTerm(t.Predicate, b)
		object, ok4 := resolveTemplateTerm(t.Object, b)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue // template references a variable this binding never bound
		}
		out = append(out, types.Quad{Key: types.TemporalKey{
			Graph: graph, Subject: subject, Predicate: predicate, Object: object,
			ValidFrom: b.ValidFrom, ValidTo: b.ValidTo, TxnTime: b.TxnTime,
		}})
	}
	return out
}

func resolveTemplateTerm(t types.Term, b types.Binding) (types.AtomId, bool) {
	if t.Bound {
		return t.Atom, true
	}
	v, ok := b.Vars[t.Variable]
	return v, ok
}

// describeClosure returns the one-hop closure of each resource in
// resources (resolved against b if a variable): the resource as
// subject, plus as object.
func describeClosure(store *storage.Store, resources []types.Term, b types.Binding) ([]types.Quad, error) {
	var out []types.Quad
	seen := map[types.TemporalKey]bool{}
	for _, r := range resources {
		atom, ok := resolveTemplateTerm(r, b)
		if !ok {
			continue
		}
		for _, asSubject := range []bool{true, false} {
			var cur *storage.QuadCursor
			var err error
			if asSubject {
				cur, err = store.Scan(types.NoAtom, &atom, nil, nil, types.Evolution())
			} else {
				cur, err = store.Scan(types.NoAtom, nil, nil, &atom, types.Evolution())
			}
			if err != nil {
				return nil, err
			}
			for {
				ok, err := cur.Next()
				if err != nil {
					return nil, err
				}
				if !ok {
					break
				}
				q := cur.Current()
				if !seen[q.Key] {
					seen[q.Key] = true
					out = append(out, q)
				}
			}
		}
	}
	return out, nil
}
