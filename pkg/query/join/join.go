// Package join implements the multi-pattern join operator: a
// Volcano-style pull pipeline over pkg/query/scan scanners, with
// selectivity-based pattern reordering, OPTIONAL left-outer-join
// semantics, and pushed-down FILTER evaluation. A Union type is
// declared, but no operator here executes it.
package join

import (
	"context"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/query/filter"
	"github.com/cuemby/mercury/pkg/query/scan"
	"github.com/cuemby/mercury/pkg/stats"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
)

// cancelCheckInterval is how many checkCancel calls (join steps,
// whether or not they emit a row) pass between cancellation checks.
const cancelCheckInterval = 1024

// Optional wraps a pattern that should left-outer-join against the
// bindings produced so far: failing to match still emits the input
// binding unchanged.
type Optional struct {
	Pattern types.Pattern
}

// Group is one graph pattern: required patterns in declaration order
// (reordered internally by selectivity), optional subpatterns, and
// filters to push down or apply at the end.
type Group struct {
	Required []types.Pattern
	Optional []Optional
	Filters  []filter.Filter
}

// Union holds the branches of a UNION group. Neither the Joiner nor
// pkg/query/exec executes a Union; it is a plain data holder.
type Union struct {
	Branches []Group
}

// Plan is a reordered, filter-annotated execution plan for one Group.
type Plan struct {
	patterns     []types.Pattern
	optional     []Optional
	pushedAt     map[int][]filter.Filter // level -> filters to apply right after that pattern
	residual     []filter.Filter         // filters that never became fully bound, or had EXISTS
}

// BuildPlan reorders g.Required by ascending estimated selectivity
// (more selective first) using predicate statistics, then assigns
// each filter its earliest pushable level.
func BuildPlan(g Group, st *stats.Store) Plan {
	order := reorder(g.Required, st)

	boundByLevel := make([]map[types.VariableId]bool, len(order)+1)
	bound := map[types.VariableId]bool{}
	boundByLevel[0] = cloneVarSet(bound)
	for i, p := range order {
		for _, v := range patternVars(p) {
			bound[v] = true
		}
		boundByLevel[i+1] = cloneVarSet(bound)
	}

	pushedAt := make(map[int][]filter.Filter)
	var residual []filter.Filter
	for _, f := range g.Filters {
		level := filter.EarliestPushableLevel(f, boundByLevel)
		if level < 0 {
			residual = append(residual, f)
			continue
		}
		pushedAt[level] = append(pushedAt[level], f)
	}

	return Plan{patterns: order, optional: g.Optional, pushedAt: pushedAt, residual: residual}
}

func cloneVarSet(m map[types.VariableId]bool) map[types.VariableId]bool {
	out := make(map[types.VariableId]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

func patternVars(p types.Pattern) []types.VariableId {
	var vars []types.VariableId
	for _, t := range []types.Term{p.Graph, p.Subject, p.Predicate, p.Object} {
		if !t.Bound {
			vars = append(vars, t.Variable)
		}
	}
	return vars
}

// reorder sorts required patterns by estimated selectivity: lower
// predicate frequency and lower distinct-subject count sort first,
// since they're expected to narrow the result set fastest. Ties keep
// declaration order (a stable sort).
func reorder(patterns []types.Pattern, st *stats.Store) []types.Pattern {
	out := make([]types.Pattern, len(patterns))
	copy(out, patterns)
	if st == nil {
		return out
	}

	cost := make([]uint64, len(out))
	for i, p := range out {
		cost[i] = estimateCost(p, st)
	}
	// insertion sort: stable, and join plans are small (tens of patterns).
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && cost[j] < cost[j-1] {
			cost[j], cost[j-1] = cost[j-1], cost[j]
			out[j], out[j-1] = out[j-1], out[j]
			j--
		}
	}
	return out
}

func estimateCost(p types.Pattern, st *stats.Store) uint64 {
	if !p.Predicate.Bound {
		return ^uint64(0) // no predicate statistic available: assume worst case
	}
	s, err := st.Get(p.Predicate.Atom)
	if err != nil {
		return ^uint64(0)
	}
	if !p.Subject.Bound {
		return s.Frequency
	}
	return s.DistinctSubjects
}

// Joiner is the pull-based iterator over a Plan's bindings.
type Joiner struct {
	ctx   context.Context
	store *storage.Store
	plan  Plan

	stack     []*scan.Scanner
	rowCount  int
	cancelTick int
}

// New builds a joiner for plan, seeded with a single empty binding (or
// the caller's input binding, for nested subqueries).
func New(ctx context.Context, store *storage.Store, plan Plan, input types.Binding) (*Joiner, error) {
	j := &Joiner{ctx: ctx, store: store, plan: plan}
	if len(plan.patterns) == 0 {
		return j, nil
	}
	first, err := scan.New(store, plan.patterns[0], input)
	if err != nil {
		return nil, err
	}
	j.stack = []*scan.Scanner{first}
	return j, nil
}

// Next pulls the next binding satisfying the whole plan's required
// patterns, FILTER pushdown, and OPTIONAL groups. Returns false when
// the join is exhausted.
func (j *Joiner) Next() (types.Binding, bool, error) {
	if len(j.plan.patterns) == 0 {
		// A group with no required patterns yields exactly one empty row.
		if j.rowCount == 0 {
			j.rowCount++
			return types.NewBinding(), true, nil
		}
		return types.Binding{}, false, nil
	}

	for len(j.stack) > 0 {
		if err := j.checkCancel(); err != nil {
			return types.Binding{}, false, err
		}

		level := len(j.stack) - 1
		b, ok, err := j.stack[level].Next()
		if err != nil {
			return types.Binding{}, false, err
		}
		if !ok {
			j.stack[level].Close()
			j.stack = j.stack[:level]
			continue
		}

		if !j.passesPushed(level, b) {
			continue
		}

		if level+1 < len(j.plan.patterns) {
			next, err := scan.New(j.store, j.plan.patterns[level+1], b)
			if err != nil {
				return types.Binding{}, false, err
			}
			j.stack = append(j.stack, next)
			continue
		}

		final, err := j.applyOptionals(b)
		if err != nil {
			return types.Binding{}, false, err
		}
		if !j.passesResidual(final) {
			continue
		}
		j.rowCount++
		return final, true, nil
	}
	return types.Binding{}, false, nil
}

func (j *Joiner) passesPushed(level int, b types.Binding) bool {
	for _, f := range j.plan.pushedAt[level+1] {
		if !EvaluateStub(f, b) {
			return false
		}
	}
	return true
}

func (j *Joiner) passesResidual(b types.Binding) bool {
	for _, f := range j.plan.residual {
		if !EvaluateStub(f, b) {
			return false
		}
	}
	return true
}

// applyOptionals left-outer-joins each OPTIONAL pattern against b: if
// it has at least one match the (first) extended binding is used,
// otherwise b is returned unchanged.
func (j *Joiner) applyOptionals(b types.Binding) (types.Binding, error) {
	out := b
	for _, opt := range j.plan.optional {
		s, err := scan.New(j.store, opt.Pattern, out)
		if err != nil {
			return types.Binding{}, err
		}
		if extended, ok, err := s.Next(); err != nil {
			return types.Binding{}, err
		} else if ok {
			out = extended
		}
		s.Close()
	}
	return out, nil
}

func (j *Joiner) checkCancel() error {
	j.cancelTick++
	if j.cancelTick%cancelCheckInterval != 0 {
		return nil
	}
	select {
	case <-j.ctx.Done():
		return mercuryerr.New(mercuryerr.KindQueryCancelled, "query cancelled")
	default:
		return nil
	}
}

// EvaluateStub is a placeholder boolean-expression evaluator: actual
// SPARQL expression evaluation lives with an external parser
// collaborator; filters here are opaque predicates supplied by the
// executor's caller. It is exported so pkg/query/exec can substitute a
// real evaluator without the join package depending on an expression AST.
var EvaluateStub = func(f filter.Filter, b types.Binding) bool { return true }
