// Package filter analyzes FILTER expressions to determine which
// variables they reference and the earliest point in a join's pattern
// order at which they can be safely evaluated (pushed down).
package filter

import (
	"hash/fnv"
	"strings"

	"github.com/cuemby/mercury/pkg/types"
)

// Filter is one FILTER expression plus its analysis results.
type Filter struct {
	Expression string
	Vars       map[types.VariableId]bool
	HasExists  bool
}

// HashVariable derives a stable VariableId from a variable's lexical
// name (without its leading '?' or '$'). Analyze records variables
// under this id, so pattern terms keyed the same way line up with it.
func HashVariable(name string) types.VariableId {
	h := fnv.New64a()
	h.Write([]byte(name))
	return types.VariableId(h.Sum64())
}

// Analyze scans expr for `?name`/`$name` variable references, skipping
// over quoted string literals, and detects EXISTS/NOT EXISTS.
func Analyze(expr string) Filter {
	f := Filter{Expression: expr, Vars: make(map[types.VariableId]bool)}
	f.HasExists = containsExistsKeyword(expr)

	inString := false
	var quote byte
	var name strings.Builder
	flush := func() {
		if name.Len() > 0 {
			f.Vars[HashVariable(name.String())] = true
			name.Reset()
		}
	}

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inString {
			if c == quote {
				inString = false
			}
			continue
		}
		switch {
		case c == '\'' || c == '"':
			flush()
			inString = true
			quote = c
		case c == '?' || c == '$':
			flush()
			j := i + 1
			for j < len(expr) && isVarChar(expr[j]) {
				j++
			}
			if j > i+1 {
				f.Vars[HashVariable(expr[i+1:j])] = true
			}
			i = j - 1
		}
	}
	return f
}

func isVarChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// containsExistsKeyword reports whether expr contains EXISTS or NOT
// EXISTS outside of a quoted string, case-insensitively. A filter
// containing EXISTS is never pushed: its truth depends on the whole
// remaining pattern, not just the variables it textually mentions.
func containsExistsKeyword(expr string) bool {
	inString := false
	var quote byte
	upper := strings.ToUpper(expr)
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		if inString {
			if c == quote {
				inString = false
			}
			continue
		}
		if c == '\'' || c == '"' {
			inString = true
			quote = c
			continue
		}
		if strings.HasPrefix(upper[i:], "EXISTS") {
			return true
		}
	}
	return false
}

// EarliestPushableLevel returns the index into boundByLevel (each
// entry the set of variables bound after that pattern has run) of the
// first level at which every variable f references is bound, or -1 if
// the filter is unpushable (EXISTS, or never fully bound).
func EarliestPushableLevel(f Filter, boundByLevel []map[types.VariableId]bool) int {
	if f.HasExists {
		return -1
	}
	for level, bound := range boundByLevel {
		if allBound(f.Vars, bound) {
			return level
		}
	}
	return -1
}

func allBound(need, have map[types.VariableId]bool) bool {
	for v := range need {
		if !have[v] {
			return false
		}
	}
	return true
}
