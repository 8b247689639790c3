// Package types is documented in types.go; see the AtomId, TemporalKey,
// Quad, Pattern, and Binding doc comments there for the shared data
// model used by pkg/atom, pkg/btree, pkg/storage, and pkg/query.
package types
