// Package prune implements the copy-and-switch pruning transfer:
// stream quads from a source store into a fresh target, optionally
// flattening history or filtering, verify by hash, then hand the
// target back to the caller (typically pkg/pool) to switch in.
package prune

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/cuemby/mercury/pkg/log"
	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/metrics"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
)

// HistoryMode selects how much bitemporal history survives the transfer.
type HistoryMode int

const (
	// FlattenToCurrent keeps only quads valid now, rewritten as [now, +inf).
	FlattenToCurrent HistoryMode = iota
	// PreserveVersions keeps all non-tombstones with original validity.
	PreserveVersions
	// PreserveAll keeps everything, including tombstones (full audit trail).
	PreserveAll
)

// Filter is a composable, borrow-friendly predicate over a candidate
// quad's resolved term bytes and valid-time bounds; returning false
// excludes the quad from the transfer.
type Filter func(graph, subject, predicate, object []byte, validFrom, validTo int64) bool

// ExcludeGraphs returns a Filter rejecting any quad whose graph IRI is
// in graphs.
func ExcludeGraphs(graphs map[string]bool) Filter {
	return func(graph, _, _, _ []byte, _, _ int64) bool {
		return !graphs[string(graph)]
	}
}

// ExcludePredicates returns a Filter rejecting any quad whose
// predicate IRI is in predicates.
func ExcludePredicates(predicates map[string]bool) Filter {
	return func(_, _, predicate, _ []byte, _, _ int64) bool {
		return !predicates[string(predicate)]
	}
}

// And combines filters; a quad passes only if every filter accepts it.
func And(filters ...Filter) Filter {
	return func(g, s, p, o []byte, vf, vt int64) bool {
		for _, f := range filters {
			if !f(g, s, p, o, vf, vt) {
				return false
			}
		}
		return true
	}
}

// Options configures one pruning transfer.
type Options struct {
	History HistoryMode
	Filter  Filter // nil means accept everything
	Verify  bool
	DryRun  bool
}

// Result reports what a transfer did.
type Result struct {
	Scanned     uint64
	Filtered    uint64
	Transferred uint64
	SourceHash  uint64
	TargetHash  uint64
	HashesMatch bool
	CountsMatch bool
}

// Transfer streams quads from source to target per opts. On any I/O
// error the in-flight target batch is rolled back and source is left
// untouched. In DryRun mode, scan/filter/hash run but target is never
// written.
func Transfer(ctx context.Context, source, target *storage.Store, opts Options) (Result, error) {
	logger := log.WithComponent("prune")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PruneDuration)

	now := time.Now().UnixNano()
	var result Result
	var sourceHash uint64

	if !opts.DryRun {
		if err := target.BeginBatch(); err != nil {
			return result, err
		}
	}

	cur, err := source.ScanAll()
	if err != nil {
		if !opts.DryRun {
			target.RollbackBatch()
		}
		return result, err
	}

	for {
		select {
		case <-ctx.Done():
			if !opts.DryRun {
				target.RollbackBatch()
			}
			return result, mercuryerr.New(mercuryerr.KindQueryCancelled, "pruning transfer cancelled")
		default:
		}

		ok, err := cur.Next()
		if err != nil {
			if !opts.DryRun {
				target.RollbackBatch()
			}
			return result, err
		}
		if !ok {
			break
		}
		result.Scanned++

		q := cur.Current()
		if opts.History != PreserveAll && q.Tombstone {
			continue
		}
		if opts.History == FlattenToCurrent && !q.Key.ValidAt(now) {
			continue
		}

		graph, subject, predicate, object, resolveErr := resolveQuad(source, q.Key)
		if resolveErr != nil {
			if !opts.DryRun {
				target.RollbackBatch()
			}
			return result, resolveErr
		}

		if opts.Filter != nil && !opts.Filter(graph, subject, predicate, object, q.Key.ValidFrom, q.Key.ValidTo) {
			result.Filtered++
			continue
		}

		validFrom, validTo := q.Key.ValidFrom, q.Key.ValidTo
		if opts.History == FlattenToCurrent {
			validFrom, validTo = now, types.InfiniteTime
		}

		if opts.Verify {
			sourceHash ^= quadHash(graph, subject, predicate, object)
		}

		if opts.DryRun {
			result.Transferred++
			continue
		}

		if err := target.BatchAddRaw(string(graph), string(subject), string(predicate), string(object),
			validFrom, validTo, q.Tombstone); err != nil {
			target.RollbackBatch()
			return result, err
		}
		result.Transferred++
		metrics.PruneQuadsTransferred.Inc()
	}

	if !opts.DryRun {
		if err := target.CommitBatch(); err != nil {
			return result, err
		}
	}

	result.SourceHash = sourceHash
	if opts.Verify && !opts.DryRun {
		targetHash, count, err := hashStore(target)
		if err != nil {
			return result, err
		}
		result.TargetHash = targetHash
		result.HashesMatch = targetHash == sourceHash
		result.CountsMatch = count == result.Transferred
	}

	logger.Info().
		Uint64("scanned", result.Scanned).
		Uint64("filtered", result.Filtered).
		Uint64("transferred", result.Transferred).
		Bool("dry_run", opts.DryRun).
		Msg("pruning transfer complete")

	return result, nil
}

func resolveQuad(store *storage.Store, k types.TemporalKey) (graph, subject, predicate, object []byte, err error) {
	if k.Graph != types.NoAtom {
		if graph, err = store.ResolveAtom(k.Graph); err != nil {
			return
		}
	}
	if subject, err = store.ResolveAtom(k.Subject); err != nil {
		return
	}
	if predicate, err = store.ResolveAtom(k.Predicate); err != nil {
		return
	}
	object, err = store.ResolveAtom(k.Object)
	return
}

// quadHash is the FNV-1a 64-bit hash over the concatenated UTF-8 of
// (g,s,p,o), used to verify a transfer without re-reading every byte
// twice.
func quadHash(graph, subject, predicate, object []byte) uint64 {
	h := fnv.New64a()
	h.Write(graph)
	h.Write(subject)
	h.Write(predicate)
	h.Write(object)
	return h.Sum64()
}

func hashStore(store *storage.Store) (hash uint64, count uint64, err error) {
	cur, err := store.ScanAll()
	if err != nil {
		return 0, 0, err
	}
	for {
		ok, err := cur.Next()
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			break
		}
		q := cur.Current()
		if q.Tombstone {
			continue
		}
		graph, subject, predicate, object, err := resolveQuad(store, q.Key)
		if err != nil {
			return 0, 0, err
		}
		hash ^= quadHash(graph, subject, predicate, object)
		count++
	}
	return hash, count, nil
}
