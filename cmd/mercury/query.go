package main

import (
	"fmt"
	"time"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/cuemby/mercury/pkg/types"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a pattern query against a store (current, as-of, range, or evolution)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		graph, _ := cmd.Flags().GetString("graph")
		subject, _ := cmd.Flags().GetString("subject")
		predicate, _ := cmd.Flags().GetString("predicate")
		object, _ := cmd.Flags().GetString("object")
		mode, _ := cmd.Flags().GetString("mode")
		at, _ := cmd.Flags().GetInt64("at")
		from, _ := cmd.Flags().GetInt64("from")
		to, _ := cmd.Flags().GetInt64("to")

		var cur *storage.QuadCursor
		switch mode {
		case "", "current":
			cur, err = store.QueryCurrent(graph, subject, predicate, object)
		case "as-of":
			if at == 0 {
				at = time.Now().UnixNano()
			}
			cur, err = store.QueryAsOf(graph, subject, predicate, object, at)
		case "range":
			cur, err = store.QueryChanges(graph, subject, predicate, object, from, to)
		case "evolution":
			cur, err = store.QueryEvolution(graph, subject, predicate, object)
		default:
			return mercuryerr.New(mercuryerr.KindInvalidArgument, "unknown query mode: "+mode)
		}
		if err != nil {
			return err
		}

		count := 0
		for {
			ok, err := cur.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			q := cur.Current()
			if err := printQuad(store, q); err != nil {
				return err
			}
			count++
		}
		fmt.Printf("✓ %d quads\n", count)
		return nil
	},
}

func printQuad(store *storage.Store, q types.Quad) error {
	s, err := store.ResolveAtom(q.Key.Subject)
	if err != nil {
		return err
	}
	p, err := store.ResolveAtom(q.Key.Predicate)
	if err != nil {
		return err
	}
	o, err := store.ResolveAtom(q.Key.Object)
	if err != nil {
		return err
	}
	tomb := ""
	if q.Tombstone {
		tomb = " (tombstone)"
	}
	fmt.Printf("%s %s %s [%d, %d)%s\n", s, p, o, q.Key.ValidFrom, q.Key.ValidTo, tomb)
	return nil
}

func init() {
	addDataDirFlag(queryCmd)
	addOptionsFlag(queryCmd)
	queryCmd.Flags().String("graph", "", "named graph IRI (default graph if omitted)")
	queryCmd.Flags().String("subject", "", "subject term, empty for wildcard")
	queryCmd.Flags().String("predicate", "", "predicate term, empty for wildcard")
	queryCmd.Flags().String("object", "", "object term, empty for wildcard")
	queryCmd.Flags().String("mode", "current", "current, as-of, range, or evolution")
	queryCmd.Flags().Int64("at", 0, "instant in nanoseconds for as-of mode (default now)")
	queryCmd.Flags().Int64("from", 0, "range start in nanoseconds for range mode")
	queryCmd.Flags().Int64("to", 0, "range end in nanoseconds for range mode")
}
