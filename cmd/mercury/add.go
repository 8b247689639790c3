package main

import (
	"fmt"

	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/spf13/cobra"
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a quad, current or over an explicit validity interval",
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
		validFrom, _ := cmd.Flags().GetInt64("valid-from")
		validTo, _ := cmd.Flags().GetInt64("valid-to")

		if subject == "" || predicate == "" || object == "" {
			return mercuryerr.New(mercuryerr.KindInvalidArgument, "subject, predicate, and object are required")
		}

		if validFrom == 0 && validTo == 0 {
			if err := store.AddCurrent(graph, subject, predicate, object); err != nil {
				return err
			}
		} else {
			if err := store.Add(graph, subject, predicate, object, validFrom, validTo); err != nil {
				return err
			}
		}

		fmt.Println("✓ quad added")
		return nil
	},
}

func init() {
	addDataDirFlag(addCmd)
	addOptionsFlag(addCmd)
	addCmd.Flags().String("graph", "", "named graph IRI (default graph if omitted)")
	addCmd.Flags().String("subject", "", "subject term (required)")
	addCmd.Flags().String("predicate", "", "predicate term (required)")
	addCmd.Flags().String("object", "", "object term (required)")
	addCmd.Flags().Int64("valid-from", 0, "valid-from nanoseconds (defaults to now if both bounds omitted)")
	addCmd.Flags().Int64("valid-to", 0, "valid-to nanoseconds (defaults to +inf if both bounds omitted)")
}
