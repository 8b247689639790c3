package main

import (
	"context"
	"fmt"

	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/mercuryerr"
	"github.com/cuemby/mercury/pkg/prune"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Copy a store into a fresh target, optionally flattening history",
	RunE: func(cmd *cobra.Command, args []string) error {
		sourceDir, _ := cmd.Flags().GetString("source")
		targetDir, _ := cmd.Flags().GetString("target")
		historyFlag, _ := cmd.Flags().GetString("history")
		verify, _ := cmd.Flags().GetBool("verify")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		optionsFile, _ := cmd.Flags().GetString("options-file")

		var history prune.HistoryMode
		switch historyFlag {
		case "", "flatten":
			history = prune.FlattenToCurrent
		case "versions":
			history = prune.PreserveVersions
		case "all":
			history = prune.PreserveAll
		default:
			return mercuryerr.New(mercuryerr.KindInvalidArgument, "unknown history mode: "+historyFlag)
		}

		opts, err := config.Load(optionsFile)
		if err != nil {
			return err
		}

		source, err := storage.Open(sourceDir, opts)
		if err != nil {
			return err
		}
		defer source.Close()

		target, err := storage.Open(targetDir, opts)
		if err != nil {
			return err
		}
		defer target.Close()

		result, err := prune.Transfer(context.Background(), source, target, prune.Options{
			History: history,
			Verify:  verify,
			DryRun:  dryRun,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ scanned=%d filtered=%d transferred=%d\n", result.Scanned, result.Filtered, result.Transferred)
		if verify && !dryRun {
			fmt.Printf("  verify: hashes_match=%v counts_match=%v\n", result.HashesMatch, result.CountsMatch)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().String("source", "", "source store directory (required)")
	pruneCmd.Flags().String("target", "", "target store directory (required)")
	pruneCmd.MarkFlagRequired("source")
	pruneCmd.MarkFlagRequired("target")
	pruneCmd.Flags().String("options-file", "", "YAML file of store options (defaults used if omitted)")
	pruneCmd.Flags().String("history", "flatten", "flatten, versions, or all")
	pruneCmd.Flags().Bool("verify", false, "hash-verify source and target after transfer")
	pruneCmd.Flags().Bool("dry-run", false, "scan and filter only, never write the target")
}
