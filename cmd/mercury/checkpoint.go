package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Force a WAL checkpoint on a store",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Checkpoint(); err != nil {
			return err
		}

		fmt.Println("✓ checkpoint complete")
		return nil
	},
}

func init() {
	addDataDirFlag(checkpointCmd)
	addOptionsFlag(checkpointCmd)
}
