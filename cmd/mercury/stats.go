package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print store size and durability statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		s := store.Statistics()
		fmt.Printf("quads:    %d\n", s.Quads)
		fmt.Printf("atoms:    %d\n", s.Atoms)
		fmt.Printf("bytes:    %d\n", s.Bytes)
		fmt.Printf("wal_tx:   %d\n", s.WALTx)
		fmt.Printf("wal_size: %d\n", s.WALSize)
		return nil
	},
}

func init() {
	addDataDirFlag(statsCmd)
	addOptionsFlag(statsCmd)
}
