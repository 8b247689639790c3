package main

import (
	"github.com/cuemby/mercury/pkg/config"
	"github.com/cuemby/mercury/pkg/storage"
	"github.com/spf13/cobra"
)

func addDataDirFlag(cmd *cobra.Command) {
	cmd.Flags().String("data-dir", "", "store directory (required)")
	cmd.MarkFlagRequired("data-dir")
}

func addOptionsFlag(cmd *cobra.Command) {
	cmd.Flags().String("options-file", "", "YAML file of store options (defaults used if omitted)")
}

func openStore(cmd *cobra.Command) (*storage.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	optionsFile, _ := cmd.Flags().GetString("options-file")

	opts, err := config.Load(optionsFile)
	if err != nil {
		return nil, err
	}
	return storage.Open(dataDir, opts)
}
