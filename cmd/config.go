package cmd

import (
	"github.com/spf13/cobra"
)

// configCmd is the parent of the config file subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage default flag values and storage connections",
	Long:  `Manage default flag values and storage connections kept under ~/.strata`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
