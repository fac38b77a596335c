package cmd

import (
	"github.com/spf13/cobra"

	"github.com/strataetl/strata/actions"
)

// batchCmd is the parent of the batch ledger subcommands, which talk to a
// running strata web server.
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect and retry batches on a running strata server",
	Long:  `Inspect and retry batches on a running strata server`,
}

var batchClientCfg = actions.BatchClientConfig{}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the batch ledger",
	Long:  `List the batch ledger of a running strata server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return actions.RunBatchList(&batchClientCfg)
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show one batch's ledger entry",
	Long:  `Show one batch's ledger entry, including its lifecycle state and load counters`,
	Args:  batchIdArgsFunc,
	RunE: func(cmd *cobra.Command, args []string) error {
		return actions.RunBatchStatus(&batchClientCfg)
	},
}

var batchRetryCmd = &cobra.Command{
	Use:   "retry <batch-id>",
	Short: "Retry a failed batch from its bronze rows",
	Long: `Retry a failed batch. The server clears the batch's prior silver and gold
output then reprocesses it from the committed bronze rows, so the destination
layers end up with exactly one copy of the batch.`,
	Args: batchIdArgsFunc,
	RunE: func(cmd *cobra.Command, args []string) error {
		return actions.RunBatchRetry(&batchClientCfg)
	},
}

// batchIdArgsFunc validates that we have 1 arg and saves it as the batch id.
func batchIdArgsFunc(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	batchClientCfg.BatchId = args[0]
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)
	for _, c := range []*cobra.Command{batchListCmd, batchStatusCmd, batchRetryCmd} {
		batchCmd.AddCommand(c)
		c.Flags().SortFlags = false
		switches.addFlag(c, &batchClientCfg.ServerURL, "server", "http://localhost:8080", false, "")
		c.SilenceUsage = true
	}
}
