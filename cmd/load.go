package cmd

import (
	"github.com/spf13/cobra"

	"github.com/strataetl/strata/actions"
)

// loadCmd represents the load command
var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load one batch through the bronze, silver and gold layers",
	Long: `Load one batch through the bronze, silver and gold layers.
The pipe definition file describes the field schema, business keys, dimensions
and fact mappings. Optionally run a web server to monitor progress remotely.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runLoad()
	},
}

var loadConfig = actions.LoadConfig{
	LogLevel: "info",
}

// runLoad is shared by the Cobra command and 12-factor mode.
func runLoad() error {
	loadConfig.Connections = actions.NewConfigFileLoader()
	loadConfig.StackDumpOnPanic = stackDumpOnPanic
	serveConfig.StackDumpOnPanic = stackDumpOnPanic
	return actions.RunLoadFromFile(&loadConfig, &serveConfig)
}

func init() {
	rootCmd.AddCommand(loadCmd)
	loadCmd.Flags().SortFlags = false
	switches.addFlag(loadCmd, &loadConfig.PipeFile, "file", "", true, "")
	_ = loadCmd.MarkFlagFilename("file", "json", "yaml")
	switches.addFlag(loadCmd, &loadConfig.InputFile, "input", "", true, "")
	_ = loadCmd.MarkFlagFilename("input", "json", "ndjson")
	switches.addFlag(loadCmd, &loadConfig.ConnectionName, "connection", "memory", false, "")
	switches.addFlag(loadCmd, &loadConfig.LogLevel, "log-level", "info", false, "")
	switches.addFlag(loadCmd, &loadConfig.TimeoutSeconds, "timeout", "0", false, "")
	switches.addFlag(loadCmd, &loadConfig.WithWebService, "web-service", "", false, "")
	switches.addFlag(loadCmd, &serveConfig.Port, "port", "8080", false, "")
	loadCmd.SilenceUsage = true
}
