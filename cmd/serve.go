package cmd

import (
	"net"

	"github.com/spf13/cobra"

	"github.com/strataetl/strata/actions"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a web service and listen for load commands described in JSON",
	Long: `Start a web service and listen for load commands described in JSON.
The API launches loads, lists batches and their ledger entries, serves live
per-step statistics and retries failed batches from the bronze layer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveConfig = actions.WebServerConfig{
	LogLevel: "info",
	Scheme:   "http",
	Addr:     net.IP{0, 0, 0, 0},
	Port:     8080,
}

// runServe is shared by the Cobra command and 12-factor mode.
func runServe() error {
	serveConfig.Connections = actions.NewConfigFileLoader()
	serveConfig.StackDumpOnPanic = stackDumpOnPanic
	return actions.RunWebServer(&serveConfig)
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().SortFlags = false
	serveCmd.Flags().IPVarP(&serveConfig.Addr, "address", "a", net.IP{0, 0, 0, 0}, "Address to listen on")
	switches.addFlag(serveCmd, &serveConfig.Port, "port", "8080", false, "")
	switches.addFlag(serveCmd, &serveConfig.ConnectionName, "connection", "memory", false, "")
	switches.addFlag(serveCmd, &serveConfig.LogLevel, "log-level", "info", false, "")
	serveCmd.SilenceUsage = true
}
