package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strataetl/strata/actions"
	"github.com/strataetl/strata/config"
	c "github.com/strataetl/strata/constants"
)

var connCmd = &cobra.Command{
	Use:   "conn",
	Short: "Manage named storage connections",
	Long:  fmt.Sprintf("Manage named storage connections kept in config file %q", config.Connections.FullPath),
}

var connAddCfg = actions.ConnAddConfig{}
var connRemoveCfg = actions.ConnRemoveConfig{}

var connAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or set a named storage connection",
	Long: fmt.Sprintf(`Add a named storage connection to config file %q.
The DSN may be left unset and supplied via environment variable %v_<NAME>_DSN
instead, so credentials stay out of the file.`, config.Connections.FullPath, c.EnvVarPrefix),
	RunE: func(cmd *cobra.Command, args []string) error {
		connAddCfg.ConfigFile = config.Connections
		return actions.RunConnAdd(&connAddCfg)
	},
}

var connRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a named storage connection",
	Long:  fmt.Sprintf("Remove a named storage connection from config file %q", config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		connRemoveCfg.ConfigFile = config.Connections
		return actions.RunConnRemove(&connRemoveCfg)
	},
}

var connListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the named storage connections",
	Long:  fmt.Sprintf("List the named storage connections found in config file %q", config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		return actions.RunConnList(&actions.ConnListConfig{ConfigFile: config.Connections})
	},
}

func init() {
	configCmd.AddCommand(connCmd)
	connCmd.AddCommand(connAddCmd)
	connCmd.AddCommand(connListCmd)
	connCmd.AddCommand(connRemoveCmd)
	connAddCmd.Flags().SortFlags = false
	connAddCmd.Flags().StringVarP(&connAddCfg.Name, "connection-name", "c", "", "* Connection name referred to by load pipes")
	connAddCmd.Flags().StringVarP(&connAddCfg.Type, "type", "t", "",
		fmt.Sprintf("* Connection type: %v | %v | %v", c.ConnectionTypeMemory, c.ConnectionTypeSqlServer, c.ConnectionTypeSnowflake))
	connAddCmd.Flags().StringVarP(&connAddCfg.Dsn, "dsn", "d", "", "Database URL for the layered tables")
	connAddCmd.Flags().BoolVarP(&connAddCfg.Force, "force", "f", false, "Allow overwrite of existing connections")
	_ = connAddCmd.MarkFlagRequired("connection-name")
	_ = connAddCmd.MarkFlagRequired("type")
	connAddCmd.SilenceUsage = true
	connRemoveCmd.Flags().SortFlags = false
	connRemoveCmd.Flags().StringVarP(&connRemoveCfg.Name, "connection-name", "c", "", "* Connection name to remove")
	_ = connRemoveCmd.MarkFlagRequired("connection-name")
	connRemoveCmd.SilenceUsage = true
	connListCmd.SilenceUsage = true
}
