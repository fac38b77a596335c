package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strataetl/strata/actions"
	"github.com/strataetl/strata/config"
)

var defaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Manage default flag values",
	Long:  fmt.Sprintf("Manage default flag values kept in config file %q", config.Main.FullPath),
}

var defaultAddCfg = actions.DefaultAddConfig{}
var defaultRemoveCfg = actions.DefaultRemoveConfig{}

var defaultAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or set a default flag value",
	Long:  fmt.Sprintf("Add a default flag value to config file %q", config.Main.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaultAddCfg.ConfigFile = config.Main
		return actions.RunDefaultAdd(&defaultAddCfg)
	},
}

var defaultRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove a default flag value",
	Long:  fmt.Sprintf("Remove a default flag value from config file %q", config.Main.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaultRemoveCfg.ConfigFile = config.Main
		return actions.RunDefaultRemove(&defaultRemoveCfg)
	},
}

var defaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the default flag values",
	Long:  fmt.Sprintf("List the default flag values found in config file %q", config.Main.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		return actions.RunDefaultList(&actions.DefaultListConfig{ConfigFile: config.Main})
	},
}

func init() {
	configCmd.AddCommand(defaultCmd)
	defaultCmd.AddCommand(defaultAddCmd)
	defaultCmd.AddCommand(defaultListCmd)
	defaultCmd.AddCommand(defaultRemoveCmd)
	defaultAddCmd.Flags().SortFlags = false
	defaultAddCmd.Flags().StringVarP(&defaultAddCfg.Key, "key", "k", "", "* The key to set in config. Match the name of the flag\n"+
		"to have this value take effect in commands")
	defaultAddCmd.Flags().StringVarP(&defaultAddCfg.Value, "value", "v", "", "* The default value to set")
	defaultAddCmd.Flags().BoolVarP(&defaultAddCfg.Force, "force", "f", false, "Overwrite existing values")
	_ = defaultAddCmd.MarkFlagRequired("key")
	_ = defaultAddCmd.MarkFlagRequired("value")
	defaultAddCmd.SilenceUsage = true
	defaultRemoveCmd.Flags().SortFlags = false
	defaultRemoveCmd.Flags().StringVarP(&defaultRemoveCfg.Key, "key", "k", "", "* The key to remove from config")
	_ = defaultRemoveCmd.MarkFlagRequired("key")
	defaultRemoveCmd.SilenceUsage = true
	defaultListCmd.SilenceUsage = true
}
