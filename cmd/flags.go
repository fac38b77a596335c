package cmd

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/strataetl/strata/config"
	"github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/helper"
)

type cliFlag struct {
	name      string // name of flag
	val       string // default value
	shortHand string // single character name for the flag
	desc      string // description of the flag; the long text
}

type cliFlags map[string]cliFlag

var switches = cliFlags{
	"mock": cliFlag{name: "mock", shortHand: "m", desc: "mock switch for testing"},
	"file": cliFlag{name: "file", shortHand: "f",
		desc: "File containing the load pipe definition (.yaml or .json)"},
	"input": cliFlag{name: "input", shortHand: "i",
		desc: "File containing the source records as a JSON array or newline-delimited\n" +
			"JSON objects. CSV parsing belongs to the upstream ingestion step"},
	"connection": cliFlag{name: "connection", shortHand: "c",
		desc: "Named storage connection holding the layered tables. Configure names with\n" +
			"'strata config conn add', or set " + constants.EnvVarPrefix + "_<NAME>_DSN and\n" +
			constants.EnvVarPrefix + "_<NAME>_TYPE. Use \"memory\" for an in-process store"},
	"log-level": cliFlag{name: "log-level", shortHand: "l",
		desc: "Log level: \"error | warn | info | debug\""},
	"timeout": cliFlag{name: "timeout", shortHand: "t",
		desc: "Bound in seconds on every storage read, write and lock wait during a load\n" +
			"(use 0 to wait indefinitely). An exceeded bound fails the load and leaves\n" +
			"the batch in_progress for an external retry"},
	"web-service": cliFlag{name: "web-service", shortHand: "w",
		desc: "Launch a web service to monitor the load"},
	"port": cliFlag{name: "port", shortHand: "p",
		desc: "Port to listen on"},
	"server": cliFlag{name: "server", shortHand: "s",
		desc: "Base URL of a running strata web server"},
}

// addFlag adds a flag to cobra.Command c based on the type of targetVar (which must be a pointer).
// The name of the flag is looked up in map cliFlags.
// When running in twelveFactorMode, the targetVar is populated using the value of the environment
// variable for the supplied name, or the supplied default value if the variable is not set.
// When NOT running in twelveFactorMode, the default value is fetched from config if it exists else
// the supplied defaultValue is applied.
// The flag is marked as required in Cobra based on the value of required.
func (f *cliFlags) addFlag(c *cobra.Command, targetVar interface{}, name string, defaultValue string, required bool, desc2 string) {
	v := reflect.ValueOf(targetVar)
	if v.Kind() != reflect.Ptr {
		fmt.Println("error adding flag: targetVar must be a pointer")
		os.Exit(1)
	}
	sw := f.getCliFlag(name, defaultValue, config.Main.Get) // defaults come from config or the supplied defaultValue.
	desc := sw.desc + desc2
	// Apply the flag.
	switch p := targetVar.(type) {
	case *string:
		if twelveFactorMode {
			*p = sw.val
		} else {
			c.Flags().StringVarP(p, sw.name, sw.shortHand, sw.val, desc)
			if sw.val != "" { // if there is a value via config or default...
				mustSetFlag(c.Flags(), sw.name, sw.val)
			}
		}
	case *bool:
		if twelveFactorMode {
			// Convert any non-empty string value into true.
			*p = sw.val != ""
		} else {
			defaultBool := strings.ToLower(sw.val) == "true"
			c.Flags().BoolVarP(p, sw.name, sw.shortHand, defaultBool, desc)
			mustSetFlag(c.Flags(), sw.name, strconv.FormatBool(defaultBool))
		}
	case *int:
		defaultInt, err := strconv.Atoi(sw.val)
		if err != nil {
			fmt.Printf("the value for flag %q must be an integer: %v\n", sw.name, err)
			os.Exit(1)
		}
		if twelveFactorMode {
			*p = defaultInt
		} else {
			c.Flags().IntVarP(p, sw.name, sw.shortHand, defaultInt, desc)
			if sw.val != "" {
				mustSetFlag(c.Flags(), sw.name, sw.val)
			}
		}
	default:
		panic("Error: unhandled CLI flag target value type")
	}
	// Optionally mark the flag as mandatory.
	if required && !twelveFactorMode {
		_ = c.MarkFlagRequired(sw.name)
	}
}

// getCliFlag fetches the value of name from the environment, when running in twelveFactorMode,
// else reads the main config file to find it.
// If a value cannot be found then the supplied defaultValue is used in its place.
func (f *cliFlags) getCliFlag(name string, defaultValue string, fnGetConfig func(key string, out interface{}) error) cliFlag {
	s, ok := switches[name]
	if !ok {
		panic(fmt.Sprintf("unregistered CLI flag, %q", name))
	}
	if twelveFactorMode { // if we should read env vars...
		if err := helper.ReadValueFromEnv(flagNameToEnvVar(name), &s.val); err != nil {
			// Apply the default.
			s.val = defaultValue
		}
	} else { // else check the config file or apply the default...
		err := fnGetConfig(s.name, &s.val)
		if _, notFound := err.(config.KeyNotFoundError); notFound || s.val == "" {
			s.val = defaultValue
		}
	}
	return s
}

// flagNameToEnvVar forms a sanitised environment variable name using constants.EnvVarPrefix.
func flagNameToEnvVar(name string) string {
	return constants.EnvVarPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func mustSetFlag(f *pflag.FlagSet, name string, val string) {
	if err := f.Set(name, val); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
