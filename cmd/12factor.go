package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	c "github.com/strataetl/strata/constants"
)

// init is called first due to the lexical order in which these functions are executed.
// This ensures the value of twelveFactorMode is set before other init() functions
// register Cobra flags, since addFlag reads environment variables in that mode.
func init() {
	setupTwelveFactorMode()
}

// setupTwelveFactorMode enables or disables 12-factor mode based on environment variable.
func setupTwelveFactorMode() {
	if os.Getenv(envVarTwelveFactorMode) != "" { // if we should read env vars to determine actions...
		twelveFactorMode = true
	} else {
		twelveFactorMode = false // explicitly off since tests may have turned it on.
	}
}

const (
	envVarTwelveFactorMode = c.EnvVarPrefix + "_" + "12FACTOR_MODE"
	envVarCommand          = c.EnvVarPrefix + "_" + "COMMAND"
)

// twelveFactorMode is true if os env var envVarTwelveFactorMode is set.
var twelveFactorMode bool

// twelveFactorActions maps the value of envVarCommand onto the same runner funcs
// used by the equivalent Cobra commands.  Flag values come from environment
// variables named after the flags, e.g. STRATA_FILE, STRATA_INPUT,
// STRATA_CONNECTION, STRATA_LOG_LEVEL.
var twelveFactorActions = map[string]func() error{
	"load":  runLoad,
	"serve": runServe,
}

// execute12FactorMode runs the action named by envVarCommand.
func execute12FactorMode(actions map[string]func() error) error {
	cmdName := strings.ToLower(os.Getenv(envVarCommand))
	fn, ok := actions[cmdName]
	if !ok {
		known := make([]string, 0, len(actions))
		for k := range actions {
			known = append(known, k)
		}
		sort.Strings(known)
		err := fmt.Errorf("unsupported value %q for %v, expected one of: %v",
			cmdName, envVarCommand, strings.Join(known, ", "))
		fmt.Println(err)
		return err
	}
	if err := fn(); err != nil {
		fmt.Println(err)
		return err
	}
	return nil
}
