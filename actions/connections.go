package actions

import (
	"fmt"
	"strings"

	"github.com/strataetl/strata/config"
	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/storage"
)

// ConnectionLoader resolves a named storage connection to its details.
type ConnectionLoader interface {
	LoadConnection(name string) (storage.ConnectionDetails, error)
}

// ConfigFileLoader loads connections from the connections config file, with
// environment variables taking priority so containerised deployments never
// need the file.
type ConfigFileLoader struct {
	File *config.File
}

func NewConfigFileLoader() ConfigFileLoader {
	return ConfigFileLoader{File: config.Connections}
}

// LoadConnection resolves name into connection details.
// STRATA_<NAME>_DSN and STRATA_<NAME>_TYPE override the file values.
func (l ConfigFileLoader) LoadConnection(name string) (storage.ConnectionDetails, error) {
	d := storage.ConnectionDetails{}
	if name == "" || strings.EqualFold(name, c.ConnectionTypeMemory) {
		// The in-memory store needs no details.
		d.Type = c.ConnectionTypeMemory
		return d, nil
	}
	if err := l.File.Get(name, &d); err != nil {
		if _, ok := err.(config.KeyNotFoundError); !ok {
			return d, err
		} // else fall through and try the environment.
	}
	if v, _ := helper.GetEnvVar(GetTypeEnvVarName(name), false); v != "" {
		d.Type = v
	}
	if v, _ := helper.GetEnvVar(helper.GetDsnEnvVarName(name), false); v != "" {
		d.Dsn = v
	}
	if d.Type == "" {
		return d, fmt.Errorf("connection %q not found in %v or the environment", name, l.File.FullPath)
	}
	return d, nil
}

// GetTypeEnvVarName builds the env var name holding the store type for a named connection.
func GetTypeEnvVarName(connectionName string) string {
	n := strings.TrimSpace(strings.ToUpper(connectionName))
	return fmt.Sprintf("%v_%v_TYPE", c.EnvVarPrefix, n)
}
