package actions

import (
	"fmt"

	"github.com/strataetl/strata/config"
	c "github.com/strataetl/strata/constants"
	"github.com/strataetl/strata/helper"
	"github.com/strataetl/strata/storage"
)

type ConnAddConfig struct {
	ConfigFile *config.File `errorTxt:"config-file" mandatory:"yes"`
	Name       string       `errorTxt:"connection-name" mandatory:"yes"`
	Type       string       `errorTxt:"connection type" mandatory:"yes"`
	Dsn        string
	Force      bool
}

type ConnRemoveConfig struct {
	ConfigFile *config.File `errorTxt:"config-file" mandatory:"yes"`
	Name       string       `errorTxt:"connection-name" mandatory:"yes"`
}

type ConnListConfig struct {
	ConfigFile *config.File `errorTxt:"config-file" mandatory:"yes"`
}

// RunConnAdd stores a named storage connection in the connections file.
func RunConnAdd(cfg *ConnAddConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	switch cfg.Type {
	case c.ConnectionTypeMemory:
	case c.ConnectionTypeSqlServer, c.ConnectionTypeSnowflake:
		if cfg.Dsn == "" {
			return fmt.Errorf("connection type %q needs a dsn (or set %v)", cfg.Type, helper.GetDsnEnvVarName(cfg.Name))
		}
	default:
		return fmt.Errorf("unknown connection type %q", cfg.Type)
	}
	d := storage.ConnectionDetails{}
	if err := cfg.ConfigFile.Get(cfg.Name, &d); err == nil && !cfg.Force {
		return fmt.Errorf("connection %q exists, use force to update it or remove it first", cfg.Name)
	} else if err != nil {
		if _, ok := err.(config.KeyNotFoundError); !ok {
			return err
		}
	}
	if err := cfg.ConfigFile.Set(cfg.Name, storage.ConnectionDetails{Type: cfg.Type, Dsn: cfg.Dsn}); err != nil {
		return fmt.Errorf("error writing connections file: %v", err)
	}
	fmt.Printf("Connection %q added to %q\n", cfg.Name, cfg.ConfigFile.FullPath)
	return nil
}

// RunConnRemove removes a named connection from the connections file.
func RunConnRemove(cfg *ConnRemoveConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	if err := cfg.ConfigFile.Delete(cfg.Name); err != nil {
		return fmt.Errorf("unable to remove connection %q: %v", cfg.Name, err)
	}
	fmt.Printf("Connection %q removed\n", cfg.Name)
	return nil
}

// RunConnList prints the configured connection names and types.
func RunConnList(cfg *ConnListConfig) error {
	if err := helper.ValidateStructIsPopulated(cfg); err != nil {
		return err
	}
	keys, err := cfg.ConfigFile.Keys()
	if err != nil {
		return err
	}
	for _, k := range keys {
		d := storage.ConnectionDetails{}
		if err := cfg.ConfigFile.Get(k, &d); err != nil {
			return err
		}
		fmt.Printf("%v: type=%v dsn=%v\n", k, d.Type, config.ValueOrUnset(d.Dsn))
	}
	return nil
}
