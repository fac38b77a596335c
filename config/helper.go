package config

import (
	"fmt"
	"os"
	"path"

	"github.com/mitchellh/go-homedir"
)

// mustGetConfigHomeDir returns the full path to the directory holding all config
// files, resolving it once into a package global.
func mustGetConfigHomeDir() string {
	if strataHomeDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		strataHomeDir = path.Join(home, MainDir)
	}
	return strataHomeDir
}

// makeDir creates the given directory if it does not already exist.
func makeDir(dir string) error {
	_, err := os.Stat(dir)
	if os.IsNotExist(err) { // if it doesn't exist...
		if err = os.Mkdir(dir, 0755); err != nil {
			return fmt.Errorf("error creating directory %v", dir)
		}
		return nil
	}
	return err
}
