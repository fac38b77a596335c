// Package config reads and writes the key-value config files kept under
// ~/.strata: config.yaml for default flag values and connections.yaml for
// named storage connections.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/mitchellh/mapstructure"
)

var strataHomeDir string
var Main *File
var Connections *File

func init() {
	Main = NewFileWithDir(mustGetConfigHomeDir(), MainFileFullName)
	Connections = NewFileWithDir(mustGetConfigHomeDir(), ConnectionsFileFullName)
}

const (
	MainDir                 = ".strata"
	MainFileFullName        = "config.yaml"
	ConnectionsFileFullName = "connections.yaml"
)

// FileNotFoundError denotes a missing configuration file.
type FileNotFoundError struct {
	name string
}

func (f FileNotFoundError) Error() string {
	return fmt.Sprintf("config file %q not found", f.name)
}

// KeyNotFoundError denotes a missing key in a configuration file.
type KeyNotFoundError struct {
	configFile string
	key        string
}

func (k KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %q not found in config file %q", k.key, k.configFile)
}

// File is a YAML key-value config file loaded lazily on first access.
type File struct {
	Dirname      string
	FileName     string
	FullPath     string
	data         map[string]interface{}
	dataIsLoaded bool
	mu           sync.Mutex
}

func NewFileWithDir(dirName string, fileName string) *File {
	c := &File{Dirname: dirName, FileName: fileName}
	c.FullPath = path.Join(dirName, fileName)
	c.data = make(map[string]interface{})
	return c
}

// Get fetches the value of key into out, which must be a pointer to a string
// or a struct decodable with mapstructure.
func (c *File) Get(key string, out interface{}) error {
	if reflect.ValueOf(out).Kind() != reflect.Ptr {
		return fmt.Errorf("out must be a pointer")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadData(); err != nil {
		if _, ok := err.(FileNotFoundError); !ok { // a missing file just means no keys yet.
			return err
		}
	}
	d, ok := c.data[key]
	if !ok {
		return KeyNotFoundError{c.FullPath, key}
	}
	return mapstructure.Decode(d, out)
}

// Set writes key=val and persists the file, creating it if required.
func (c *File) Set(key string, val interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadData(); err != nil {
		if _, ok := err.(FileNotFoundError); !ok {
			return err
		}
	}
	c.data[key] = val
	return c.save()
}

// Delete removes key and persists the file.
// An unknown key returns a KeyNotFoundError.
func (c *File) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadData(); err != nil {
		if _, ok := err.(FileNotFoundError); !ok {
			return err
		}
	}
	if _, ok := c.data[key]; !ok {
		return KeyNotFoundError{c.FullPath, key}
	}
	delete(c.data, key)
	return c.save()
}

// Keys returns the sorted key names found in the file.
func (c *File) Keys() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.loadData(); err != nil {
		if _, ok := err.(FileNotFoundError); !ok {
			return nil, err
		}
	}
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// loadData reads the file into memory once. Callers hold c.mu.
func (c *File) loadData() error {
	if c.dataIsLoaded {
		return nil
	}
	b, err := ioutil.ReadFile(c.FullPath)
	if err != nil {
		if os.IsNotExist(err) {
			c.dataIsLoaded = true // treat as an empty file until the first Set.
			return FileNotFoundError{c.FullPath}
		}
		return err
	}
	if err := yaml.Unmarshal(b, &c.data); err != nil {
		return fmt.Errorf("error parsing config file %v: %v", c.FullPath, err)
	}
	if c.data == nil {
		c.data = make(map[string]interface{})
	}
	c.dataIsLoaded = true
	return nil
}

// save persists the in-memory data. Callers hold c.mu.
func (c *File) save() error {
	b, err := yaml.Marshal(c.data)
	if err != nil {
		return fmt.Errorf("error marshalling config file %v: %v", c.FullPath, err)
	}
	if err := makeDir(c.Dirname); err != nil {
		return err
	}
	return ioutil.WriteFile(c.FullPath, b, 0644)
}

// ValueOrUnset renders a value for listing, masking nothing since DSNs may come
// from the environment instead of the file.
func ValueOrUnset(v string) string {
	if strings.TrimSpace(v) == "" {
		return "<unset>"
	}
	return v
}
