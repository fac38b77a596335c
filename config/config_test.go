package config

import (
	"io/ioutil"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFile(t *testing.T) *File {
	t.Helper()
	dir, err := ioutil.TempDir("", "strata-config")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return NewFileWithDir(dir, "config.yaml")
}

func TestGetMissingFileAndKey(t *testing.T) {
	f := newTestFile(t)
	var v string
	err := f.Get("log-level", &v)
	require.Error(t, err)
	_, ok := err.(KeyNotFoundError)
	assert.True(t, ok, "expected KeyNotFoundError, got %T", err)
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Set("log-level", "debug"))
	var v string
	require.NoError(t, f.Get("log-level", &v))
	assert.Equal(t, "debug", v)
	// The value must survive a fresh load from disk.
	f2 := NewFileWithDir(f.Dirname, f.FileName)
	v = ""
	require.NoError(t, f2.Get("log-level", &v))
	assert.Equal(t, "debug", v)
	require.NoError(t, f2.Delete("log-level"))
	err := f2.Get("log-level", &v)
	_, ok := err.(KeyNotFoundError)
	assert.True(t, ok)
}

func TestGetDecodesStructs(t *testing.T) {
	type conn struct {
		Type string `json:"type"`
		Dsn  string `json:"dsn"`
	}
	f := newTestFile(t)
	require.NoError(t, f.Set("warehouse", map[string]interface{}{"type": "snowflake", "dsn": "sf://user@account/db"}))
	var c conn
	require.NoError(t, f.Get("warehouse", &c))
	assert.Equal(t, "snowflake", c.Type)
	assert.Equal(t, "sf://user@account/db", c.Dsn)
}

func TestKeysSorted(t *testing.T) {
	f := newTestFile(t)
	require.NoError(t, f.Set("zulu", "1"))
	require.NoError(t, f.Set("alpha", "2"))
	keys, err := f.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zulu"}, keys)
	// Sanity check the file landed where we expect.
	_, err = os.Stat(path.Join(f.Dirname, f.FileName))
	assert.NoError(t, err)
}
