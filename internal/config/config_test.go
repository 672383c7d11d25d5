package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func fakeUserConfigDir(t *testing.T, dir string, err error) {
	t.Helper()
	prev := userConfigDir
	userConfigDir = func() (string, error) { return dir, err }
	t.Cleanup(func() { userConfigDir = prev })
}

// named returns Default with a store name.
func named(name string) Config {
	cfg := Default()
	cfg.Store.Name = name
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Empty(t, cfg.Store.Name)
	assert.Equal(t, "info", cfg.Log.Level)

	err := cfg.Validate()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "store.name", ce.Field)

	require.NoError(t, named("notes").Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "graphstore.yaml", `
store:
  name: notes
  directory: /data/notes
  shared_group: group.example
save:
  pending_policy: replace
  delivery: main
  merge_policy: server-wins
schema: notes.cue
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "notes", cfg.Store.Name)
	assert.Equal(t, "/data/notes", cfg.Store.Directory)
	assert.Equal(t, "group.example", cfg.Store.SharedGroup)
	assert.Equal(t, "replace", cfg.Save.PendingPolicy)
	assert.Equal(t, "main", cfg.Save.Delivery)
	assert.Equal(t, "server-wins", cfg.Save.MergePolicy)
	assert.Equal(t, filepath.Join(dir, "notes.cue"), cfg.Schema)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "store:\n  name: notes\nsave:\n  delivery: background\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "notes", cfg.Store.Name)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_MissingName(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.yaml", "save:\n  delivery: background\n")

	_, err := Load(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "store.name", ce.Field)
	assert.Contains(t, err.Error(), "is required")

	cfg, err := Read(path)
	require.NoError(t, err, "Read leaves validation to the caller")
	assert.Empty(t, cfg.Store.Name)
	assert.Equal(t, "background", cfg.Save.Delivery)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, dir, "typo.yaml", "stor:\n  name: x\n"))
	require.Error(t, err, "unknown fields are rejected")

	_, err = Load(writeFile(t, dir, "empty-name.yaml", "store:\n  name: \"  \"\n"))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Config)
		field string
	}{
		{"path in name", func(c *Config) { c.Store.Name = "a/b" }, "store.name"},
		{"dot name", func(c *Config) { c.Store.Name = ".." }, "store.name"},
		{"path in group", func(c *Config) { c.Store.SharedGroup = "../x" }, "store.shared_group"},
		{"pending policy", func(c *Config) { c.Save.PendingPolicy = "queue" }, "save.pending_policy"},
		{"delivery", func(c *Config) { c.Save.Delivery = "ui" }, "save.delivery"},
		{"merge policy", func(c *Config) { c.Save.MergePolicy = "newest" }, "save.merge_policy"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := named("notes")
			tt.edit(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestStoreConfig(t *testing.T) {
	fakeUserConfigDir(t, "/home/u/.config", nil)

	cfg := named("notes")
	sc, err := cfg.StoreConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/u/.config", "graphstore"), sc.Directory)
	assert.Equal(t, "notes", sc.Name)
	assert.Empty(t, sc.SharedGroupID)

	cfg.Store.SharedGroup = "group.example"
	sc, err = cfg.StoreConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/u/.config", "graphstore", "groups", "group.example"), sc.Directory)
	assert.Equal(t, "group.example", sc.SharedGroupID)

	cfg.Store.Directory = "/srv/data"
	sc, err = cfg.StoreConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/data", "groups", "group.example"), sc.Directory)
	assert.Equal(t, filepath.Join("/srv/data", "groups", "group.example", "notes.sqlite"), sc.Path())
}

func TestStoreConfig_NoUserConfigDir(t *testing.T) {
	fakeUserConfigDir(t, "", errors.New("no home"))
	_, err := named("notes").StoreConfig()
	require.Error(t, err)
}

func TestCoordinatorOptions(t *testing.T) {
	cfg := named("notes")
	opts, err := cfg.CoordinatorOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 4)

	dir := t.TempDir()
	cfg.Schema = writeFile(t, dir, "s.cue", "#Note: { title: string }\n")
	opts, err = cfg.CoordinatorOptions(nil)
	require.NoError(t, err)
	assert.Len(t, opts, 5)

	cfg.Schema = filepath.Join(dir, "missing.cue")
	_, err = cfg.CoordinatorOptions(nil)
	require.Error(t, err)
}
