// Package config loads graphstore configuration from YAML.
//
// Example:
//
//	store:
//	  name: notes                    # required
//	  directory: /var/lib/notes      # default: <user config dir>/graphstore
//	  shared_group: group.example    # optional shared container
//	save:
//	  pending_policy: reject         # reject | replace
//	  delivery: background           # background | main
//	  merge_policy: client-wins      # client-wins | server-wins | overwrite | error
//	schema: notes.cue
//	log:
//	  level: info
//	  format: text
package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphstore/internal/coordinator"
	"github.com/roach88/graphstore/internal/graph"
	"github.com/roach88/graphstore/internal/logging"
	"github.com/roach88/graphstore/internal/registry"
	"github.com/roach88/graphstore/internal/schema"
	"github.com/roach88/graphstore/internal/storage"
)

// Config is the root configuration.
type Config struct {
	Store  Store  `yaml:"store"`
	Save   Save   `yaml:"save"`
	Schema string `yaml:"schema,omitempty"`
	Log    Log    `yaml:"log"`
}

// Store locates the store file.
type Store struct {
	Name        string `yaml:"name"`
	Directory   string `yaml:"directory,omitempty"`
	SharedGroup string `yaml:"shared_group,omitempty"`
}

// Save holds save protocol policies.
type Save struct {
	PendingPolicy string `yaml:"pending_policy,omitempty"`
	Delivery      string `yaml:"delivery,omitempty"`
	MergePolicy   string `yaml:"merge_policy,omitempty"`
}

// Log configures the CLI logger.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// userConfigDir is replaced in tests.
var userConfigDir = os.UserConfigDir

// Default returns the configuration used when no file is given. It has no
// store name: every caller must name its store, so Default alone does not
// validate.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read reads a YAML file over Default without validating it, for callers
// that apply overrides first. Unknown fields are rejected. A relative
// schema path is resolved against the file's directory.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Schema != "" && !filepath.IsAbs(cfg.Schema) {
		cfg.Schema = filepath.Join(filepath.Dir(path), cfg.Schema)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	name := strings.TrimSpace(c.Store.Name)
	if name == "" {
		return &ConfigError{Field: "store.name", Message: "is required"}
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return &ConfigError{Field: "store.name", Message: fmt.Sprintf("%q must not contain path elements", name)}
	}
	if g := c.Store.SharedGroup; g != "" && (strings.ContainsAny(g, `/\`) || g == "." || g == "..") {
		return &ConfigError{Field: "store.shared_group", Message: fmt.Sprintf("%q must not contain path elements", g)}
	}
	if _, err := registry.ParsePendingPolicy(c.Save.PendingPolicy); err != nil {
		return &ConfigError{Field: "save.pending_policy", Message: err.Error()}
	}
	if _, err := coordinator.ParseDelivery(c.Save.Delivery); err != nil {
		return &ConfigError{Field: "save.delivery", Message: err.Error()}
	}
	if _, err := graph.ParseMergePolicy(c.Save.MergePolicy); err != nil {
		return &ConfigError{Field: "save.merge_policy", Message: err.Error()}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return &ConfigError{Field: "log.level", Message: err.Error()}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return &ConfigError{Field: "log.format", Message: fmt.Sprintf("unknown format %q (want text or json)", c.Log.Format)}
	}
	return nil
}

// BaseDirectory returns the configured directory, or the platform default
// <user config dir>/graphstore.
func (c Config) BaseDirectory() (string, error) {
	if c.Store.Directory != "" {
		return c.Store.Directory, nil
	}
	base, err := userConfigDir()
	if err != nil {
		return "", fmt.Errorf("determine config directory: %w", err)
	}
	return filepath.Join(base, "graphstore"), nil
}

// StoreConfig resolves the store location. A shared group relocates the
// store to <base>/groups/<group> so that every process of the group opens
// the same file.
func (c Config) StoreConfig() (storage.Config, error) {
	if err := c.Validate(); err != nil {
		return storage.Config{}, err
	}
	dir, err := c.BaseDirectory()
	if err != nil {
		return storage.Config{}, err
	}
	if c.Store.SharedGroup != "" {
		dir = filepath.Join(dir, "groups", c.Store.SharedGroup)
	}
	return storage.Config{
		Name:          strings.TrimSpace(c.Store.Name),
		Directory:     dir,
		SharedGroupID: c.Store.SharedGroup,
	}, nil
}

// CoordinatorOptions translates the save policies and schema into
// coordinator options.
func (c Config) CoordinatorOptions(logger *slog.Logger) ([]coordinator.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	pending, _ := registry.ParsePendingPolicy(c.Save.PendingPolicy)
	delivery, _ := coordinator.ParseDelivery(c.Save.Delivery)
	merge, _ := graph.ParseMergePolicy(c.Save.MergePolicy)

	opts := []coordinator.Option{
		coordinator.WithLogger(logger),
		coordinator.WithPendingPolicy(pending),
		coordinator.WithDelivery(delivery),
		coordinator.WithDefaultMergePolicy(merge),
	}
	if c.Schema != "" {
		s, err := schema.Load(c.Schema)
		if err != nil {
			return nil, err
		}
		opts = append(opts, coordinator.WithSchema(s))
	}
	return opts, nil
}
