package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Extension is the file extension of a store file.
const Extension = "sqlite"

// Config locates a store on disk.
//
// Directory is already resolved: defaults and shared-group containers are the
// config package's job. A store is opened once per process and its Config is
// fixed from then on.
type Config struct {
	Name          string
	Directory     string
	SharedGroupID string
}

// Validate reports an OpenError with kind InvalidConfig when the store
// cannot be located.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &OpenError{Kind: OpenInvalidConfig, Message: "store name is required"}
	}
	if strings.ContainsAny(c.Name, `/\`) || c.Name == "." || c.Name == ".." {
		return &OpenError{Kind: OpenInvalidConfig, Message: fmt.Sprintf("store name %q must not contain path elements", c.Name)}
	}
	if c.Directory == "" {
		return &OpenError{Kind: OpenInvalidConfig, Message: "store directory is required"}
	}
	return nil
}

// Path returns {Directory}/{Name}.sqlite.
func (c Config) Path() string {
	return filepath.Join(c.Directory, c.Name+"."+Extension)
}
