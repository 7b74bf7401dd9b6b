// factory.go maps archive backend names (local, s3, azure, gcs) to constructors.
package storage

import (
	"fmt"
	"sort"

	"github.com/audit-trail/audit-trail/internal/config"
)

// FactoryFunc creates a backend from the application config.
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// Registered returns the registered backend names in sorted order.
func Registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewStorage creates the archive backend selected by archive.backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Archive.Backend]
	if !ok {
		return nil, fmt.Errorf("unsupported archive backend: %q (registered: %v)", cfg.Archive.Backend, Registered())
	}
	return factory(cfg)
}
