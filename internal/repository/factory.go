// This file contains the factory that opens repositories based on configuration.

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/config"
)

// Repositories holds all repository instances.
type Repositories struct {
	User  UserRepository
	Role  RoleRepository
	Group GroupRepository
}

// Database is the connection behind a set of repositories.
type Database interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Migrate(ctx context.Context) error
	SchemaVersion(ctx context.Context) (int, error)
	Close() error
}

// OpenResult contains the opened repositories and their database connection.
type OpenResult struct {
	Repos    *Repositories
	Database Database
}

// OpenFunc opens a storage backend.
type OpenFunc func(ctx context.Context, cfg config.DatabaseConfig, parseHash HashParser, logger zerolog.Logger) (*OpenResult, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenFunc)
)

// RegisterDriver makes a storage backend available under name.
// Backends register themselves from their package init.
func RegisterDriver(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("repository: driver registered twice: " + name)
	}
	drivers[name] = open
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory creates repositories based on configuration.
type Factory struct {
	cfg    config.DatabaseConfig
	logger zerolog.Logger
}

// NewFactory creates a new repository factory.
func NewFactory(cfg config.DatabaseConfig, logger zerolog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// Driver returns the configured database driver.
func (f *Factory) Driver() string {
	return f.cfg.Driver
}

// IsEmbedded returns true if using embedded database.
func (f *Factory) IsEmbedded() bool {
	return f.cfg.IsEmbedded()
}

// Open connects to the configured backend and builds its repositories.
func (f *Factory) Open(ctx context.Context, parseHash HashParser) (*OpenResult, error) {
	driversMu.RLock()
	open, ok := drivers[f.cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (registered: %v)", f.cfg.Driver, Drivers())
	}

	f.logger.Debug().Str("driver", f.cfg.Driver).Msg("opening repositories")
	return open(ctx, f.cfg, parseHash, f.logger)
}
