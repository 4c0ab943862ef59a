package catalog

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/config"
)

// Backend is what a catalog driver hands back to the caller.
type Backend struct {
	Source Source
	// Closer releases underlying resources (DB connection, idle HTTP connections).
	Closer io.Closer
	// Ping checks the underlying connection health.
	Ping func(ctx context.Context) error
}

// Driver is a function that connects to a catalog and returns a Backend.
type Driver func(ctx context.Context, cfg config.CatalogConfig, clk clock.Clock) (*Backend, error)

// registry maps driver names to their factory functions.
var registry = map[string]Driver{}

// Register adds a named driver to the global registry.
// It is intended to be called from init() in each driver package.
func Register(name string, d Driver) {
	registry[name] = d
}

// Open selects the driver specified in cfg.Driver and returns its Backend.
func Open(ctx context.Context, cfg config.CatalogConfig, clk clock.Clock) (*Backend, error) {
	d, ok := registry[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unknown catalog driver %q (registered: %v)", cfg.Driver, registeredNames())
	}
	return d(ctx, cfg, clk)
}

// CloserFunc adapts a func() error into an io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error { return f() }

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}
