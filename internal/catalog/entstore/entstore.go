// Package entstore provides a catalog.Driver that runs plain SQL through
// database/sql with OTEL instrumentation via otelsql.
//
// It uses the same Postgres schema as the sqlx driver but goes through the
// standard database/sql interface, which is the approach ent uses under the
// hood.
package entstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	_ "github.com/lib/pq" // postgres driver
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/catalog/schema"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/config"
)

func init() {
	catalog.Register("ent", openEnt)
}

// openEnt is the catalog.Driver for the "ent" backend.
func openEnt(ctx context.Context, cfg config.CatalogConfig, clk clock.Clock) (*catalog.Backend, error) {
	db, err := Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Migrate {
		if err := schema.Up(cfg.Database.URL()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &catalog.Backend{
		Source: NewCatalog(db, clk),
		Closer: db,
		Ping:   db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection via database/sql with OTEL
// instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := otelsql.Open("postgres", cfg.DSN(),
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("opening ent database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging ent database: %w", err)
	}

	return db, nil
}
