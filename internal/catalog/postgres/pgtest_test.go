package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/lot-storefront/internal/catalog/schema"
)

// newTestDB starts a Postgres container, applies the schema, seeds three lots
// and returns a connected *sqlx.DB. The container is terminated when the test
// ends.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := schema.Up(connStr); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	// A second run must be a no-op.
	if err := schema.Up(connStr); err != nil {
		t.Fatalf("re-applying schema: %v", err)
	}

	db, err := sqlx.Connect("postgres", connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	seed := []struct {
		id, title, status string
		price, minPrice   int
		history           []int64
		createdAt         time.Time
	}{
		{"clock", "Clock", "active", 500, 500, []int64{100, 300, 500}, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"vase", "Vase", "closed", 800, 200, []int64{}, time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"lamp", "Lamp", "wait", 100, 100, []int64{}, time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)},
	}
	for _, s := range seed {
		_, err := db.ExecContext(ctx,
			`INSERT INTO lots (id, title, about, description, image, status, datetime, price, min_price, history, created_at)
			 VALUES ($1, $2, 'about', $3, $4, $5, '2025-06-20T12:00', $6, $7, $8, $9)`,
			s.id, s.title, "desc of "+s.id, "/"+s.id+".png", s.status, s.price, s.minPrice, pq.Array(s.history), s.createdAt,
		)
		if err != nil {
			t.Fatalf("seeding lot %s: %v", s.id, err)
		}
	}

	return db
}
