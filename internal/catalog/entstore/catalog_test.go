package entstore_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/catalog/entstore"
	"github.com/jensholdgaard/lot-storefront/internal/catalog/schema"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
)

func newTestDB(t *testing.T) *sql.DB {
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

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(ctx,
		`INSERT INTO lots (id, title, status, price, min_price, history, created_at) VALUES
		 ('clock', 'Clock', 'active', 500, 500, '{100,300,500}', '2025-01-01T00:00:00Z'),
		 ('vase', 'Vase', 'closed', 800, 200, '{}', '2025-01-02T00:00:00Z')`)
	if err != nil {
		t.Fatalf("seeding lots: %v", err)
	}
	return db
}

func TestCatalog_ListAndGet(t *testing.T) {
	db := newTestDB(t)
	c := entstore.NewCatalog(db, clock.Real{})
	ctx := context.Background()

	items, err := c.ListLots(ctx)
	if err != nil {
		t.Fatalf("ListLots: %v", err)
	}
	if len(items) != 2 || items[0].ID != "clock" || items[1].ID != "vase" {
		t.Fatalf("ListLots = %+v, want clock, vase", items)
	}
	if items[1].History != nil {
		t.Errorf("empty history = %v, want nil", items[1].History)
	}

	d, err := c.GetLot(ctx, "clock")
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	if len(d.History) != 3 || d.History[0] != 100 {
		t.Errorf("History = %v, want [100 300 500]", d.History)
	}

	if _, err := c.GetLot(ctx, "ghost"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetLot(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestCatalog_SubmitOrder(t *testing.T) {
	db := newTestDB(t)
	c := entstore.NewCatalog(db, clock.Real{})
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, catalog.Order{Email: "a@b.c", Phone: "1", Items: []string{"vase"}, Total: 800})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.Total != 800 || res.ID == "" {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = c.SubmitOrder(ctx, catalog.Order{Email: "a@b.c", Phone: "1", Items: []string{"ghost"}})
	if !errors.Is(err, catalog.ErrOrderRejected) {
		t.Errorf("SubmitOrder(ghost) error = %v, want ErrOrderRejected", err)
	}
}
