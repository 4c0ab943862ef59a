package postgres_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/catalog/postgres"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
)

func TestCatalog_ListLots(t *testing.T) {
	db := newTestDB(t)
	c := postgres.NewCatalog(db, clock.Real{})

	items, err := c.ListLots(context.Background())
	if err != nil {
		t.Fatalf("ListLots: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ListLots returned %d, want 3", len(items))
	}
	for i, want := range []string{"clock", "vase", "lamp"} {
		if items[i].ID != want {
			t.Errorf("items[%d].ID = %q, want %q", i, items[i].ID, want)
		}
	}
	if items[0].Status != "active" || items[0].MinPrice != 500 {
		t.Errorf("unexpected first item: %+v", items[0])
	}
	if len(items[0].History) != 3 || items[0].History[2] != 500 {
		t.Errorf("History = %v, want [100 300 500]", items[0].History)
	}
}

func TestCatalog_GetLot(t *testing.T) {
	db := newTestDB(t)
	c := postgres.NewCatalog(db, clock.Real{})
	ctx := context.Background()

	d, err := c.GetLot(ctx, "clock")
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	if d.Description != "desc of clock" {
		t.Errorf("Description = %q", d.Description)
	}
	if len(d.History) != 3 {
		t.Errorf("History = %v", d.History)
	}

	if _, err := c.GetLot(ctx, "missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetLot(missing) error = %v, want ErrNotFound", err)
	}
}

func TestCatalog_SubmitOrder(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	c := postgres.NewCatalog(db, &clock.Fixed{T: now})
	ctx := context.Background()

	res, err := c.SubmitOrder(ctx, catalog.Order{
		Email: "buyer@example.com",
		Phone: "+10000000",
		Items: []string{"vase", "clock", "vase"},
		Total: 1300,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if res.ID == "" || res.Total != 1300 {
		t.Fatalf("unexpected result %+v", res)
	}

	var n int
	if err := db.GetContext(ctx, &n, `SELECT count(*) FROM order_items WHERE order_id = $1`, res.ID); err != nil {
		t.Fatalf("counting items: %v", err)
	}
	if n != 2 {
		t.Errorf("stored %d order items, want 2", n)
	}

	var created time.Time
	if err := db.GetContext(ctx, &created, `SELECT created_at FROM orders WHERE id = $1`, res.ID); err != nil {
		t.Fatalf("reading order: %v", err)
	}
	if !created.Equal(now) {
		t.Errorf("created_at = %v, want %v", created, now)
	}
}

func TestCatalog_SubmitOrder_Rejected(t *testing.T) {
	db := newTestDB(t)
	c := postgres.NewCatalog(db, clock.Real{})

	tests := []struct {
		name  string
		items []string
	}{
		{name: "no items"},
		{name: "unknown lot", items: []string{"clock", "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.SubmitOrder(context.Background(), catalog.Order{Email: "a@b.c", Phone: "1", Items: tt.items})
			if !errors.Is(err, catalog.ErrOrderRejected) {
				t.Errorf("SubmitOrder error = %v, want ErrOrderRejected", err)
			}
		})
	}

	var n int
	if err := db.Get(&n, `SELECT count(*) FROM orders`); err != nil {
		t.Fatalf("counting orders: %v", err)
	}
	if n != 0 {
		t.Errorf("rejected orders were stored: %d rows", n)
	}
}
