package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// Catalog implements catalog.Source using database/sql.
type Catalog struct {
	db    *sql.DB
	clock clock.Clock
}

// NewCatalog returns a new Catalog.
func NewCatalog(db *sql.DB, clk clock.Clock) *Catalog {
	return &Catalog{db: db, clock: clk}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (lot.Item, error) {
	var (
		it      lot.Item
		status  string
		history []int64
	)
	err := s.Scan(&it.ID, &it.Title, &it.About, &it.Description, &it.Image,
		&status, &it.Datetime, &it.Price, &it.MinPrice, pq.Array(&history))
	if err != nil {
		return lot.Item{}, err
	}
	it.Status = lot.Status(status)
	for _, v := range history {
		it.History = append(it.History, int(v))
	}
	return it, nil
}

func (c *Catalog) ListLots(ctx context.Context) ([]lot.Item, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, title, about, description, image, status, datetime, price, min_price, history
		 FROM lots ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	defer rows.Close()

	items := []lot.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lot row: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (c *Catalog) GetLot(ctx context.Context, id string) (lot.Detail, error) {
	it, err := scanItem(c.db.QueryRowContext(ctx,
		`SELECT id, title, about, description, image, status, datetime, price, min_price, history
		 FROM lots WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return lot.Detail{}, fmt.Errorf("getting lot %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return lot.Detail{}, fmt.Errorf("getting lot %s: %w", id, err)
	}
	return lot.Detail{Description: it.Description, History: it.History}, nil
}

func (c *Catalog) SubmitOrder(ctx context.Context, o catalog.Order) (catalog.OrderResult, error) {
	items := slices.Clone(o.Items)
	slices.Sort(items)
	items = slices.Compact(items)
	if len(items) == 0 {
		return catalog.OrderResult{}, fmt.Errorf("%w: no items", catalog.ErrOrderRejected)
	}

	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	err = tx.QueryRowContext(ctx, `SELECT count(*) FROM lots WHERE id = ANY($1)`, pq.Array(items)).Scan(&found)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("checking order items: %w", err)
	}
	if found != len(items) {
		return catalog.OrderResult{}, fmt.Errorf("%w: %d of %d lots unknown", catalog.ErrOrderRejected, len(items)-found, len(items))
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, email, phone, total, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, o.Email, o.Phone, o.Total, c.clock.Now().UTC(),
	); err != nil {
		return catalog.OrderResult{}, fmt.Errorf("inserting order: %w", err)
	}

	for _, lotID := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, lot_id) VALUES ($1, $2)`, id, lotID,
		); err != nil {
			return catalog.OrderResult{}, fmt.Errorf("inserting order item %s: %w", lotID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return catalog.OrderResult{}, fmt.Errorf("committing order: %w", err)
	}
	return catalog.OrderResult{ID: id, Total: o.Total}, nil
}
