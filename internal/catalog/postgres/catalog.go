package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// Catalog implements catalog.Source with sqlx.
type Catalog struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewCatalog returns a new Catalog.
func NewCatalog(db *sqlx.DB, clk clock.Clock) *Catalog {
	return &Catalog{db: db, clock: clk}
}

type lotRow struct {
	ID          string        `db:"id"`
	Title       string        `db:"title"`
	About       string        `db:"about"`
	Description string        `db:"description"`
	Image       string        `db:"image"`
	Status      string        `db:"status"`
	Datetime    string        `db:"datetime"`
	Price       int           `db:"price"`
	MinPrice    int           `db:"min_price"`
	History     pq.Int64Array `db:"history"`
}

const lotColumns = `id, title, about, description, image, status, datetime, price, min_price, history`

func (r lotRow) item() lot.Item {
	return lot.Item{
		ID:          r.ID,
		Title:       r.Title,
		About:       r.About,
		Description: r.Description,
		Image:       r.Image,
		Status:      lot.Status(r.Status),
		Datetime:    r.Datetime,
		Price:       r.Price,
		MinPrice:    r.MinPrice,
		History:     ints(r.History),
	}
}

func (c *Catalog) ListLots(ctx context.Context) ([]lot.Item, error) {
	var rows []lotRow
	err := c.db.SelectContext(ctx, &rows, `SELECT `+lotColumns+` FROM lots ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	items := make([]lot.Item, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return items, nil
}

func (c *Catalog) GetLot(ctx context.Context, id string) (lot.Detail, error) {
	var r lotRow
	err := c.db.GetContext(ctx, &r, `SELECT `+lotColumns+` FROM lots WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return lot.Detail{}, fmt.Errorf("getting lot %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return lot.Detail{}, fmt.Errorf("getting lot %s: %w", id, err)
	}
	return lot.Detail{Description: r.Description, History: ints(r.History)}, nil
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

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var found int
	if err := tx.GetContext(ctx, &found, `SELECT count(*) FROM lots WHERE id = ANY($1)`, pq.Array(items)); err != nil {
		return catalog.OrderResult{}, fmt.Errorf("checking order items: %w", err)
	}
	if found != len(items) {
		return catalog.OrderResult{}, fmt.Errorf("%w: %d of %d lots unknown", catalog.ErrOrderRejected, len(items)-found, len(items))
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO orders (id, email, phone, total, created_at) VALUES ($1, $2, $3, $4, $5)`,
		id, o.Email, o.Phone, o.Total, c.clock.Now().UTC(),
	)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("inserting order: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO order_items (order_id, lot_id) VALUES ($1, $2)`)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, lotID := range items {
		if _, err := stmt.ExecContext(ctx, id, lotID); err != nil {
			return catalog.OrderResult{}, fmt.Errorf("inserting order item %s: %w", lotID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return catalog.OrderResult{}, fmt.Errorf("committing order: %w", err)
	}
	return catalog.OrderResult{ID: id, Total: o.Total}, nil
}

func ints(a []int64) []int {
	if len(a) == 0 {
		return nil
	}
	out := make([]int, len(a))
	for i, v := range a {
		out[i] = int(v)
	}
	return out
}
