// Package catalog defines the remote source of lots and the destination of
// submitted orders.
package catalog

import (
	"context"
	"errors"

	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// Errors returned by Source implementations.
var (
	ErrNotFound      = errors.New("lot not found")
	ErrOrderRejected = errors.New("order rejected")
)

// Order is a checkout request for the won lots in the basket.
type Order struct {
	ID    string   `json:"id,omitempty"`
	Email string   `json:"email"`
	Phone string   `json:"phone"`
	Items []string `json:"items"`
	Total int      `json:"total"`
}

// OrderResult is the catalog's acknowledgement of an accepted order.
type OrderResult struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

// Source fetches lots and accepts orders.
type Source interface {
	ListLots(ctx context.Context) ([]lot.Item, error)
	GetLot(ctx context.Context, id string) (lot.Detail, error)
	SubmitOrder(ctx context.Context, o Order) (OrderResult, error)
}
