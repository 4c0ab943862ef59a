// Package lot implements the bidding state of a single auction item.
package lot

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lot-storefront/internal/event"
)

var tracer = otel.Tracer("github.com/jensholdgaard/lot-storefront/internal/lot")

// Errors returned by ApplyStatus.
var (
	ErrPriceDecrease  = errors.New("price may not decrease")
	ErrClosedTerminal = errors.New("closed lot cannot be reopened")
	ErrClosedPrice    = errors.New("closed lot price is final")
)

// Status is the auction status of a lot.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
	StatusWait   Status = "wait"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusWait:
		return true
	}
	return false
}

// Rules holds the business constants shared by every lot.
type Rules struct {
	// CloseMultiplier closes a lot once a bid reaches MinPrice*CloseMultiplier.
	CloseMultiplier int `yaml:"close_multiplier"`
	// MinIncrement is added to the current price to suggest the next bid.
	MinIncrement int `yaml:"min_increment"`
}

// DefaultRules returns the buy-out multiplier of 10 and a bid step of 100.
func DefaultRules() Rules {
	return Rules{CloseMultiplier: 10, MinIncrement: 100}
}

// Item is the raw lot record handed over by a catalog source.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	About       string `json:"about"`
	Description string `json:"description,omitempty"`
	Image       string `json:"image"`
	Status      Status `json:"status"`
	Datetime    string `json:"datetime"`
	Price       int    `json:"price"`
	MinPrice    int    `json:"minPrice"`
	History     []int  `json:"history,omitempty"`
}

// Detail is the extended lot data fetched on demand before a preview.
type Detail struct {
	Description string `json:"description"`
	History     []int  `json:"history"`
}

// StatusUpdate is an explicit partial update applied by ApplyStatus.
// A nil field leaves the corresponding value untouched.
type StatusUpdate struct {
	// Status moves the lot to another status. Leaving StatusClosed is rejected.
	Status *Status
	// Datetime replaces the auction boundary timestamp.
	Datetime *string
	// Price records a bid placed by another bidder. It must not be below the
	// current price; a changed price is appended to the history.
	Price *int
}

// Lot is one auction item and its bidding state.
// It is safe for concurrent use.
type Lot struct {
	mu sync.RWMutex

	id          string
	title       string
	about       string
	description string
	image       string

	status   Status
	datetime string
	price    int
	minPrice int
	history  []int

	// lastBid is the amount the session user last bid here, 0 for none.
	lastBid int

	rules Rules
	pub   event.Publisher
}

// New builds a lot from a catalog item. The item's history is copied.
func New(item Item, pub event.Publisher, rules Rules) *Lot {
	if pub == nil {
		pub = event.Discard
	}
	return &Lot{
		id:          item.ID,
		title:       item.Title,
		about:       item.About,
		description: item.Description,
		image:       item.Image,
		status:      item.Status,
		datetime:    item.Datetime,
		price:       item.Price,
		minPrice:    item.MinPrice,
		history:     slices.Clone(item.History),
		rules:       rules,
		pub:         pub,
	}
}

// PlaceBid records a bid by the session user. Amounts are not checked against
// the current price; the lot closes when amount reaches the buy-out threshold.
func (l *Lot) PlaceBid(ctx context.Context, amount int) {
	ctx, span := tracer.Start(ctx, "Lot.PlaceBid",
		trace.WithAttributes(
			attribute.String("lot.id", l.id),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	l.mu.Lock()
	l.price = amount
	l.history = append(l.history, amount)
	l.lastBid = amount
	if amount >= l.minPrice*l.rules.CloseMultiplier {
		l.status = StatusClosed
	}
	status := l.status
	l.mu.Unlock()

	slog.InfoContext(ctx, "bid placed",
		slog.String("lot_id", l.id),
		slog.Int("amount", amount),
		slog.String("status", string(status)),
	)
	l.pub.Publish(ctx, event.LotChanged{ID: l.id, Price: amount})
}

// RemoveBid drops the session user's claim. Price and history are kept.
func (l *Lot) RemoveBid() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastBid = 0
}

// UserLeads reports whether the session user's last bid is the current price.
func (l *Lot) UserLeads() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastBid == l.price
}

// UserParticipates reports whether the session user holds a bid on this lot.
func (l *Lot) UserParticipates() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastBid != 0
}

// BidMinimum is the smallest next bid the storefront proposes.
func (l *Lot) BidMinimum() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.price + l.rules.MinIncrement
}

// ApplyStatus applies an update reported by the catalog. Nothing is changed
// when the update is rejected.
func (l *Lot) ApplyStatus(u StatusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if u.Status != nil && l.status == StatusClosed && *u.Status != StatusClosed {
		return ErrClosedTerminal
	}
	if u.Price != nil && *u.Price < l.price {
		return ErrPriceDecrease
	}
	if u.Price != nil && l.status == StatusClosed && *u.Price != l.price {
		return ErrClosedPrice
	}

	if u.Status != nil {
		l.status = *u.Status
	}
	if u.Datetime != nil {
		l.datetime = *u.Datetime
	}
	if u.Price != nil && *u.Price != l.price {
		l.price = *u.Price
		l.history = append(l.history, l.price)
	}
	return nil
}

// MergeDetail applies fetched detail. The description is always replaced.
// The fetched history is adopted only when it ends at the current price and
// still contains the session user's bid; otherwise the local history is newer.
func (l *Lot) MergeDetail(d Detail) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.description = d.Description
	n := len(d.History)
	if n == 0 || d.History[n-1] != l.price {
		return
	}
	if l.lastBid != 0 && !slices.Contains(d.History, l.lastBid) {
		return
	}
	l.history = slices.Clone(d.History)
}

func (l *Lot) ID() string { return l.id }

func (l *Lot) Title() string { return l.title }

func (l *Lot) Image() string { return l.image }

func (l *Lot) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Lot) Price() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.price
}

func (l *Lot) MinPrice() int { return l.minPrice }

func (l *Lot) Datetime() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.datetime
}

func (l *Lot) Description() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.description
}

// History returns a copy of the bid history, oldest first.
func (l *Lot) History() []int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.history)
}

// View returns a snapshot suitable for notifications and JSON responses.
func (l *Lot) View() event.LotView {
	l.mu.RLock()
	defer l.mu.RUnlock()
	history := slices.Clone(l.history)
	if history == nil {
		history = []int{}
	}
	return event.LotView{
		ID:                l.id,
		Title:             l.title,
		About:             l.about,
		Description:       l.description,
		Image:             l.image,
		Status:            string(l.status),
		Datetime:          l.datetime,
		Price:             l.price,
		MinPrice:          l.minPrice,
		History:           history,
		UserLeads:         l.lastBid == l.price,
		UserParticipates:  l.lastBid != 0,
		BidMinimum:        l.price + l.rules.MinIncrement,
		TimeStatusText:    timeStatusText(l.status, l.datetime),
		AuctionStatusText: auctionStatusText(l.status, l.price),
	}
}
