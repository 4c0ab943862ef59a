// Package session holds the single user's view of the storefront: the lot
// collection, the basket of won lots and the order form.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lot-storefront/internal/event"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

const instrumentation = "github.com/jensholdgaard/lot-storefront/internal/session"

// Errors returned by session operations.
var (
	ErrLotNotFound  = errors.New("lot not found")
	ErrInvalidLots  = errors.New("invalid lot collection")
	ErrUnknownField = errors.New("unknown order field")
	ErrOrderInvalid = errors.New("order form is invalid")
	ErrEmptyBasket  = errors.New("basket is empty")
	ErrLotNotOpen   = errors.New("lot is not open for bidding")
	ErrBidTooLow    = errors.New("bid is below the minimum")
	ErrLotNotWon    = errors.New("lot was not won")
)

// Order is the purchase form's working data; Items is the basket selection.
type Order = event.OrderDraft

// OrderField names an editable field of the order form.
type OrderField string

const (
	FieldEmail OrderField = "email"
	FieldPhone OrderField = "phone"
)

// State is the session singleton. Every operation holds one mutex for its
// whole duration, including the notification it publishes, so a mutation and
// its notification are never interleaved with another operation.
type State struct {
	mu sync.Mutex

	lots       []*lot.Lot
	order      Order // order.Items is the basket selection
	formErrors map[string]string
	preview    *lot.Lot

	pub    event.Publisher
	rules  lot.Rules
	logger *slog.Logger
	tracer trace.Tracer

	bidsPlaced metric.Int64Counter
	lotsClosed metric.Int64Counter
}

// New creates an empty session publishing to pub.
func New(pub event.Publisher, logger *slog.Logger, tp trace.TracerProvider, mp metric.MeterProvider, rules lot.Rules) (*State, error) {
	if pub == nil {
		pub = event.Discard
	}
	meter := mp.Meter(instrumentation)
	bidsPlaced, err := meter.Int64Counter("storefront.bids.placed",
		metric.WithDescription("Bids placed by the session user"))
	if err != nil {
		return nil, fmt.Errorf("creating bids counter: %w", err)
	}
	lotsClosed, err := meter.Int64Counter("storefront.lots.closed",
		metric.WithDescription("Lots closed by a buy-out bid"))
	if err != nil {
		return nil, fmt.Errorf("creating closed lots counter: %w", err)
	}

	return &State{
		formErrors: map[string]string{},
		pub:        pub,
		rules:      rules,
		logger:     logger,
		tracer:     tp.Tracer(instrumentation),
		bidsPlaced: bidsPlaced,
		lotsClosed: lotsClosed,
	}, nil
}

// SetLots replaces the whole collection with lots built from items. Bid
// markers of the previous generation are discarded. Items with an empty,
// duplicate or unknown-status entry are rejected and the state is unchanged.
func (s *State) SetLots(ctx context.Context, items []lot.Item) error {
	ctx, span := s.tracer.Start(ctx, "State.SetLots",
		trace.WithAttributes(attribute.Int("lots.count", len(items))),
	)
	defer span.End()

	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if it.ID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidLots, i)
		}
		if _, dup := seen[it.ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidLots, it.ID)
		}
		if !it.Status.Valid() {
			return fmt.Errorf("%w: lot %q has status %q", ErrInvalidLots, it.ID, it.Status)
		}
		seen[it.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	lots := make([]*lot.Lot, 0, len(items))
	for _, it := range items {
		lots = append(lots, lot.New(it, s.pub, s.rules))
	}
	s.lots = lots

	s.logger.InfoContext(ctx, "catalog loaded", slog.Int("lots", len(lots)))
	s.pub.Publish(ctx, event.CatalogChanged{Lots: views(lots)})
	return nil
}

// SetPreview records the lot shown in detail. A nil lot closes the preview.
func (s *State) SetPreview(ctx context.Context, l *lot.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setPreviewLocked(ctx, l)
}

func (s *State) setPreviewLocked(ctx context.Context, l *lot.Lot) {
	s.preview = l
	if l == nil {
		s.pub.Publish(ctx, event.PreviewChanged{})
		return
	}
	v := l.View()
	s.pub.Publish(ctx, event.PreviewChanged{Lot: &v})
}

// Preview returns the previewed lot, or nil.
func (s *State) Preview() *lot.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preview
}

// PlaceBid places the session user's bid on lot id. The lot must be active
// and amount must reach its BidMinimum; both are checked under the same lock
// as the bid itself.
func (s *State) PlaceBid(ctx context.Context, id string, amount int) error {
	ctx, span := s.tracer.Start(ctx, "State.PlaceBid",
		trace.WithAttributes(
			attribute.String("lot.id", id),
			attribute.Int("bid.amount", amount),
		),
	)
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.findLocked(id)
	if l == nil {
		return fmt.Errorf("placing bid on %s: %w", id, ErrLotNotFound)
	}
	if l.Status() != lot.StatusActive {
		return fmt.Errorf("placing bid on %s: %w", id, ErrLotNotOpen)
	}
	if minBid := l.BidMinimum(); amount < minBid {
		return &BidTooLowError{LotID: id, Amount: amount, Minimum: minBid}
	}

	l.PlaceBid(ctx, amount)
	s.bidsPlaced.Add(ctx, 1)
	if l.Status() == lot.StatusClosed {
		s.lotsClosed.Add(ctx, 1)
		s.logger.InfoContext(ctx, "lot closed by buy-out",
			slog.String("lot_id", id),
			slog.Int("amount", amount),
		)
	}
	return nil
}

// RemoveBid drops the session user's claim on lot id. A lot the user no
// longer leads cannot stay in the basket, so it is deselected as well.
func (s *State) RemoveBid(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.findLocked(id)
	if l == nil {
		return fmt.Errorf("removing bid on %s: %w", id, ErrLotNotFound)
	}
	l.RemoveBid()
	s.deselectLocked(ctx, id)
	s.logger.DebugContext(ctx, "bid removed", slog.String("lot_id", id))
	return nil
}

// ApplyStatus applies a catalog-reported update to lot id.
func (s *State) ApplyStatus(ctx context.Context, id string, u lot.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.findLocked(id)
	if l == nil {
		return fmt.Errorf("updating %s: %w", id, ErrLotNotFound)
	}
	if err := l.ApplyStatus(u); err != nil {
		return fmt.Errorf("updating %s: %w", id, err)
	}
	s.pub.Publish(ctx, event.LotChanged{ID: id, Price: l.Price()})
	return nil
}

// MergeDetail merges fetched detail into lot id and re-publishes the preview
// when that lot is the one being previewed.
func (s *State) MergeDetail(ctx context.Context, id string, d lot.Detail) (*lot.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.findLocked(id)
	if l == nil {
		return nil, fmt.Errorf("merging detail into %s: %w", id, ErrLotNotFound)
	}
	l.MergeDetail(d)
	if s.preview == l {
		s.setPreviewLocked(ctx, l)
	}
	return l, nil
}

// Lot returns the lot with the given id.
func (s *State) Lot(id string) (*lot.Lot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.findLocked(id)
	return l, l != nil
}

// Lots returns the current collection in catalog order.
func (s *State) Lots() []*lot.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.lots)
}

// GetLotsByStatus filters lots by exact status, optionally keeping only lots
// the user participates in and/or currently leads. Catalog order is kept.
func (s *State) GetLotsByStatus(status lot.Status, participateOnly, winningOnly bool) []*lot.Lot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*lot.Lot{}
	for _, l := range s.lots {
		if l.Status() != status {
			continue
		}
		if participateOnly && !l.UserParticipates() {
			continue
		}
		if winningOnly && !l.UserLeads() {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Won returns closed lots the user leads: the candidates for the basket.
func (s *State) Won() []*lot.Lot {
	return s.GetLotsByStatus(lot.StatusClosed, false, true)
}

// Bidding returns active lots the user has bid on.
func (s *State) Bidding() []*lot.Lot {
	return s.GetLotsByStatus(lot.StatusActive, true, false)
}

func (s *State) findLocked(id string) *lot.Lot {
	for _, l := range s.lots {
		if l.ID() == id {
			return l
		}
	}
	return nil
}

func views(lots []*lot.Lot) []event.LotView {
	out := make([]event.LotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, l.View())
	}
	return out
}
