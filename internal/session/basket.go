package session

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/lot-storefront/internal/event"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// Validation messages keyed by order field.
const (
	msgEmailRequired = "Email is required"
	msgPhoneRequired = "Phone is required"
)

// Submitter hands a validated order to the networking collaborator.
type Submitter func(ctx context.Context, order Order, total int) error

// BidTooLowError reports a bid below the lot's BidMinimum.
type BidTooLowError struct {
	LotID   string
	Amount  int
	Minimum int
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid %d on %s is below the minimum %d", e.Amount, e.LotID, e.Minimum)
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// ChangeOrderStatus adds id to the basket when add is true and it is absent,
// and removes it when add is false and it is present. Anything else is a no-op.
func (s *State) ChangeOrderStatus(ctx context.Context, id string, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if add {
		s.selectLocked(ctx, id)
		return
	}
	s.deselectLocked(ctx, id)
}

// AddToBasket selects lot id for ordering. Only a closed lot the user leads
// can be selected; the check and the selection share one lock.
func (s *State) AddToBasket(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.findLocked(id)
	if l == nil {
		return fmt.Errorf("selecting %s: %w", id, ErrLotNotFound)
	}
	if l.Status() != lot.StatusClosed || !l.UserLeads() {
		return fmt.Errorf("selecting %s: %w", id, ErrLotNotWon)
	}
	s.selectLocked(ctx, id)
	return nil
}

func (s *State) selectLocked(ctx context.Context, id string) {
	if slices.Contains(s.order.Items, id) {
		return
	}
	s.order.Items = append(slices.Clone(s.order.Items), id)
	s.logger.DebugContext(ctx, "basket item added", slog.String("lot_id", id))
}

func (s *State) deselectLocked(ctx context.Context, id string) {
	if !slices.Contains(s.order.Items, id) {
		return
	}
	s.order.Items = slices.DeleteFunc(slices.Clone(s.order.Items), func(it string) bool { return it == id })
	s.logger.DebugContext(ctx, "basket item removed", slog.String("lot_id", id))
}

// Basket returns a copy of the selected lot ids in selection order.
func (s *State) Basket() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.order.Items)
}

// ClearBasket empties the selection and drops the user's bid marker on every
// selected lot. Ids whose lot is gone are skipped.
func (s *State) ClearBasket(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked(ctx, slices.Clone(s.order.Items))
}

func (s *State) clearLocked(ctx context.Context, ids []string) {
	for _, id := range ids {
		s.order.Items = slices.DeleteFunc(slices.Clone(s.order.Items), func(it string) bool { return it == id })
		l := s.findLocked(id)
		if l == nil {
			s.logger.WarnContext(ctx, "basket references unknown lot", slog.String("lot_id", id))
			continue
		}
		l.RemoveBid()
	}
}

// Total sums the prices of the selected lots. Ids whose lot is gone are skipped.
func (s *State) Total(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLocked(ctx)
}

func (s *State) totalLocked(ctx context.Context) int {
	total := 0
	for _, id := range s.order.Items {
		l := s.findLocked(id)
		if l == nil {
			s.logger.WarnContext(ctx, "basket references unknown lot", slog.String("lot_id", id))
			continue
		}
		total += l.Price()
	}
	return total
}

// Order returns a copy of the order draft.
func (s *State) Order() Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderLocked()
}

func (s *State) orderLocked() Order {
	o := s.order
	o.Items = slices.Clone(s.order.Items)
	if o.Items == nil {
		o.Items = []string{}
	}
	return o
}

// FormErrors returns a copy of the current validation messages.
func (s *State) FormErrors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.formErrors)
}

// SetOrderField sets one field of the draft and re-validates. A valid draft
// is published as OrderReady.
func (s *State) SetOrderField(ctx context.Context, field OrderField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch field {
	case FieldEmail:
		s.order.Email = value
	case FieldPhone:
		s.order.Phone = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}

	if s.validateLocked(ctx) {
		s.pub.Publish(ctx, event.OrderReady{Order: s.orderLocked()})
	}
	return nil
}

// ValidateOrder recomputes the form errors, always publishes them, and
// reports whether the draft is valid.
func (s *State) ValidateOrder(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validateLocked(ctx)
}

func (s *State) validateLocked(ctx context.Context) bool {
	errs := map[string]string{}
	if s.order.Email == "" {
		errs[string(FieldEmail)] = msgEmailRequired
	}
	if s.order.Phone == "" {
		errs[string(FieldPhone)] = msgPhoneRequired
	}
	s.formErrors = errs
	s.pub.Publish(ctx, event.FormErrorsChanged{Errors: maps.Clone(errs)})
	return len(errs) == 0
}

// Checkout validates the draft, hands it to submit and, once submit
// succeeds, clears the submitted lots from the basket. The session lock is
// released while submit runs; lots selected meanwhile stay in the basket.
func (s *State) Checkout(ctx context.Context, submit Submitter) (int, error) {
	ctx, span := s.tracer.Start(ctx, "State.Checkout")
	defer span.End()

	s.mu.Lock()
	if len(s.order.Items) == 0 {
		s.mu.Unlock()
		return 0, ErrEmptyBasket
	}
	if !s.validateLocked(ctx) {
		s.mu.Unlock()
		return 0, ErrOrderInvalid
	}
	order := s.orderLocked()
	total := s.totalLocked(ctx)
	s.mu.Unlock()

	span.SetAttributes(
		attribute.Int("order.items", len(order.Items)),
		attribute.Int("order.total", total),
	)
	if err := submit(ctx, order, total); err != nil {
		return 0, fmt.Errorf("submitting order: %w", err)
	}

	s.mu.Lock()
	s.clearLocked(ctx, order.Items)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "order submitted",
		slog.Int("items", len(order.Items)),
		slog.Int("total", total),
	)
	return total, nil
}
