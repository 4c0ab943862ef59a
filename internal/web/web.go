// Package web exposes the storefront session over HTTP and streams its
// notifications to browsers over a websocket.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/event"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
	"github.com/jensholdgaard/lot-storefront/internal/session"
)

// Handler serves the storefront API.
type Handler struct {
	session *session.State
	source  catalog.Source
	hub     *Hub
	logger  *slog.Logger
	tracer  trace.Tracer
}

// New returns a Handler.
func New(s *session.State, src catalog.Source, hub *Hub, logger *slog.Logger, tp trace.TracerProvider) *Handler {
	return &Handler{
		session: s,
		source:  src,
		hub:     hub,
		logger:  logger,
		tracer:  tp.Tracer("github.com/jensholdgaard/lot-storefront/internal/web"),
	}
}

// Routes mounts the API under /api and the notification stream at /ws.
func (h *Handler) Routes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/lots", h.listLots).Methods(http.MethodGet)
	api.HandleFunc("/lots/reload", h.reloadLots).Methods(http.MethodPost)
	api.HandleFunc("/lots/{id}", h.getLot).Methods(http.MethodGet)
	api.HandleFunc("/lots/{id}", h.updateLot).Methods(http.MethodPatch)
	api.HandleFunc("/lots/{id}/bids", h.placeBid).Methods(http.MethodPost)
	api.HandleFunc("/lots/{id}/bids", h.removeBid).Methods(http.MethodDelete)
	api.HandleFunc("/preview/{id}", h.openPreview).Methods(http.MethodPost)
	api.HandleFunc("/preview", h.closePreview).Methods(http.MethodDelete)
	api.HandleFunc("/basket", h.getBasket).Methods(http.MethodGet)
	api.HandleFunc("/basket/{id}", h.addToBasket).Methods(http.MethodPut)
	api.HandleFunc("/basket/{id}", h.removeFromBasket).Methods(http.MethodDelete)
	api.HandleFunc("/order", h.getOrder).Methods(http.MethodGet)
	api.HandleFunc("/order/{field}", h.setOrderField).Methods(http.MethodPut)
	api.HandleFunc("/order", h.checkout).Methods(http.MethodPost)
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	api.Use(h.tracingMiddleware, h.loggingMiddleware, corsMiddleware)

	r.HandleFunc("/ws", h.serveWS).Methods(http.MethodGet)
}

// Reload replaces the session's lots with the catalog's current listing.
func (h *Handler) Reload(ctx context.Context) error {
	items, err := h.source.ListLots(ctx)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if err := h.session.SetLots(ctx, items); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
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

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	participate, err := parseFlag(q.Get("participate"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "participate must be a boolean")
		return
	}
	winning, err := parseFlag(q.Get("winning"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "winning must be a boolean")
		return
	}

	status := lot.Status(q.Get("status"))
	if status == "" {
		var lots []*lot.Lot
		for _, l := range h.session.Lots() {
			if participate && !l.UserParticipates() {
				continue
			}
			if winning && !l.UserLeads() {
				continue
			}
			lots = append(lots, l)
		}
		respondJSON(w, http.StatusOK, views(lots))
		return
	}
	if !status.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
		return
	}
	respondJSON(w, http.StatusOK, views(h.session.GetLotsByStatus(status, participate, winning)))
}

func parseFlag(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func (h *Handler) reloadLots(w http.ResponseWriter, r *http.Request) {
	if err := h.Reload(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "reloading catalog", slog.Any("error", err))
		respondError(w, http.StatusBadGateway, "Failed to load lots")
		return
	}
	respondJSON(w, http.StatusOK, views(h.session.Lots()))
}

// lookup writes a 404 and returns false when the lot is unknown.
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*lot.Lot, bool) {
	l, ok := h.session.Lot(mux.Vars(r)["id"])
	if !ok {
		respondError(w, http.StatusNotFound, "Lot not found")
	}
	return l, ok
}

func (h *Handler) getLot(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, l.View())
}

// updateRequest is a catalog-reported change, such as another bidder's price.
type updateRequest struct {
	Status   *lot.Status `json:"status"`
	Datetime *string     `json:"datetime"`
	Price    *int        `json:"price"`
}

func (h *Handler) updateLot(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != nil && !req.Status.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", *req.Status))
		return
	}

	err := h.session.ApplyStatus(r.Context(), l.ID(), lot.StatusUpdate{
		Status:   req.Status,
		Datetime: req.Datetime,
		Price:    req.Price,
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, l.View())
	case errors.Is(err, lot.ErrPriceDecrease), errors.Is(err, lot.ErrClosedTerminal), errors.Is(err, lot.ErrClosedPrice):
		respondError(w, http.StatusConflict, err.Error())
	default:
		h.sessionError(w, r, err)
	}
}

type bidRequest struct {
	Amount int `json:"amount"`
}

func (h *Handler) placeBid(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req bidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.session.PlaceBid(r.Context(), l.ID(), req.Amount); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l.View())
}

func (h *Handler) removeBid(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.session.RemoveBid(r.Context(), l.ID()); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, l.View())
}

// openPreview fetches the lot's detail and previews the merged lot. A failed
// fetch leaves the session untouched.
func (h *Handler) openPreview(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	d, err := h.source.GetLot(ctx, l.ID())
	if err != nil {
		h.catalogError(w, r, err)
		return
	}
	merged, err := h.session.MergeDetail(ctx, l.ID(), d)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.session.SetPreview(ctx, merged)
	respondJSON(w, http.StatusOK, merged.View())
}

func (h *Handler) closePreview(w http.ResponseWriter, r *http.Request) {
	h.session.SetPreview(r.Context(), nil)
	w.WriteHeader(http.StatusNoContent)
}

type basketResponse struct {
	Items []event.LotView `json:"items"`
	Total int             `json:"total"`
}

func (h *Handler) basket(ctx context.Context) basketResponse {
	resp := basketResponse{Items: []event.LotView{}, Total: h.session.Total(ctx)}
	for _, id := range h.session.Basket() {
		if l, ok := h.session.Lot(id); ok {
			resp.Items = append(resp.Items, l.View())
		}
	}
	return resp
}

func (h *Handler) getBasket(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.basket(r.Context()))
}

func (h *Handler) addToBasket(w http.ResponseWriter, r *http.Request) {
	l, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.session.AddToBasket(r.Context(), l.ID()); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.basket(r.Context()))
}

func (h *Handler) removeFromBasket(w http.ResponseWriter, r *http.Request) {
	h.session.ChangeOrderStatus(r.Context(), mux.Vars(r)["id"], false)
	respondJSON(w, http.StatusOK, h.basket(r.Context()))
}

type orderResponse struct {
	Order  session.Order     `json:"order"`
	Errors map[string]string `json:"errors"`
	Valid  bool              `json:"valid"`
}

func (h *Handler) order() orderResponse {
	errs := h.session.FormErrors()
	if errs == nil {
		errs = map[string]string{}
	}
	o := h.session.Order()
	return orderResponse{
		Order:  o,
		Errors: errs,
		Valid:  o.Email != "" && o.Phone != "",
	}
}

func (h *Handler) getOrder(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.order())
}

type fieldRequest struct {
	Value string `json:"value"`
}

func (h *Handler) setOrderField(w http.ResponseWriter, r *http.Request) {
	var req fieldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	field := session.OrderField(mux.Vars(r)["field"])
	if err := h.session.SetOrderField(r.Context(), field, req.Value); err != nil {
		h.sessionError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, h.order())
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var res catalog.OrderResult
	_, err := h.session.Checkout(ctx, func(ctx context.Context, o session.Order, total int) error {
		var err error
		res, err = h.source.SubmitOrder(ctx, catalog.Order{
			Email: o.Email,
			Phone: o.Phone,
			Items: o.Items,
			Total: total,
		})
		return err
	})
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, res)
	case errors.Is(err, session.ErrEmptyBasket):
		respondError(w, http.StatusBadRequest, "Basket is empty")
	case errors.Is(err, session.ErrOrderInvalid):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "Order form is invalid",
			Fields: h.session.FormErrors(),
		})
	default:
		h.catalogError(w, r, err)
	}
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	h.hub.serve(w, r, func() event.Notification {
		return event.CatalogChanged{Lots: views(h.session.Lots())}
	})
}

func (h *Handler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrLotNotFound):
		respondError(w, http.StatusNotFound, "Lot not found")
	case errors.Is(err, session.ErrUnknownField):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrBidTooLow):
		var low *session.BidTooLowError
		if errors.As(err, &low) {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Bid must be at least %d", low.Minimum))
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrLotNotOpen):
		respondError(w, http.StatusConflict, "Lot is not open for bidding")
	case errors.Is(err, session.ErrLotNotWon):
		respondError(w, http.StatusConflict, "Only won lots can be ordered")
	default:
		h.logger.ErrorContext(r.Context(), "session operation failed", slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *Handler) catalogError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		respondError(w, http.StatusNotFound, "Lot not found in catalog")
	case errors.Is(err, catalog.ErrOrderRejected):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "catalog request failed", slog.Any("error", err))
		respondError(w, http.StatusBadGateway, "Catalog unavailable")
	}
}
