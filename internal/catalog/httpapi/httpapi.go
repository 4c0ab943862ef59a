// Package httpapi provides a catalog.Driver backed by the storefront's
// JSON web API.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/config"
	"github.com/jensholdgaard/lot-storefront/internal/lot"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

func init() {
	catalog.Register("http", open)
}

// open is the catalog.Driver for the "http" backend.
func open(_ context.Context, cfg config.CatalogConfig, _ clock.Clock) (*catalog.Backend, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("http catalog: api_url is required")
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	c := New(hc, cfg.APIURL, cfg.CDNURL, otel.GetTracerProvider())
	return &catalog.Backend{
		Source: c,
		Closer: catalog.CloserFunc(func() error {
			hc.CloseIdleConnections()
			return nil
		}),
		Ping: c.Ping,
	}, nil
}

// Client talks to the catalog web API.
type Client struct {
	hc     *http.Client
	apiURL string
	cdnURL string
	tracer trace.Tracer
}

// New returns a Client for apiURL. Relative image paths are prefixed with cdnURL.
func New(hc *http.Client, apiURL, cdnURL string, tp trace.TracerProvider) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		hc:     hc,
		apiURL: strings.TrimRight(apiURL, "/"),
		cdnURL: cdnURL,
		tracer: tp.Tracer("github.com/jensholdgaard/lot-storefront/internal/catalog/httpapi"),
	}
}

type listResponse struct {
	Total int        `json:"total"`
	Items []lot.Item `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ListLots fetches every lot summary.
func (c *Client) ListLots(ctx context.Context) ([]lot.Item, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.ListLots")
	defer span.End()

	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/lot", nil, &resp); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("listing lots: %w", err)
	}
	for i := range resp.Items {
		resp.Items[i].Image = c.imageURL(resp.Items[i].Image)
	}
	span.SetAttributes(attribute.Int("lot.count", len(resp.Items)))
	return resp.Items, nil
}

// GetLot fetches the description and bid history of one lot.
func (c *Client) GetLot(ctx context.Context, id string) (lot.Detail, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.GetLot",
		trace.WithAttributes(attribute.String("lot.id", id)),
	)
	defer span.End()

	var item lot.Item
	if err := c.do(ctx, http.MethodGet, "/lot/"+url.PathEscape(id), nil, &item); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return lot.Detail{}, fmt.Errorf("getting lot %s: %w", id, err)
	}
	return lot.Detail{Description: item.Description, History: item.History}, nil
}

// SubmitOrder posts an order and returns the server's acknowledgement.
func (c *Client) SubmitOrder(ctx context.Context, o catalog.Order) (catalog.OrderResult, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.SubmitOrder",
		trace.WithAttributes(
			attribute.Int("order.items", len(o.Items)),
			attribute.Int("order.total", o.Total),
		),
	)
	defer span.End()

	body, err := json.Marshal(o)
	if err != nil {
		return catalog.OrderResult{}, fmt.Errorf("marshaling order: %w", err)
	}
	var res catalog.OrderResult
	if err := c.do(ctx, http.MethodPost, "/order", body, &res); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return catalog.OrderResult{}, fmt.Errorf("submitting order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", res.ID))
	return res, nil
}

// Ping checks that the lot listing answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/lot", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, r)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	msg := resp.Status
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", catalog.ErrNotFound, msg)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", catalog.ErrOrderRejected, msg)
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
}

func (c *Client) imageURL(p string) string {
	if p == "" || c.cdnURL == "" || strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	return strings.TrimRight(c.cdnURL, "/") + "/" + strings.TrimLeft(p, "/")
}
