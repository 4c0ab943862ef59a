package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/catalog/httpapi"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/lot", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total":2,"items":[
			{"id":"a","title":"Clock","about":"old","image":"/clock.png","status":"active","datetime":"2025-06-20T12:00","price":500,"minPrice":500},
			{"id":"b","title":"Vase","about":"blue","image":"https://img.example.com/vase.png","status":"closed","datetime":"2025-06-01T12:00","price":800,"minPrice":200}
		]}`))
	})
	mux.HandleFunc("GET /api/lot/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "a" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"NotFound"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"a","title":"Clock","description":"A clock from 1900.","history":[100,300,500],"price":500,"minPrice":500,"status":"active"}`))
	})
	mux.HandleFunc("POST /api/order", func(w http.ResponseWriter, r *http.Request) {
		var o catalog.Order
		if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if o.Email == "" || len(o.Items) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"Invalid order"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(catalog.OrderResult{ID: "order-1", Total: o.Total})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server) *httpapi.Client {
	return httpapi.New(srv.Client(), srv.URL+"/api/", "https://cdn.example.com/content", noop.NewTracerProvider())
}

func TestClient_ListLots(t *testing.T) {
	c := newClient(newServer(t))

	items, err := c.ListLots(context.Background())
	if err != nil {
		t.Fatalf("ListLots: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Image != "https://cdn.example.com/content/clock.png" {
		t.Errorf("Image = %q, want CDN-prefixed path", items[0].Image)
	}
	if items[1].Image != "https://img.example.com/vase.png" {
		t.Errorf("absolute Image rewritten to %q", items[1].Image)
	}
	if items[1].Status != "closed" || items[1].MinPrice != 200 {
		t.Errorf("unexpected second item: %+v", items[1])
	}
}

func TestClient_GetLot(t *testing.T) {
	c := newClient(newServer(t))

	d, err := c.GetLot(context.Background(), "a")
	if err != nil {
		t.Fatalf("GetLot: %v", err)
	}
	if d.Description != "A clock from 1900." {
		t.Errorf("Description = %q", d.Description)
	}
	if len(d.History) != 3 || d.History[2] != 500 {
		t.Errorf("History = %v, want [100 300 500]", d.History)
	}

	_, err = c.GetLot(context.Background(), "missing")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("GetLot(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClient_SubmitOrder(t *testing.T) {
	c := newClient(newServer(t))

	tests := []struct {
		name    string
		order   catalog.Order
		wantErr error
		wantID  string
	}{
		{
			name:   "accepted",
			order:  catalog.Order{Email: "a@b.c", Phone: "+1", Items: []string{"b"}, Total: 800},
			wantID: "order-1",
		},
		{
			name:    "rejected",
			order:   catalog.Order{Phone: "+1", Items: []string{"b"}, Total: 800},
			wantErr: catalog.ErrOrderRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.SubmitOrder(context.Background(), tt.order)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("SubmitOrder error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SubmitOrder: %v", err)
			}
			if res.ID != tt.wantID || res.Total != tt.order.Total {
				t.Errorf("got %+v", res)
			}
		})
	}
}

func TestClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	c := httpapi.New(srv.Client(), srv.URL, "", noop.NewTracerProvider())

	if _, err := c.ListLots(context.Background()); err == nil {
		t.Fatal("expected error for 502 response")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected Ping error for 502 response")
	}
}
