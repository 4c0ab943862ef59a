package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/jensholdgaard/lot-storefront/internal/event"
)

func TestBus_PublishDeliversToTypeAndCatchAll(t *testing.T) {
	bus := event.NewBus()

	var lotChanged, previews, all int
	bus.Subscribe(event.TypeLotChanged, func(_ context.Context, n event.Notification) {
		lotChanged++
		if got := n.(event.LotChanged).Price; got != 500 {
			t.Errorf("price = %d, want 500", got)
		}
	})
	bus.Subscribe(event.TypePreviewChanged, func(context.Context, event.Notification) { previews++ })
	bus.SubscribeAll(func(context.Context, event.Notification) { all++ })

	bus.Publish(context.Background(), event.LotChanged{ID: "l1", Price: 500})

	if lotChanged != 1 {
		t.Errorf("lot.changed handler calls = %d, want 1", lotChanged)
	}
	if previews != 0 {
		t.Errorf("preview.changed handler calls = %d, want 0", previews)
	}
	if all != 1 {
		t.Errorf("catch-all handler calls = %d, want 1", all)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := event.NewBus()

	var calls int
	unsubscribe := bus.Subscribe(event.TypeOrderReady, func(context.Context, event.Notification) { calls++ })
	unsubscribeAll := bus.SubscribeAll(func(context.Context, event.Notification) { calls++ })

	bus.Publish(context.Background(), event.OrderReady{})
	unsubscribe()
	unsubscribeAll()
	bus.Publish(context.Background(), event.OrderReady{})

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestBus_HandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := event.NewBus()
	bus.SubscribeAll(func(context.Context, event.Notification) {
		bus.Subscribe(event.TypeLotChanged, func(context.Context, event.Notification) {})
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), event.LotChanged{ID: "l1"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish deadlocked when a handler subscribed")
	}
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	env, err := event.Encode(event.FormErrorsChanged{Errors: map[string]string{"email": "Email is required"}}, at)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if env.Type != event.TypeFormErrorsChanged {
		t.Errorf("Type = %q, want %q", env.Type, event.TypeFormErrorsChanged)
	}

	n, err := event.Decode(env)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := n.(event.FormErrorsChanged)
	if !ok {
		t.Fatalf("Decode() returned %T, want FormErrorsChanged", n)
	}
	if got.Errors["email"] != "Email is required" {
		t.Errorf("errors = %v", got.Errors)
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := event.Decode(event.Envelope{Type: "basket.shipped", Data: []byte(`{}`)})
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestDecode_InvalidData(t *testing.T) {
	_, err := event.Decode(event.Envelope{Type: event.TypeLotChanged, Data: []byte(`{invalid`)})
	if err == nil {
		t.Fatal("expected error for invalid data")
	}
}
