package web_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/jensholdgaard/lot-storefront/internal/event"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) event.Envelope {
	t.Helper()
	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	assert.NoError(t, err)
	var env event.Envelope
	assert.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_StreamsNotifications(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.hub.Run(ctx)
	detach := f.hub.Attach(f.bus)
	defer detach()

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	// The first message is a snapshot of the catalog.
	env := readEnvelope(t, conn)
	check.Equal(t, event.TypeCatalogChanged, env.Type)
	n, err := event.Decode(env)
	assert.NoError(t, err)
	check.Equal(t, 3, len(n.(event.CatalogChanged).Lots))

	waitFor(t, func() bool { return f.hub.Clients() == 1 })

	assert.NoError(t, f.session.PlaceBid(context.Background(), "a", 700))
	env = readEnvelope(t, conn)
	check.Equal(t, event.TypeLotChanged, env.Type)
	n, err = event.Decode(env)
	assert.NoError(t, err)
	check.Equal(t, event.LotChanged{ID: "a", Price: 700}, n.(event.LotChanged))
}

func TestHub_ShutdownDisconnectsClients(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	go f.hub.Run(ctx)

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()
	readEnvelope(t, conn)
	waitFor(t, func() bool { return f.hub.Clients() == 1 })

	cancel()
	waitFor(t, func() bool { return f.hub.Clients() == 0 })

	assert.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	check.Error(t, err)
}
