// Package broadcast forwards session notifications to an out-of-process
// pub/sub system so other services can follow the storefront.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/config"
	"github.com/jensholdgaard/lot-storefront/internal/event"
)

// queueSize bounds the number of encoded notifications waiting to be sent.
const queueSize = 256

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Open returns the Publisher selected by cfg.Driver, or nil for "none".
func Open(ctx context.Context, cfg config.BroadcastConfig) (Publisher, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "nats":
		n, err := NewNATS(cfg.URL)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "redis":
		r, err := NewRedis(ctx, cfg.Addr, cfg.Password, cfg.DB)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("unknown broadcast driver %q", cfg.Driver)
}

type message struct {
	subject string
	data    []byte
}

// Forwarder encodes every notification it receives and hands it to a
// Publisher from its own goroutine, so bus delivery never waits on the network.
type Forwarder struct {
	pub    Publisher
	prefix string
	clock  clock.Clock
	logger *slog.Logger
	queue  chan message
}

// NewForwarder returns a Forwarder publishing to "<prefix>.<notification type>".
func NewForwarder(pub Publisher, prefix string, clk clock.Clock, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		pub:    pub,
		prefix: prefix,
		clock:  clk,
		logger: logger,
		queue:  make(chan message, queueSize),
	}
}

// Attach subscribes the forwarder to every notification on bus.
func (f *Forwarder) Attach(bus *event.Bus) (detach func()) {
	return bus.SubscribeAll(f.Handle)
}

// Handle encodes n and queues it. When the queue is full the notification is
// dropped and logged.
func (f *Forwarder) Handle(ctx context.Context, n event.Notification) {
	env, err := event.Encode(n, f.clock.Now())
	if err != nil {
		f.logger.ErrorContext(ctx, "encoding notification", slog.String("type", string(n.Type())), slog.Any("error", err))
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		f.logger.ErrorContext(ctx, "marshaling envelope", slog.String("type", string(n.Type())), slog.Any("error", err))
		return
	}

	msg := message{subject: f.Subject(n.Type()), data: data}
	select {
	case f.queue <- msg:
	default:
		f.logger.WarnContext(ctx, "broadcast queue full, dropping notification", slog.String("subject", msg.subject))
	}
}

// Subject returns the subject notifications of type t are published to.
func (f *Forwarder) Subject(t event.Type) string {
	if f.prefix == "" {
		return string(t)
	}
	return f.prefix + "." + string(t)
}

// Run publishes queued notifications until ctx is canceled. Publish failures
// are logged and the notification is dropped.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			if err := f.pub.Publish(ctx, msg.subject, msg.data); err != nil {
				f.logger.WarnContext(ctx, "publishing notification",
					slog.String("subject", msg.subject),
					slog.Any("error", err),
				)
			}
		}
	}
}
