package broadcast

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATS publishes to a NATS server.
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at url.
func NewNATS(url string, opts ...nats.Option) (*NATS, error) {
	opts = append([]nats.Option{nats.Name("storefront")}, opts...)
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, data []byte) error {
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
