// Package events implements the in-process publish/subscribe bus that
// connects the Thought Repository, Identity Documents, and Metadata &
// Feedback writers to the Vector Service embedding worker and the
// cognitive monitor: events are the only channel between producers and
// consumers, so no component mutates another's cache directly. Backed
// by an embedded NATS server, even though every publisher and
// subscriber here lives in one process.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus wraps an embedded NATS server plus one client connection, giving
// every component in the process a shared publish/subscribe surface
// without an external broker dependency.
type Bus struct {
	server *natsserver.Server
	conn   *nc.Conn
}

// NewBus starts an embedded NATS server on the given port (0 lets the OS
// pick one) and connects a client to it.
func NewBus(port int) (*Bus, error) {
	opts := &natsserver.Options{
		Port:     port,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded event bus: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		return nil, fmt.Errorf("embedded event bus failed to start in time")
	}

	conn, err := nc.Connect(srv.ClientURL(),
		nc.Name("cogmem"),
		nc.ReconnectWait(time.Second),
		nc.MaxReconnects(-1),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("failed to connect to embedded event bus: %w", err)
	}

	return &Bus{server: srv, conn: conn}, nil
}

// Publish JSON-encodes payload and publishes it on subject. Implements
// thought.EventPublisher and identity.EventPublisher.
func (b *Bus) Publish(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event for %s: %w", subject, err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Message is a received event: subject plus raw JSON payload.
type Message struct {
	Subject string
	Data    []byte
}

// Subscribe creates an asynchronous subscription on subject (may contain
// NATS wildcards, e.g. "*:events").
func (b *Bus) Subscribe(subject string, handler func(Message)) (*nc.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush waits for all buffered publishes to reach the server.
func (b *Bus) Flush() error { return b.conn.Flush() }

// Close tears down the client connection and the embedded server.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
	if b.server != nil {
		b.server.Shutdown()
	}
}
