// Package natsbridge implements the optional NATS notification path of
// spec component C4: broadcasts posted to the Blackboard are also
// published to a NATS subject per swarm, so a long-lived supervisor
// process can react without polling the Store. Grounded on the
// teacher's internal/nats package: Client here is
// internal/nats/client.go's Client with the heartbeat/task-specific
// helpers stripped down to the publish/subscribe primitives this
// runtime actually needs, and Bridge adapts it to the
// blackboard.NATSPublisher contract.
package natsbridge

import (
	"encoding/json"
	"fmt"
	"time"

	nc "github.com/nats-io/nats.go"
)

// Message is a received NATS message, detached from the nats.go types so
// callers never import that package directly.
type Message struct {
	Subject string
	Reply   string
	Data    []byte
}

// Client wraps a NATS connection with the reconnect handling and
// JSON convenience methods the coordination runtime needs.
type Client struct {
	conn *nc.Conn
}

// NewClient dials url with indefinite reconnect, matching the teacher's
// posture that a monitoring/notification link should never give up.
func NewClient(url string) (*Client, error) {
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the client currently holds a live
// connection.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// PublishJSON publishes a JSON-encoded message to a subject.
func (c *Client) PublishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal NATS payload: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an asynchronous subscription on subject.
func (c *Client) Subscribe(subject string, handler func(*Message)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(&Message{Subject: msg.Subject, Reply: msg.Reply, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	return sub, nil
}

// Flush flushes buffered outbound data to the server. Tests use this to
// ensure a publish has actually left the client before asserting on
// delivery.
func (c *Client) Flush() error {
	if err := c.conn.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
