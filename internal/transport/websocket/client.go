// Package websocket carries envelopes between parties through a relay hub.
// Each party holds one client connection; the hub fans broadcasts out and
// forwards directed envelopes, preserving per-link order.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/modsync/vehicle/internal/transport"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

// ackJoin is acknowledged by the hub once the party is registered.
const ackJoin = "join"

// Config holds WebSocket client configuration.
type Config struct {
	URL    string
	Secret string
	Party  core.PartyID
}

// Client is a transport.Transport backed by a hub connection.
type Client struct {
	conn    *connection
	cfg     Config
	handler transport.Handler
	logger  *slog.Logger
}

var _ transport.Transport = (*Client)(nil)

// New creates a client. Inbound envelopes are passed to handler.
func New(cfg Config, handler transport.Handler, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{cfg: cfg, handler: handler, logger: logger}
	c.conn = newConnection(logger, c.onFrame)
	return c
}

// Dial connects to the hub and waits until the party is registered.
func (c *Client) Dial(ctx context.Context) error {
	if c.cfg.Party == "" {
		return fmt.Errorf("websocket client: party id required")
	}
	q := url.Values{}
	q.Set("secret", c.cfg.Secret)
	q.Set("party", string(c.cfg.Party))

	if err := c.conn.dial(c.cfg.URL, q); err != nil {
		return err
	}

	timeout := ackTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}
	if err := c.conn.waitAck(ackJoin, timeout); err != nil {
		_ = c.conn.close()
		return err
	}
	return nil
}

// Send queues env for the write loop. From is stamped with the local party.
func (c *Client) Send(_ context.Context, env streaming.Envelope) error {
	c.conn.mu.Lock()
	closed := c.conn.closed
	c.conn.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}

	env.From = c.cfg.Party
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", env.Type, err)
	}
	return c.conn.send(data)
}

// Close disconnects from the hub.
func (c *Client) Close() error {
	return c.conn.close()
}

func (c *Client) onFrame(data []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("Malformed envelope dropped", "error", err)
		return
	}
	if c.handler != nil {
		c.handler(env)
	}
}
