// Package transport defines how envelopes move between parties. The core
// relies on per-link FIFO delivery only; framing and connection handling
// belong to the adapters.
package transport

import (
	"context"
	"errors"

	"github.com/modsync/vehicle/pkg/streaming"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport closed")

// Handler receives inbound envelopes. It may be called from a transport
// goroutine and must not block.
type Handler func(env streaming.Envelope)

// Transport sends envelopes. An envelope with an empty To is delivered to
// every party in the session, including the sender.
type Transport interface {
	Send(ctx context.Context, env streaming.Envelope) error
	Close() error
}
