// Package loopback is an in-process transport. Delivery happens on the
// sender's goroutine, so every link is trivially FIFO. Partitions drop
// traffic in both directions until healed.
package loopback

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/modsync/vehicle/internal/transport"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

type link struct{ a, b core.PartyID }

func newLink(a, b core.PartyID) link {
	if b < a {
		a, b = b, a
	}
	return link{a, b}
}

// Network connects the endpoints of one session.
type Network struct {
	mu         sync.RWMutex
	endpoints  map[core.PartyID]*Endpoint
	partitions map[link]bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func NewNetwork() *Network {
	return &Network{
		endpoints:  make(map[core.PartyID]*Endpoint),
		partitions: make(map[link]bool),
	}
}

// Join attaches a party. Joining twice replaces the previous endpoint.
func (n *Network) Join(id core.PartyID, h transport.Handler) *Endpoint {
	ep := &Endpoint{id: id, net: n, handler: h}
	n.mu.Lock()
	n.endpoints[id] = ep
	n.mu.Unlock()
	return ep
}

// Partition cuts the link between a and b.
func (n *Network) Partition(a, b core.PartyID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitions[newLink(a, b)] = true
}

// Heal restores the link between a and b.
func (n *Network) Heal(a, b core.PartyID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitions, newLink(a, b))
}

// Delivered returns the number of envelopes handed to a handler.
func (n *Network) Delivered() uint64 { return n.delivered.Load() }

// Dropped returns the number of envelopes lost to partitions or unknown targets.
func (n *Network) Dropped() uint64 { return n.dropped.Load() }

func (n *Network) targets(from core.PartyID, to core.PartyID) []*Endpoint {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var out []*Endpoint
	add := func(ep *Endpoint) {
		if ep.id != from && n.partitions[newLink(from, ep.id)] {
			n.dropped.Add(1)
			return
		}
		out = append(out, ep)
	}

	if to != "" {
		ep, ok := n.endpoints[to]
		if !ok {
			n.dropped.Add(1)
			return nil
		}
		add(ep)
		return out
	}

	ids := make([]string, 0, len(n.endpoints))
	for id := range n.endpoints {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		add(n.endpoints[core.PartyID(id)])
	}
	return out
}

func (n *Network) leave(ep *Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.endpoints[ep.id] == ep {
		delete(n.endpoints, ep.id)
	}
}

// Endpoint is one party's attachment to the network.
type Endpoint struct {
	id      core.PartyID
	net     *Network
	handler transport.Handler
	closed  atomic.Bool
}

var _ transport.Transport = (*Endpoint)(nil)

func (e *Endpoint) ID() core.PartyID { return e.id }

// Send delivers env synchronously to its recipients.
func (e *Endpoint) Send(_ context.Context, env streaming.Envelope) error {
	if e.closed.Load() {
		return transport.ErrClosed
	}
	for _, ep := range e.net.targets(e.id, env.To) {
		if ep.closed.Load() || ep.handler == nil {
			continue
		}
		ep.handler(env)
		e.net.delivered.Add(1)
	}
	return nil
}

func (e *Endpoint) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.net.leave(e)
	return nil
}
