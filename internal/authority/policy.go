// Package authority decides which party simulates an object and hands
// that authority over without overlap.
package authority

import (
	"sync"

	"github.com/modsync/vehicle/internal/geo"
	"github.com/modsync/vehicle/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Subject is what a policy looks at to pick an authority.
type Subject struct {
	Object     core.ObjectID
	Host       core.PartyID
	Controller core.PartyID
	Position   geom.Point
	// Observers are the tracked positions of connected parties.
	Observers map[core.PartyID]geom.Point
}

// Strategy is one step of a policy. It returns ok=false to defer to the
// next strategy. An ok result of "" means nobody simulates.
type Strategy interface {
	TryResolve(s Subject) (core.PartyID, bool)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(s Subject) (core.PartyID, bool)

func (f StrategyFunc) TryResolve(s Subject) (core.PartyID, bool) { return f(s) }

// Policy tries strategies in order. Nil strategies are ignored.
type Policy struct {
	strats []Strategy
}

// NewPolicy builds a policy over the given strategies.
func NewPolicy(strategies ...Strategy) Policy {
	out := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s != nil {
			out = append(out, s)
		}
	}
	return Policy{strats: out}
}

// Desired returns the party that should simulate s, or "" when no
// strategy can tell.
func (p Policy) Desired(s Subject) core.PartyID {
	for _, st := range p.strats {
		if party, ok := st.TryResolve(s); ok {
			return party
		}
	}
	return ""
}

// Override pins objects to an explicit party.
type Override struct {
	mu      sync.RWMutex
	holders map[core.ObjectID]core.PartyID
}

// NewOverride creates an empty override table.
func NewOverride() *Override {
	return &Override{holders: make(map[core.ObjectID]core.PartyID)}
}

// Set pins object to party. Pinning to "" freezes the object.
func (o *Override) Set(object core.ObjectID, party core.PartyID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.holders[object] = party
}

// Clear removes the pin on object.
func (o *Override) Clear(object core.ObjectID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.holders, object)
}

func (o *Override) TryResolve(s Subject) (core.PartyID, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.holders[s.Object]
	return p, ok
}

// Controller hands authority to the controlling occupant.
type Controller struct{}

func (Controller) TryResolve(s Subject) (core.PartyID, bool) {
	return s.Controller, s.Controller != ""
}

// Range freezes unoccupied objects no tracked party is near. A zero or
// negative range disables it.
type Range struct {
	Distance float64
}

func (r Range) TryResolve(s Subject) (core.PartyID, bool) {
	if r.Distance <= 0 || s.Controller != "" || s.Position.IsEmpty() {
		return "", false
	}
	for _, p := range s.Observers {
		if geo.Within(s.Position, r.Distance, p) {
			return "", false
		}
	}
	return "", true
}

// HostDefault gives unoccupied objects to the host, or to nobody.
type HostDefault struct {
	Enabled bool
}

func (h HostDefault) TryResolve(s Subject) (core.PartyID, bool) {
	if h.Enabled {
		return s.Host, true
	}
	return "", true
}

// DefaultPolicy is override, controller, range, then host default.
func DefaultPolicy(override *Override, simulationRange float64, hostSimulatesUnoccupied bool) Policy {
	var ov Strategy
	if override != nil {
		ov = override
	}
	return NewPolicy(ov, Controller{}, Range{Distance: simulationRange}, HostDefault{Enabled: hostSimulatesUnoccupied})
}
