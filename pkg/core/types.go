// Package core holds the domain types shared between the simulation core,
// its persistence backends and the wire layer.
package core

// ObjectID identifies a simulated object across every party observing it.
type ObjectID string

// PartyID identifies a process taking part in the simulation.
type PartyID string

// Role is the local party's relation to an object's physics simulation.
type Role uint8

const (
	// Unsimulated means nobody on this side runs physics; the object is frozen.
	Unsimulated Role = iota
	// Replica means another party simulates and this side applies its state.
	Replica
	// Authoritative means this party runs physics and originates trusted state.
	Authoritative
)

func (r Role) String() string {
	switch r {
	case Authoritative:
		return "authoritative"
	case Replica:
		return "replica"
	default:
		return "unsimulated"
	}
}

// Side tells whether a process can surface user-facing effects.
type Side uint8

const (
	// SideServer is a headless process (dedicated host).
	SideServer Side = iota
	// SideClient is a process with a player attached: sounds, visuals, HUD.
	SideClient
)

func (s Side) String() string {
	if s == SideClient {
		return "client"
	}
	return "server"
}

// IsClient reports whether user-facing effects can be surfaced on this side.
func (s Side) IsClient() bool { return s == SideClient }

// Phase selects which lifecycle callback a tick invokes.
type Phase uint8

const (
	PrePhysics Phase = iota
	PostPhysics
	EntityUpdate
)

func (p Phase) String() string {
	switch p {
	case PrePhysics:
		return "pre_physics"
	case PostPhysics:
		return "post_physics"
	default:
		return "entity_update"
	}
}

// View is one party's knowledge of who does what for a single object.
// Replication rules are evaluated against it on both ends of the wire.
type View struct {
	Local      PartyID
	Host       PartyID // canonical simulation host
	Controller PartyID // process of the controlling occupant, empty when unoccupied
	Authority  PartyID // current physics authority, empty when unsimulated
	Epoch      uint64  // authority ledger epoch
}

// IsHost reports whether the local party is the canonical simulation host.
func (v View) IsHost() bool { return v.Local != "" && v.Local == v.Host }

// IsController reports whether the controlling occupant lives in this process.
func (v View) IsController() bool { return v.Controller != "" && v.Controller == v.Local }

// Role derives the local role from the agreed authority.
func (v View) Role() Role {
	switch {
	case v.Authority == "":
		return Unsimulated
	case v.Authority == v.Local:
		return Authoritative
	default:
		return Replica
	}
}
