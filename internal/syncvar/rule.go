package syncvar

import (
	"github.com/modsync/vehicle/pkg/core"
)

// Origin names the party allowed to originate trusted changes.
type Origin uint8

const (
	// OriginHost is the canonical simulation host.
	OriginHost Origin = iota
	// OriginAuthority is whoever currently holds physics authority.
	OriginAuthority
	// OriginController is the controlling occupant's process, falling back
	// to the host when the object is unoccupied.
	OriginController
)

// Recipients selects who receives a variable.
type Recipients uint8

const (
	RecipientsAll Recipients = iota
	RecipientsAllButController
	RecipientsNonAuthority
	RecipientsNone
)

// Mode selects full-value or delta transmission.
type Mode uint8

const (
	ModeFull Mode = iota
	ModeDelta
)

// Rule is a static replication policy. Rules are values; the table below
// is never mutated at runtime.
type Rule struct {
	Name       string
	Origin     Origin
	Recipients Recipients
	Mode       Mode
}

var (
	// ServerToClients ships host-owned state to every observer.
	ServerToClients = Rule{Name: "server_to_clients", Origin: OriginHost, Recipients: RecipientsAll, Mode: ModeFull}
	// PhysicsToSpectators ships simulation output to everyone not simulating.
	PhysicsToSpectators = Rule{Name: "physics_to_spectators", Origin: OriginAuthority, Recipients: RecipientsNonAuthority, Mode: ModeDelta}
	// ControlsToSpectators ships the driver's intent to everyone else.
	ControlsToSpectators = Rule{Name: "controls_to_spectators", Origin: OriginController, Recipients: RecipientsAllButController, Mode: ModeFull}
	// LocalOnly is never transmitted.
	LocalOnly = Rule{Name: "local_only", Origin: OriginAuthority, Recipients: RecipientsNone, Mode: ModeFull}
)

var rules = map[string]Rule{
	ServerToClients.Name:      ServerToClients,
	PhysicsToSpectators.Name:  PhysicsToSpectators,
	ControlsToSpectators.Name: ControlsToSpectators,
	LocalOnly.Name:            LocalOnly,
}

// Lookup returns the rule registered under name.
func Lookup(name string) (Rule, bool) {
	r, ok := rules[name]
	return r, ok
}

// Originator returns the party allowed to originate this variable for the
// given view, or "" when nobody is.
func (r Rule) Originator(v core.View) core.PartyID {
	switch r.Origin {
	case OriginHost:
		return v.Host
	case OriginController:
		if v.Controller != "" {
			return v.Controller
		}
		return v.Host
	default:
		return v.Authority
	}
}

// MayOriginate reports whether the local party may ship this variable.
func (r Rule) MayOriginate(v core.View) bool {
	if r.Recipients == RecipientsNone {
		return false
	}
	o := r.Originator(v)
	return o != "" && o == v.Local
}

// Accepts reports whether an update sent by from may be applied locally.
// Both directions are checked: the sender must be the originator and the
// local party must be in the recipient set.
func (r Rule) Accepts(v core.View, from core.PartyID) bool {
	o := r.Originator(v)
	if o == "" || from != o || from == v.Local {
		return false
	}
	switch r.Recipients {
	case RecipientsAll:
		return true
	case RecipientsAllButController:
		return !v.IsController()
	case RecipientsNonAuthority:
		return v.Local != v.Authority
	default:
		return false
	}
}
