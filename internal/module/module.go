// Package module composes capability modules onto an object and drives
// their lifecycle.
package module

import (
	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
)

// Capability identifies a module's capability class. At most one module per
// capability may be attached to an object.
type Capability string

// Module is a capability unit. Everything else a module can do is
// expressed through the optional interfaces below.
type Module interface {
	Capability() Capability
}

// PhysicsHandler is the physics body owned by the party holding authority.
// It is provided by the integrator collaborator.
type PhysicsHandler interface {
	Speed() float64
	Position() (x, y float64)
	// Throttle sets the longitudinal force for the next integrator step,
	// in the range [-1, 1].
	Throttle(force float64)
	// Steer sets the steering angle in degrees, negative to the left.
	Steer(angle float64)
}

// PhysicsFactory creates the physics body of an object, starting from its
// last known state.
type PhysicsFactory func(o *Object) PhysicsHandler

// PhysicsReleaser is implemented by handlers that hold resources.
type PhysicsReleaser interface {
	Release()
}

// PhysicsInitializer receives the physics handler when it becomes available
// and nil when it is torn down.
type PhysicsInitializer interface {
	InitPhysics(h PhysicsHandler)
}

// PhysicsUpdater runs around the integrator step on the authority.
type PhysicsUpdater interface {
	PrePhysicsTick()
	PostPhysicsTick()
}

// EntityUpdater runs once per tick on every side it listens to.
type EntityUpdater interface {
	ListensEntityUpdates(side core.Side) bool
	EntityUpdate()
}

// PassengerListener is told about occupants leaving.
type PassengerListener interface {
	OnPassengerRemoved(p core.PartyID)
}

// VariableOwner exposes the synchronized variables of a module so they can
// be registered for replication.
type VariableOwner interface {
	Variables() []syncvar.Handle
}

// Persister is implemented by modules with durable state. Capture returns
// nil when there is nothing to persist. Restore applies what it can and
// reports the fields it had to skip.
type Persister interface {
	Capture() core.Fields
	Restore(f core.Fields) error
}
