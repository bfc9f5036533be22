package module

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modsync/vehicle/internal/replication"
	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// PositionVar is the name of the replicated object position.
const PositionVar = "object.position"

// Options configures an object.
type Options struct {
	Side    core.Side
	Logger  *slog.Logger
	Physics PhysicsFactory
}

// Object is a simulated entity composed of capability modules.
//
// An object is driven by a single tick loop; its methods are not safe for
// concurrent use except where noted.
type Object struct {
	id         core.ObjectID
	side       core.Side
	log        *slog.Logger
	newPhysics PhysicsFactory

	modules []Module
	byCap   map[Capability]Module
	vars    *replication.Set

	position   *syncvar.Var[[2]float64]
	role       core.Role
	physics    PhysicsHandler
	controller core.PartyID
	age        uint64
	destroyed  bool

	faults metric.Int64Counter
}

// New creates an object and lets each composer attach its modules, in order.
func New(id core.ObjectID, opts Options, composers ...Composer) (*Object, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	faults, err := meter().Int64Counter("lifecycle.faults",
		metric.WithDescription("Module callbacks that panicked and were skipped"))
	if err != nil {
		return nil, fmt.Errorf("create faults counter: %w", err)
	}

	o := &Object{
		id:         id,
		side:       opts.Side,
		log:        opts.Logger.With("object", string(id)),
		newPhysics: opts.Physics,
		byCap:      make(map[Capability]Module),
		vars:       replication.NewSet(),
		position:   syncvar.New(PositionVar, syncvar.PhysicsToSpectators, [2]float64{}),
		faults:     faults,
	}
	if err := o.vars.Register(o.position); err != nil {
		return nil, err
	}

	b := &Builder{obj: o}
	for _, c := range composers {
		c.Compose(b)
	}
	return o, nil
}

func (o *Object) ID() core.ObjectID       { return o.id }
func (o *Object) Side() core.Side         { return o.side }
func (o *Object) Logger() *slog.Logger    { return o.log }
func (o *Object) Vars() *replication.Set  { return o.vars }
func (o *Object) Role() core.Role         { return o.role }
func (o *Object) Physics() PhysicsHandler { return o.physics }
func (o *Object) Controller() core.PartyID {
	return o.controller
}

// Age is the number of entity-update ticks the object has lived through.
func (o *Object) Age() uint64 { return o.age }

// Position is the last simulated or replicated position.
func (o *Object) Position() (x, y float64) {
	p := o.position.Get()
	return p[0], p[1]
}

// SetPosition places the object, e.g. at spawn.
func (o *Object) SetPosition(x, y float64) {
	o.position.Set([2]float64{x, y})
}

// AddModule attaches a module of capability c unless one already exists.
// Duplicates are a logged no-op.
func (o *Object) AddModule(c Capability, f Factory) bool {
	if _, ok := o.byCap[c]; ok {
		o.log.Warn("duplicate capability ignored", "capability", string(c))
		return false
	}
	m := f(o)
	if m == nil {
		return false
	}
	o.modules = append(o.modules, m)
	o.byCap[c] = m

	if vo, ok := m.(VariableOwner); ok {
		for _, h := range vo.Variables() {
			if err := o.vars.Register(h); err != nil {
				o.log.Warn("variable not registered", "capability", string(c), "error", err)
			}
		}
	}
	if o.physics != nil {
		if pi, ok := m.(PhysicsInitializer); ok {
			pi.InitPhysics(o.physics)
		}
	}
	return true
}

// GetModule returns the module attached for capability c.
func (o *Object) GetModule(c Capability) (Module, bool) {
	m, ok := o.byCap[c]
	return m, ok
}

// Modules returns the attached modules in attachment order.
func (o *Object) Modules() []Module {
	out := make([]Module, len(o.modules))
	copy(out, o.modules)
	return out
}

// Get returns the module of capability c as T.
func Get[T Module](o *Object, c Capability) (T, bool) {
	m, ok := o.byCap[c]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := m.(T)
	return t, ok
}

// SetRole applies a resolved role. Becoming authoritative creates the
// physics handler; losing authority tears it down before anything else
// happens on this object.
func (o *Object) SetRole(r core.Role) {
	if o.destroyed || r == o.role {
		return
	}
	prev := o.role
	o.role = r
	o.log.Debug("role changed", "from", prev.String(), "to", r.String())

	if prev == core.Authoritative {
		o.releasePhysics()
	}
	if r == core.Authoritative && o.physics == nil && o.newPhysics != nil {
		o.physics = o.newPhysics(o)
		for _, m := range o.modules {
			if pi, ok := m.(PhysicsInitializer); ok {
				o.Guard(m, "initPhysics", func() { pi.InitPhysics(o.physics) })
			}
		}
	}
}

// SetController records the controlling occupant, "" for none.
func (o *Object) SetController(p core.PartyID) {
	o.controller = p
}

// RemovePassenger notifies modules that p left the object.
func (o *Object) RemovePassenger(p core.PartyID) {
	if o.controller == p {
		o.controller = ""
	}
	for _, m := range o.modules {
		if pl, ok := m.(PassengerListener); ok {
			o.Guard(m, "passengerRemoved", func() { pl.OnPassengerRemoved(p) })
		}
	}
}

// Tick runs one lifecycle phase. Physics phases only run while the object
// holds authority and has a physics handler. A module that panics is
// logged and skipped; its siblings still run.
func (o *Object) Tick(phase core.Phase) {
	if o.destroyed {
		return
	}
	switch phase {
	case core.PrePhysics, core.PostPhysics:
		if o.role != core.Authoritative || o.physics == nil {
			return
		}
		if phase == core.PostPhysics {
			x, y := o.physics.Position()
			o.position.Set([2]float64{x, y})
		}
		for _, m := range o.modules {
			pu, ok := m.(PhysicsUpdater)
			if !ok {
				continue
			}
			if phase == core.PrePhysics {
				o.Guard(m, phase.String(), pu.PrePhysicsTick)
			} else {
				o.Guard(m, phase.String(), pu.PostPhysicsTick)
			}
		}
	case core.EntityUpdate:
		for _, m := range o.modules {
			if eu, ok := m.(EntityUpdater); ok && eu.ListensEntityUpdates(o.side) {
				o.Guard(m, phase.String(), eu.EntityUpdate)
			}
		}
		o.age++
	}
}

// Destroy releases the physics handler and detaches every module.
func (o *Object) Destroy() {
	if o.destroyed {
		return
	}
	o.releasePhysics()
	o.destroyed = true
	o.role = core.Unsimulated
	o.modules = nil
	o.byCap = make(map[Capability]Module)
}

// Destroyed reports whether Destroy was called.
func (o *Object) Destroyed() bool { return o.destroyed }

func (o *Object) releasePhysics() {
	if o.physics == nil {
		return
	}
	h := o.physics
	o.physics = nil
	for _, m := range o.modules {
		if pi, ok := m.(PhysicsInitializer); ok {
			o.Guard(m, "initPhysics", func() { pi.InitPhysics(nil) })
		}
	}
	if r, ok := h.(PhysicsReleaser); ok {
		r.Release()
	}
}

// Guard runs fn as a callback of m in the named phase. A panic is logged
// and counted as a lifecycle fault instead of unwinding the caller.
func (o *Object) Guard(m Module, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("module callback failed",
				"capability", string(m.Capability()),
				"phase", phase,
				"panic", fmt.Sprint(r))
			o.faults.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("capability", string(m.Capability())),
				attribute.String("phase", phase)))
		}
	}()
	fn()
}
