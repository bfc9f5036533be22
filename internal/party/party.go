// Package party runs one process's view of the simulation: its objects,
// their authority ledgers, the inbox and outbox, and the tick loop that
// drives lifecycle, replication and handoff.
package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/modsync/vehicle/internal/authority"
	"github.com/modsync/vehicle/internal/cache"
	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/dispatcher"
	"github.com/modsync/vehicle/internal/geo"
	"github.com/modsync/vehicle/internal/logging"
	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/queue"
	"github.com/modsync/vehicle/internal/replication"
	"github.com/modsync/vehicle/internal/snapshot"
	"github.com/modsync/vehicle/internal/storage"
	"github.com/modsync/vehicle/internal/transport"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

var (
	ErrUnknownObject     = errors.New("unknown object")
	ErrDuplicateObject   = errors.New("duplicate object")
	ErrUnknownCapability = errors.New("unknown capability")
	ErrNotHost           = errors.New("only the host may do this")
	ErrOccupied          = errors.New("object has another controller")
	ErrNotController     = errors.New("local party does not control the object")
	ErrNoStorage         = errors.New("no storage backend")
	ErrNoTransport       = errors.New("no transport connected")
)

// Catalog maps capability names to the composers that attach them. It is
// the module-composition input: the same catalog must be used by every
// party so a spawned object is built identically everywhere.
type Catalog map[string]module.Composer

// Integrator is implemented by physics handlers that advance themselves.
// The party steps it between the pre- and post-physics phases.
type Integrator interface {
	Step(dt time.Duration)
}

// Dependencies holds everything a party needs.
type Dependencies struct {
	ID   core.PartyID
	Host core.PartyID
	Side core.Side

	Catalog Catalog
	Physics module.PhysicsFactory
	Storage storage.Backend // optional

	Logger         *slog.Logger
	DispatchLogger dispatcher.Logger // defaults to Logger

	Sim       config.SimConfig
	Authority config.AuthorityConfig
	Override  *authority.Override // optional, host only
}

type entry struct {
	obj    *module.Object
	ledger *authority.Ledger
	caps   []string
}

// Party is one process taking part in the simulation.
//
// Handle may be called from any goroutine. Stats is safe for concurrent
// use. Every other method must be called from the goroutine running Tick.
type Party struct {
	id   core.PartyID
	host core.PartyID
	side core.Side
	deps Dependencies
	log  *slog.Logger
	dt   time.Duration

	lease      *authority.Lease
	replicator *replication.Replicator
	dispatch   *dispatcher.Dispatcher
	arbiter    *authority.Arbiter // host only
	policy     authority.Policy

	objects   *cache.ObjectCache[*entry]
	observers *cache.ObserverCache
	inbox     *queue.Queue[streaming.Envelope]
	outbox    *queue.Queue[streaming.Envelope]
	transport transport.Transport

	tick          cache.SafeCounter
	authoritative cache.SafeCounter
	sent          cache.SafeCounter
	stale         cache.SafeCounter
}

// New creates a party. It is not connected to any transport yet.
func New(deps Dependencies) (*Party, error) {
	if deps.ID == "" {
		return nil, errors.New("party id is required")
	}
	if deps.Host == "" {
		deps.Host = deps.ID
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	var p *Party
	log := logging.WithContext(deps.Logger.With("party", string(deps.ID)), func() []slog.Attr {
		if p == nil {
			return nil
		}
		return []slog.Attr{slog.Uint64("tick", p.tick.Value())}
	})
	if deps.DispatchLogger == nil {
		deps.DispatchLogger = log
	}

	flush := deps.Sim.FlushInterval
	if flush <= 0 {
		flush = 1
	}
	keyframe := max(deps.Sim.KeyframeInterval, 0)
	replicator, err := replication.NewReplicator(uint64(flush), uint64(keyframe))
	if err != nil {
		return nil, err
	}
	d, err := dispatcher.New(deps.DispatchLogger)
	if err != nil {
		return nil, err
	}

	p = &Party{
		id:         deps.ID,
		host:       deps.Host,
		side:       deps.Side,
		deps:       deps,
		log:        log,
		dt:         deps.Sim.TickDuration(),
		lease:      authority.NewLease(deps.ID == deps.Host, deps.Authority.LeaseTimeoutTicks),
		replicator: replicator,
		dispatch:   d,
		objects:    cache.NewObjectCache[*entry](),
		observers:  cache.NewObserverCache(),
		inbox:      queue.New[streaming.Envelope](),
		outbox:     queue.New[streaming.Envelope](),
	}

	if p.IsHost() {
		p.arbiter, err = authority.NewArbiter(p.id, p, log)
		if err != nil {
			return nil, err
		}
		p.policy = authority.DefaultPolicy(deps.Override,
			deps.Authority.SimulationRange, deps.Authority.HostSimulatesUnoccupied)
	}
	p.RegisterHandlers(d)
	return p, nil
}

func (p *Party) ID() core.PartyID { return p.id }
func (p *Party) IsHost() bool     { return p.id == p.host }

// CurrentTick is the number of ticks run so far.
func (p *Party) CurrentTick() uint64 { return p.tick.Value() }

// Connect attaches the transport outbound envelopes go through. Inbound
// envelopes must be delivered to Handle.
func (p *Party) Connect(t transport.Transport) {
	p.transport = t
}

// Handle queues an inbound envelope for the next tick.
func (p *Party) Handle(env streaming.Envelope) {
	p.inbox.Push(env)
}

// Send queues an envelope for the end of the current tick. The arbiter
// sends through it.
func (p *Party) Send(_ context.Context, env streaming.Envelope) error {
	p.outbox.Push(env)
	return nil
}

func (p *Party) sendHost(msgType string, id core.ObjectID, payload any) error {
	env, err := streaming.New(msgType, id, p.id, payload)
	if err != nil {
		return err
	}
	env.To = p.host
	p.outbox.Push(env)
	return nil
}

func (p *Party) broadcast(msgType string, id core.ObjectID, payload any) error {
	env, err := streaming.New(msgType, id, p.id, payload)
	if err != nil {
		return err
	}
	p.outbox.Push(env)
	return nil
}

// Object returns a live object.
func (p *Party) Object(id core.ObjectID) (*module.Object, bool) {
	e, ok := p.objects.Get(id)
	if !ok {
		return nil, false
	}
	return e.obj, true
}

// Objects returns the live object ids in ascending order.
func (p *Party) Objects() []core.ObjectID {
	return p.objects.IDs()
}

// Holder returns who this party's ledger says simulates id.
func (p *Party) Holder(id core.ObjectID) (core.PartyID, uint64, bool) {
	e, ok := p.objects.Get(id)
	if !ok {
		return "", 0, false
	}
	holder, epoch := e.ledger.Holder()
	return holder, epoch, true
}

func (p *Party) entry(id core.ObjectID) (*entry, error) {
	e, ok := p.objects.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return e, nil
}

func (p *Party) create(id core.ObjectID, caps []string) (*entry, error) {
	if _, ok := p.objects.Get(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateObject, id)
	}
	composers := make([]module.Composer, 0, len(caps))
	for _, c := range caps {
		comp, ok := p.deps.Catalog[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, c)
		}
		composers = append(composers, comp)
	}
	obj, err := module.New(id, module.Options{
		Side:    p.side,
		Logger:  p.log,
		Physics: p.deps.Physics,
	}, composers...)
	if err != nil {
		return nil, err
	}
	e := &entry{
		obj:    obj,
		ledger: authority.NewLedger(p.id, p.host, p.lease),
		caps:   slices.Clone(caps),
	}
	p.objects.Add(id, e)
	return e, nil
}

// Spawn creates an object from catalog capabilities at (x, y), restores
// its saved state and announces it to every party. Host only.
func (p *Party) Spawn(ctx context.Context, id core.ObjectID, caps []string, x, y float64) error {
	if !p.IsHost() {
		return ErrNotHost
	}
	e, err := p.create(id, caps)
	if err != nil {
		return err
	}
	e.obj.SetPosition(x, y)
	if err := p.Load(ctx, id); err != nil {
		p.log.Warn("snapshot not restored", "object", string(id), "error", err)
	}
	p.log.Info("object spawned", "object", string(id), "capabilities", caps)
	return p.broadcast(streaming.TypeSpawn, id, streaming.SpawnPayload{Capabilities: caps, X: x, Y: y})
}

// Despawn saves and destroys an object and tells every party. Host only.
func (p *Party) Despawn(ctx context.Context, id core.ObjectID) error {
	if !p.IsHost() {
		return ErrNotHost
	}
	e, err := p.entry(id)
	if err != nil {
		return err
	}
	var saveErr error
	if p.deps.Storage != nil {
		saveErr = p.deps.Storage.SaveSnapshot(ctx, id, snapshot.Capture(e.obj))
	}
	p.destroy(id, e)
	p.arbiter.Forget(id)
	if err := p.broadcast(streaming.TypeDespawn, id, nil); err != nil {
		return err
	}
	if saveErr != nil {
		return fmt.Errorf("save %s: %w", id, saveErr)
	}
	return nil
}

func (p *Party) destroy(id core.ObjectID, e *entry) {
	e.obj.Destroy()
	p.objects.Delete(id)
	p.log.Info("object despawned", "object", string(id))
}

// Mount asks for the local party's occupant to become the object's
// controller. The host decides: it seats the first claim it receives and
// announces the outcome, so the local party only becomes the controller
// once that announcement arrives. On the host the seat is taken at once.
func (p *Party) Mount(id core.ObjectID) error {
	e, err := p.entry(id)
	if err != nil {
		return err
	}
	if c := e.obj.Controller(); c != "" && c != p.id {
		return fmt.Errorf("%w: %s", ErrOccupied, c)
	}
	if p.IsHost() {
		p.seat(e, p.id)
		return p.broadcast(streaming.TypeOccupancy, id, streaming.OccupancyPayload{Controller: p.id})
	}
	return p.sendHost(streaming.TypeOccupancy, id, streaming.OccupancyPayload{Controller: p.id})
}

// Dismount removes the local occupant from the object and tells the host.
func (p *Party) Dismount(id core.ObjectID) error {
	e, err := p.entry(id)
	if err != nil {
		return err
	}
	if e.obj.Controller() != p.id {
		return ErrNotController
	}
	p.seat(e, "")
	if p.IsHost() {
		return p.broadcast(streaming.TypeOccupancy, id, streaming.OccupancyPayload{})
	}
	return p.sendHost(streaming.TypeOccupancy, id, streaming.OccupancyPayload{})
}

// seat applies an occupancy decision. An empty controller means the
// current one left.
func (p *Party) seat(e *entry, controller core.PartyID) {
	current := e.obj.Controller()
	switch {
	case controller == current:
	case controller == "":
		e.obj.RemovePassenger(current)
	default:
		if current != "" {
			e.obj.RemovePassenger(current)
		}
		e.obj.SetController(controller)
	}
}

// Track reports the local viewpoint. The host uses tracked viewpoints to
// freeze unoccupied objects nobody is near.
func (p *Party) Track(x, y float64) error {
	p.observers.Set(p.id, geo.Point(x, y))
	return p.broadcast(streaming.TypeTrack, "", streaming.TrackPayload{X: x, Y: y})
}

// Save writes a snapshot of every live object.
func (p *Party) Save(ctx context.Context) error {
	if p.deps.Storage == nil {
		return ErrNoStorage
	}
	var errs []error
	for _, id := range p.objects.IDs() {
		e, ok := p.objects.Get(id)
		if !ok {
			continue
		}
		if err := p.deps.Storage.SaveSnapshot(ctx, id, snapshot.Capture(e.obj)); err != nil {
			errs = append(errs, fmt.Errorf("save %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Load restores the saved snapshot of a live object. Nothing saved, or no
// storage at all, leaves module defaults in place.
func (p *Party) Load(ctx context.Context, id core.ObjectID) error {
	e, err := p.entry(id)
	if err != nil {
		return err
	}
	if p.deps.Storage == nil {
		return nil
	}
	snap, err := p.deps.Storage.LoadSnapshot(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", id, err)
	}
	return snapshot.Restore(e.obj, snap)
}

// Stats fills the party fields of a status sample.
func (p *Party) Stats() model.PerformanceSample {
	return model.PerformanceSample{
		Time:          time.Now(),
		Party:         string(p.id),
		Tick:          p.tick.Value(),
		Objects:       p.objects.Len(),
		Authoritative: int(p.authoritative.Value()),
		InboxLength:   p.inbox.Len(),
		EntriesSent:   p.sent.Value(),
		EntriesStale:  p.stale.Value(),
	}
}

// Close sends whatever is still queued and stops the dispatcher. It does
// not close the transport.
func (p *Party) Close(ctx context.Context) error {
	err := p.flushOutbox(ctx)
	p.dispatch.Close()
	return err
}
