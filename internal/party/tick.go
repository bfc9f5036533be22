package party

import (
	"context"
	"fmt"

	"github.com/modsync/vehicle/internal/authority"
	"github.com/modsync/vehicle/internal/geo"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
)

// Tick advances the party by one tick:
//
//  1. apply everything received since the previous tick, in arrival order
//  2. on the host, move authority towards what the policy wants
//  3. resolve each object's role, then run pre-physics, the integrator,
//     post-physics and the entity update
//  4. on flush ticks, collect dirty variables into batches
//  5. send the outbox
func (p *Party) Tick(ctx context.Context) error {
	tick := p.tick.Inc()

	p.drainInbox(tick)

	if p.arbiter != nil {
		p.reconcile(ctx)
	}

	var authoritative uint64
	for _, id := range p.objects.IDs() {
		e, ok := p.objects.Get(id)
		if !ok {
			continue
		}
		o := e.obj
		o.SetRole(e.ledger.Resolve(tick))
		if o.Role() == core.Authoritative {
			authoritative++
		}
		o.Tick(core.PrePhysics)
		if in, ok := o.Physics().(Integrator); ok && o.Role() == core.Authoritative {
			in.Step(p.dt)
		}
		o.Tick(core.PostPhysics)
		o.Tick(core.EntityUpdate)
	}
	p.authoritative.Set(authoritative)

	if p.replicator.Due(tick) {
		p.flush(ctx, tick)
	}
	return p.flushOutbox(ctx)
}

func (p *Party) drainInbox(tick uint64) {
	for _, env := range p.inbox.GetAndEmpty() {
		if env.From == p.host {
			p.lease.Renew(tick)
		}
		if err := p.dispatch.Dispatch(env); err != nil {
			p.log.Debug("envelope not applied", "type", env.Type, "object", string(env.Object), "from", string(env.From), "error", err)
		}
	}
}

func (p *Party) reconcile(ctx context.Context) {
	observers := p.observers.All()
	for _, id := range p.objects.IDs() {
		e, ok := p.objects.Get(id)
		if !ok {
			continue
		}
		desired := p.policy.Desired(authority.Subject{
			Object:     id,
			Host:       p.host,
			Controller: e.obj.Controller(),
			Position:   geo.Point(e.obj.Position()),
			Observers:  observers,
		})
		if err := p.arbiter.Reconcile(ctx, id, desired); err != nil {
			p.log.Error("authority reconcile failed", "object", string(id), "error", err)
		}
	}
}

func (p *Party) flush(ctx context.Context, tick uint64) {
	for _, id := range p.objects.IDs() {
		e, ok := p.objects.Get(id)
		if !ok {
			continue
		}
		view := e.ledger.View(e.obj.Controller(), tick)
		batch, ok, err := p.replicator.Flush(ctx, id, e.obj.Vars(), view, tick)
		if err != nil {
			p.log.Warn("variables not encoded", "object", string(id), "error", err)
		}
		if !ok {
			continue
		}
		if err := p.broadcast(streaming.TypeBatch, id, batch); err != nil {
			p.log.Error("batch not queued", "object", string(id), "error", err)
			continue
		}
		p.sent.Add(uint64(len(batch.Entries)))
	}
	if p.IsHost() {
		if err := p.broadcast(streaming.TypeHeartbeat, "", nil); err != nil {
			p.log.Error("heartbeat not queued", "error", err)
		}
	}
}

// flushOutbox sends queued envelopes in order. On the first failure the
// rest stays queued for the next tick.
func (p *Party) flushOutbox(ctx context.Context) error {
	pending := p.outbox.GetAndEmpty()
	if len(pending) == 0 {
		return nil
	}
	if p.transport == nil {
		p.outbox.PushFront(pending...)
		return ErrNoTransport
	}
	for i, env := range pending {
		if err := p.transport.Send(ctx, env); err != nil {
			p.outbox.PushFront(pending[i:]...)
			return fmt.Errorf("send %s: %w", env.Type, err)
		}
	}
	return nil
}
