package party

import (
	"context"
	"fmt"

	"github.com/modsync/vehicle/internal/dispatcher"
	"github.com/modsync/vehicle/internal/geo"
	"github.com/modsync/vehicle/pkg/streaming"
)

// RegisterHandlers routes every message type the party understands. The
// handlers run synchronously inside Tick: handoff messages must be applied
// in arrival order relative to batches.
func (p *Party) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(streaming.TypeBatch, p.onBatch)
	d.Register(streaming.TypeRelease, p.onRelease, dispatcher.Logged())
	d.Register(streaming.TypeReleased, p.onReleased, dispatcher.Logged())
	d.Register(streaming.TypeGrant, p.onGrant, dispatcher.Logged())
	d.Register(streaming.TypeOccupancy, p.onOccupancy, dispatcher.Logged())
	d.Register(streaming.TypeSpawn, p.onSpawn, dispatcher.Logged())
	d.Register(streaming.TypeDespawn, p.onDespawn, dispatcher.Logged())
	d.Register(streaming.TypeHeartbeat, func(streaming.Envelope) error { return nil })
	d.Register(streaming.TypeTrack, p.onTrack)
}

func (p *Party) onBatch(env streaming.Envelope) error {
	if env.From == p.id {
		return nil
	}
	e, err := p.entry(env.Object)
	if err != nil {
		return err
	}
	var batch streaming.BatchPayload
	if err := env.Decode(&batch); err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}
	tick := p.tick.Value()
	view := e.ledger.View(e.obj.Controller(), tick)
	st, err := p.replicator.Receive(context.Background(), env.Object, e.obj.Vars(), batch, env.From, view, tick)
	if st.Stale > 0 {
		p.stale.Add(uint64(st.Stale))
		p.log.Debug("stale entries discarded", "object", string(env.Object), "from", string(env.From), "count", st.Stale)
	}
	return err
}

// onRelease gives up local authority. Physics is torn down before the
// acknowledgement is queued, so the host only grants the next holder once
// this party has stopped simulating.
func (p *Party) onRelease(env streaming.Envelope) error {
	if env.To != p.id || env.From != p.host {
		return nil
	}
	e, err := p.entry(env.Object)
	if err != nil {
		return err
	}
	var req streaming.ReleasePayload
	if err := env.Decode(&req); err != nil {
		return fmt.Errorf("decode release: %w", err)
	}
	ack, ok := e.ledger.HandleRelease(req)
	if !ok {
		return nil
	}
	e.obj.SetRole(e.ledger.Resolve(p.tick.Value()))

	reply, err := streaming.New(streaming.TypeReleased, env.Object, p.id, ack)
	if err != nil {
		return err
	}
	reply.To = env.From
	p.outbox.Push(reply)
	return nil
}

func (p *Party) onReleased(env streaming.Envelope) error {
	if p.arbiter == nil {
		return nil
	}
	var ack streaming.ReleasedPayload
	if err := env.Decode(&ack); err != nil {
		return fmt.Errorf("decode released: %w", err)
	}
	return p.arbiter.OnReleased(context.Background(), env.Object, env.From, ack)
}

func (p *Party) onGrant(env streaming.Envelope) error {
	if env.From != p.host {
		return nil
	}
	e, err := p.entry(env.Object)
	if err != nil {
		return err
	}
	var g streaming.GrantPayload
	if err := env.Decode(&g); err != nil {
		return fmt.Errorf("decode grant: %w", err)
	}
	if e.ledger.HandleGrant(g) {
		p.log.Debug("authority ledger updated", "object", string(env.Object), "holder", string(g.Holder), "epoch", g.Epoch)
	}
	return nil
}

// onOccupancy applies the host's occupancy decisions. On the host it
// judges claims instead: a seat goes to the first party asking while it
// is free, and only the seated party may leave it.
func (p *Party) onOccupancy(env streaming.Envelope) error {
	if env.From == p.id {
		return nil
	}
	e, err := p.entry(env.Object)
	if err != nil {
		return err
	}
	var occ streaming.OccupancyPayload
	if err := env.Decode(&occ); err != nil {
		return fmt.Errorf("decode occupancy: %w", err)
	}
	if !p.IsHost() {
		if env.From == p.host {
			p.seat(e, occ.Controller)
		}
		return nil
	}

	current := e.obj.Controller()
	var accepted bool
	if occ.Controller != "" {
		accepted = occ.Controller == env.From && (current == "" || current == env.From)
	} else {
		accepted = current == env.From
	}
	if !accepted {
		// Correct the claimant's view with the seat as the host records it.
		reply, err := streaming.New(streaming.TypeOccupancy, env.Object, p.id, streaming.OccupancyPayload{Controller: current})
		if err != nil {
			return err
		}
		reply.To = env.From
		p.outbox.Push(reply)
		p.log.Debug("occupancy claim rejected", "object", string(env.Object), "from", string(env.From), "controller", string(current))
		return nil
	}
	p.seat(e, occ.Controller)
	return p.broadcast(streaming.TypeOccupancy, env.Object, occ)
}

func (p *Party) onSpawn(env streaming.Envelope) error {
	if env.From == p.id || env.From != p.host {
		return nil
	}
	var sp streaming.SpawnPayload
	if err := env.Decode(&sp); err != nil {
		return fmt.Errorf("decode spawn: %w", err)
	}
	e, err := p.create(env.Object, sp.Capabilities)
	if err != nil {
		return err
	}
	e.obj.SetPosition(sp.X, sp.Y)
	return nil
}

func (p *Party) onDespawn(env streaming.Envelope) error {
	if env.From == p.id || env.From != p.host {
		return nil
	}
	e, err := p.entry(env.Object)
	if err != nil {
		return err
	}
	p.destroy(env.Object, e)
	return nil
}

func (p *Party) onTrack(env streaming.Envelope) error {
	if env.From == p.id {
		return nil
	}
	var tr streaming.TrackPayload
	if err := env.Decode(&tr); err != nil {
		return fmt.Errorf("decode track: %w", err)
	}
	p.observers.Set(env.From, geo.Point(tr.X, tr.Y))
	return nil
}
