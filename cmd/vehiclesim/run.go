package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/modsync/vehicle/internal/authority"
	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/dispatcher"
	"github.com/modsync/vehicle/internal/kinematic"
	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/modules/engine"
	"github.com/modsync/vehicle/internal/modules/lights"
	"github.com/modsync/vehicle/internal/monitor"
	"github.com/modsync/vehicle/internal/party"
	"github.com/modsync/vehicle/internal/storage"
	"github.com/modsync/vehicle/internal/transport"
	"github.com/modsync/vehicle/internal/transport/loopback"
	"github.com/modsync/vehicle/internal/transport/websocket"
	"github.com/modsync/vehicle/pkg/core"
)

var errNotController = errors.New("party does not control the object")

// harnessDeps holds everything a harness run needs besides the scenario.
type harnessDeps struct {
	Catalog        party.Catalog
	Storage        storage.Backend // host only, optional
	Sim            config.SimConfig
	Authority      config.AuthorityConfig
	Override       *authority.Override
	Logger         *slog.Logger
	DispatchLogger dispatcher.Logger
	Recorders      []monitor.Recorder
	StatusDir      string

	// Local restricts the run to one party. Empty runs every scenario
	// party in process over a loopback network.
	Local core.PartyID
	// Realtime paces ticks at Sim.TickRate instead of running flat out.
	Realtime bool
	// OnTick is called after every tick with the tick number.
	OnTick func(tick uint64)
}

// harness drives scenario parties tick by tick.
type harness struct {
	sc       Scenario
	deps     harnessDeps
	net      *loopback.Network
	order    []core.PartyID
	parties  map[core.PartyID]*party.Party
	monitors map[core.PartyID]*monitor.Service
	closers  []transport.Transport
	failures []string
}

func newHarness(sc Scenario, deps harnessDeps) (*harness, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if sc.FlushInterval > 0 {
		deps.Sim.FlushInterval = sc.FlushInterval
	}
	h := &harness{
		sc:       sc,
		deps:     deps,
		parties:  make(map[core.PartyID]*party.Party),
		monitors: make(map[core.PartyID]*monitor.Service),
	}
	for _, sp := range sc.Parties {
		if deps.Local != "" && sp.ID != deps.Local {
			continue
		}
		pd := party.Dependencies{
			ID:             sp.ID,
			Host:           sc.Host,
			Side:           sp.Side,
			Catalog:        deps.Catalog,
			Physics:        kinematic.Factory(kinematic.DefaultConfig),
			Logger:         deps.Logger,
			DispatchLogger: deps.DispatchLogger,
			Sim:            deps.Sim,
			Authority:      deps.Authority,
		}
		if sp.ID == sc.Host {
			pd.Storage = deps.Storage
			pd.Override = deps.Override
		}
		p, err := party.New(pd)
		if err != nil {
			return nil, fmt.Errorf("party %s: %w", sp.ID, err)
		}
		h.order = append(h.order, sp.ID)
		h.parties[sp.ID] = p

		var statusPath string
		if deps.StatusDir != "" {
			statusPath = filepath.Join(deps.StatusDir, fmt.Sprintf("status.%s.json", sp.ID))
		}
		h.monitors[sp.ID] = monitor.NewService(monitor.Dependencies{
			Source:     p.Stats,
			Recorders:  deps.Recorders,
			StatusPath: statusPath,
			Interval:   time.Duration(max(sc.SampleEvery, 1)) * deps.Sim.TickDuration(),
			Logger:     deps.Logger.With("party", string(sp.ID)),
		})
	}
	if len(h.parties) == 0 {
		return nil, fmt.Errorf("party %q is not part of scenario %q", deps.Local, sc.Name)
	}
	return h, nil
}

// connectLoopback joins every party to one in-process network.
func (h *harness) connectLoopback() *loopback.Network {
	h.net = loopback.NewNetwork()
	for _, id := range h.order {
		p := h.parties[id]
		ep := h.net.Join(id, p.Handle)
		p.Connect(ep)
		h.closers = append(h.closers, ep)
	}
	return h.net
}

// connectWebSocket dials the relay hub for the local party.
func (h *harness) connectWebSocket(ctx context.Context, cfg config.WebSocketConfig) error {
	for _, id := range h.order {
		p := h.parties[id]
		c := websocket.New(websocket.Config{URL: cfg.URL, Secret: cfg.Secret, Party: id}, p.Handle, h.deps.Logger)
		if err := c.Dial(ctx); err != nil {
			return fmt.Errorf("dial hub as %s: %w", id, err)
		}
		p.Connect(c)
		h.closers = append(h.closers, c)
	}
	return nil
}

// Run plays the scenario to its last tick or until ctx is done.
func (h *harness) Run(ctx context.Context) error {
	var pace <-chan time.Time
	if h.deps.Realtime {
		ticker := time.NewTicker(h.deps.Sim.TickDuration())
		defer ticker.Stop()
		pace = ticker.C
		for _, m := range h.monitors {
			if err := m.Start(); err != nil {
				return err
			}
			defer m.Stop()
		}
	}

	next := 0
	for tick := uint64(1); tick <= h.sc.Ticks; tick++ {
		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		for next < len(h.sc.Events) && h.sc.Events[next].Tick <= tick {
			ev := h.sc.Events[next]
			next++
			if _, ok := h.parties[ev.Party]; !ok {
				continue
			}
			if err := h.apply(ctx, ev); err != nil {
				h.fail(tick, ev, err)
			}
		}

		for _, id := range h.order {
			if err := h.parties[id].Tick(ctx); err != nil {
				h.deps.Logger.Warn("Tick did not flush", "party", string(id), "tick", tick, "error", err)
			}
		}
		if h.deps.OnTick != nil {
			h.deps.OnTick(tick)
		}
		if !h.deps.Realtime && h.sc.SampleEvery > 0 && tick%h.sc.SampleEvery == 0 {
			for _, id := range h.order {
				h.monitors[id].Sample()
			}
		}
	}
	return nil
}

func (h *harness) fail(tick uint64, ev Event, err error) {
	msg := fmt.Sprintf("tick %d: %s %s %s: %v", tick, ev.Party, ev.Action, ev.Object, err)
	h.failures = append(h.failures, msg)
	h.deps.Logger.Warn("Scenario event failed", "tick", tick, "party", string(ev.Party),
		"action", ev.Action, "object", string(ev.Object), "error", err)
}

func (h *harness) apply(ctx context.Context, ev Event) error {
	p := h.parties[ev.Party]
	switch ev.Action {
	case actionSpawn:
		return p.Spawn(ctx, ev.Object, ev.Capabilities, ev.X, ev.Y)
	case actionDespawn:
		return p.Despawn(ctx, ev.Object)
	case actionMount:
		return p.Mount(ev.Object)
	case actionDismount:
		return p.Dismount(ev.Object)
	case actionTrack:
		return p.Track(ev.X, ev.Y)
	case actionSave:
		return p.Save(ctx)
	case actionPartition, actionHeal:
		if h.net == nil {
			return fmt.Errorf("%s needs the loopback transport", ev.Action)
		}
		if ev.Action == actionPartition {
			h.net.Partition(ev.Party, ev.Peer)
		} else {
			h.net.Heal(ev.Party, ev.Peer)
		}
		return nil
	}

	obj, ok := p.Object(ev.Object)
	if !ok {
		return fmt.Errorf("%w: %s", party.ErrUnknownObject, ev.Object)
	}
	if obj.Controller() != ev.Party {
		return errNotController
	}
	switch ev.Action {
	case actionControls, actionEngine:
		eng, ok := module.Get[*engine.Module](obj, engine.Capability)
		if !ok {
			return fmt.Errorf("%w: %s", party.ErrUnknownCapability, engine.Capability)
		}
		if ev.Action == actionEngine {
			eng.SetEngineStarted(ev.On)
		} else {
			eng.SetControls(ev.Controls)
		}
	case actionLight:
		l, ok := module.Get[*lights.Module](obj, lights.Capability)
		if !ok {
			return fmt.Errorf("%w: %s", party.ErrUnknownCapability, lights.Capability)
		}
		l.SetLight(ev.Light, ev.On)
	}
	return nil
}

// Close sends what is still queued and closes every transport.
func (h *harness) Close(ctx context.Context) error {
	var errs []error
	for _, id := range h.order {
		if err := h.parties[id].Close(ctx); err != nil && !errors.Is(err, party.ErrNoTransport) {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ObjectReport is one object as every party sees it at the end of a run.
type ObjectReport struct {
	Object     core.ObjectID           `json:"object"`
	Holder     core.PartyID            `json:"holder"`
	Epoch      uint64                  `json:"epoch"`
	Controller core.PartyID            `json:"controller,omitempty"`
	Roles      map[core.PartyID]string `json:"roles"`
	X          float64                 `json:"x"`
	Y          float64                 `json:"y"`
	Speed      float32                 `json:"speed"`
	Controls   int                     `json:"controls"`
	Lights     []string                `json:"lights,omitempty"`
}

// Report summarizes a run.
type Report struct {
	Scenario  string                    `json:"scenario"`
	Ticks     uint64                    `json:"ticks"`
	Delivered uint64                    `json:"delivered"`
	Dropped   uint64                    `json:"dropped"`
	Objects   []ObjectReport            `json:"objects"`
	Samples   []model.PerformanceSample `json:"samples"`
	Failures  []string                  `json:"failures,omitempty"`
}

// Report describes the final state. Object data is read from the host
// when it runs locally, otherwise from the first local party.
func (h *harness) Report() Report {
	r := Report{Scenario: h.sc.Name, Failures: h.failures}
	if h.net != nil {
		r.Delivered, r.Dropped = h.net.Delivered(), h.net.Dropped()
	}

	view, ok := h.parties[h.sc.Host]
	if !ok {
		view = h.parties[h.order[0]]
	}
	r.Ticks = view.CurrentTick()

	for _, id := range view.Objects() {
		obj, ok := view.Object(id)
		if !ok {
			continue
		}
		or := ObjectReport{
			Object:     id,
			Controller: obj.Controller(),
			Roles:      make(map[core.PartyID]string, len(h.order)),
		}
		or.Holder, or.Epoch, _ = view.Holder(id)
		or.X, or.Y = obj.Position()
		if eng, ok := module.Get[*engine.Module](obj, engine.Capability); ok {
			or.Speed = eng.Property(engine.Speed)
			or.Controls = int(eng.Controls().Controls())
		}
		if l, ok := module.Get[*lights.Module](obj, lights.Capability); ok {
			for _, src := range append(l.Sources(), lights.Brake, lights.Reverse) {
				if l.IsOn(src) {
					or.Lights = append(or.Lights, src)
				}
			}
		}
		for _, pid := range h.order {
			if o, ok := h.parties[pid].Object(id); ok {
				or.Roles[pid] = o.Role().String()
			}
		}
		r.Objects = append(r.Objects, or)
	}

	for _, id := range h.order {
		r.Samples = append(r.Samples, h.parties[id].Stats())
	}
	return r
}
