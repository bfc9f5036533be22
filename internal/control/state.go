// Package control implements the driver intent bitmask of a vehicle.
package control

import (
	"fmt"
	"log/slog"

	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
)

// Mask is the wire-compact control bitmask.
type Mask int

const (
	Accelerate Mask = 1 << iota
	Handbrake
	Reverse
	TurnLeft
	TurnRight
	PowerOn
)

// Initial is the mask of a freshly spawned vehicle: handbrake engaged.
const Initial = Handbrake

// Sticky bits survive ResetControls.
const Sticky = PowerOn | Handbrake

// Has reports whether every bit of b is set.
func (m Mask) Has(b Mask) bool { return m&b == b }

// Options configures a State.
type Options struct {
	// Side is where this state lives. Edge effects only surface on clients.
	Side core.Side
	// StartGraceTicks suppresses the power-on effect until the object is
	// older than this many ticks.
	StartGraceTicks uint64
	// Age returns the object age in ticks. Nil means always past grace.
	Age func() uint64
	// OnPowerOn is the user-facing effect for an off-to-on transition.
	OnPowerOn func()
	// Guard runs the effect. It must recover panics; nil recovers and
	// logs to the default logger.
	Guard func(fn func())

	// ForceAccelerating and ForceEngineStarted are debug overrides. They
	// only affect the predicates, never the stored mask or edge detection.
	ForceAccelerating  bool
	ForceEngineStarted bool
}

// State is a synchronized control bitmask with an edge-triggered
// power-on effect.
type State struct {
	v    *syncvar.Var[Mask]
	opts Options
}

// New creates a state replicated under name from the controller to
// everyone else.
func New(name string, opts Options) *State {
	s := &State{
		v:    syncvar.New(name, syncvar.ControlsToSpectators, Initial),
		opts: opts,
	}
	s.v.OnReceive(s.edge)
	return s
}

// Var exposes the underlying variable for registration.
func (s *State) Var() *syncvar.Var[Mask] { return s.v }

// Controls returns the raw mask.
func (s *State) Controls() Mask { return s.v.Get() }

// SetControls stores a new mask, firing the power-on effect first if the
// power bit goes from 0 to 1.
func (s *State) SetControls(m Mask) {
	s.edge(s.v.Get(), m)
	s.v.Set(m)
}

// ResetControls drops every transient bit, keeping power and handbrake.
func (s *State) ResetControls() {
	s.SetControls(s.v.Get() & Sticky)
}

// SetEngineStarted sets or clears only the power bit.
func (s *State) SetEngineStarted(started bool) {
	m := s.v.Get()
	if started {
		s.SetControls(m | PowerOn)
		return
	}
	s.SetControls(m &^ PowerOn)
}

func (s *State) EngineStarted() bool {
	return s.opts.ForceEngineStarted || s.v.Get().Has(PowerOn)
}

func (s *State) Accelerating() bool {
	return s.opts.ForceAccelerating || (s.EngineStarted() && s.v.Get().Has(Accelerate))
}

func (s *State) Reversing() bool {
	return s.EngineStarted() && s.v.Get().Has(Reverse)
}

func (s *State) HandBraking() bool  { return s.v.Get().Has(Handbrake) }
func (s *State) TurningLeft() bool  { return s.v.Get().Has(TurnLeft) }
func (s *State) TurningRight() bool { return s.v.Get().Has(TurnRight) }

func (s *State) edge(prev, next Mask) {
	if prev.Has(PowerOn) || !next.Has(PowerOn) {
		return
	}
	if !s.opts.Side.IsClient() || s.opts.OnPowerOn == nil {
		return
	}
	if s.opts.Age != nil && s.opts.Age() <= s.opts.StartGraceTicks {
		return
	}
	if s.opts.Guard != nil {
		s.opts.Guard(s.opts.OnPowerOn)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("power-on effect failed", "var", s.v.Name(), "panic", fmt.Sprint(r))
		}
	}()
	s.opts.OnPowerOn()
}
