// Package engine implements the engine capability: driver controls, the
// replicated engine readout and the desired engine sound band.
package engine

import (
	"errors"
	"math"

	"github.com/modsync/vehicle/internal/control"
	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
)

// Capability is the engine capability class.
const Capability module.Capability = "engine"

const (
	ControlsVar   = "engine.controls"
	PropertiesVar = "engine.properties"

	startedField = "isEngineStarted"
)

// Property indexes the engine readout vector.
type Property int

const (
	Speed Property = iota // km/h
	Revs                  // normalized to MaxRevs
	MaxRevs
	ActiveGear
	MaxSpeed // km/h
	Power
	Braking
	numProperties
)

// SoundBand is an engine sound selected by RPM range.
type SoundBand struct {
	Name     string
	MinRPM   float64
	MaxRPM   float64
	Interior bool
}

func (b SoundBand) plays(rpm float64, interior bool) bool {
	return b.Interior == interior && rpm >= b.MinRPM && rpm <= b.MaxRPM
}

// Config describes one engine.
type Config struct {
	MaxRevs  float64
	MaxSpeed float64
	Gears    int
	Sounds   []SoundBand

	StartGraceTicks uint64
	ForceFullGo     bool
	// OnStart is the user-facing effect for the engine starting.
	OnStart func(id core.ObjectID)
	// Interior reports whether the local viewer sits inside the vehicle.
	Interior func() bool
}

// Module is the engine capability.
type Module struct {
	obj      *module.Object
	cfg      Config
	controls *control.State
	props    *syncvar.Var[[]float32]
	power    float64
	physics  *Physics
	band     *SoundBand
}

// Factory returns a module factory for cfg.
func Factory(cfg Config) module.Factory {
	return func(o *module.Object) module.Module {
		return New(o, cfg)
	}
}

// New creates the engine module of o.
func New(o *module.Object, cfg Config) *Module {
	if cfg.Gears <= 0 {
		cfg.Gears = 1
	}
	m := &Module{
		obj: o,
		cfg: cfg,
		props: syncvar.New(PropertiesVar, syncvar.PhysicsToSpectators,
			make([]float32, numProperties),
			syncvar.WithCodec[[]float32](syncvar.Float32s{})),
	}
	m.controls = control.New(ControlsVar, control.Options{
		Side:               o.Side(),
		StartGraceTicks:    cfg.StartGraceTicks,
		Age:                o.Age,
		OnPowerOn:          m.playStartingSound,
		Guard:              func(fn func()) { o.Guard(m, "powerOn", fn) },
		ForceAccelerating:  cfg.ForceFullGo,
		ForceEngineStarted: cfg.ForceFullGo,
	})
	return m
}

func (m *Module) Capability() module.Capability { return Capability }

func (m *Module) Variables() []syncvar.Handle {
	return []syncvar.Handle{m.controls.Var(), m.props}
}

// Controls exposes the control state.
func (m *Module) Controls() *control.State { return m.controls }

func (m *Module) SetControls(c control.Mask) { m.controls.SetControls(c) }
func (m *Module) ResetControls()             { m.controls.ResetControls() }
func (m *Module) SetEngineStarted(on bool)   { m.controls.SetEngineStarted(on) }
func (m *Module) EngineStarted() bool        { return m.controls.EngineStarted() }
func (m *Module) Accelerating() bool         { return m.controls.Accelerating() }
func (m *Module) Reversing() bool            { return m.controls.Reversing() }
func (m *Module) HandBraking() bool          { return m.controls.HandBraking() }
func (m *Module) TurningLeft() bool          { return m.controls.TurningLeft() }
func (m *Module) TurningRight() bool         { return m.controls.TurningRight() }

// SetPower sets the collective power of a rotor engine, clamped to [0, 1].
func (m *Module) SetPower(p float64) {
	m.power = math.Max(0, math.Min(1, p))
}

func (m *Module) Power() float64 { return m.power }

// Properties returns a copy of the engine readout.
func (m *Module) Properties() []float32 {
	p := m.props.Get()
	out := make([]float32, numProperties)
	copy(out, p)
	return out
}

// Property returns one readout value.
func (m *Module) Property(p Property) float32 {
	props := m.props.Get()
	if int(p) >= len(props) {
		return 0
	}
	return props[p]
}

// SoundBand returns the engine sound the local viewer should hear, or ""
// when the engine is silent.
func (m *Module) SoundBand() string {
	if m.band == nil {
		return ""
	}
	return m.band.Name
}

// PhysicsHandler returns the nested engine handler while simulating.
func (m *Module) PhysicsHandler() *Physics { return m.physics }

func (m *Module) InitPhysics(h module.PhysicsHandler) {
	if h == nil {
		m.physics = nil
		return
	}
	m.physics = newPhysics(m, h)
}

func (m *Module) PrePhysicsTick() {
	m.physics.update()
}

func (m *Module) PostPhysicsTick() {
	m.props.Set(m.physics.readout())
}

func (m *Module) OnPassengerRemoved(core.PartyID) {
	if m.obj.Controller() == "" {
		m.controls.ResetControls()
	}
}

// ListensEntityUpdates limits sound selection to clients.
func (m *Module) ListensEntityUpdates(side core.Side) bool {
	return side.IsClient()
}

func (m *Module) EntityUpdate() {
	if !m.EngineStarted() {
		m.band = nil
		return
	}
	rpm := float64(m.Property(Revs)) * float64(m.Property(MaxRevs))
	interior := m.cfg.Interior != nil && m.cfg.Interior()
	if m.band != nil && m.band.plays(rpm, interior) {
		return
	}
	for i := range m.cfg.Sounds {
		if m.cfg.Sounds[i].plays(rpm, interior) {
			m.band = &m.cfg.Sounds[i]
			return
		}
	}
}

// Capture persists whether the engine runs. The override is not persisted.
func (m *Module) Capture() core.Fields {
	return core.Fields{startedField: m.controls.Controls().Has(control.PowerOn)}
}

// Restore can only turn the engine on; a stopped engine is the default.
func (m *Module) Restore(f core.Fields) error {
	started, err := f.Bool(startedField)
	if err != nil {
		if errors.Is(err, core.ErrMissingField) {
			return nil
		}
		return err
	}
	if started {
		m.controls.SetEngineStarted(true)
	}
	return nil
}

func (m *Module) playStartingSound() {
	if m.cfg.OnStart != nil {
		m.cfg.OnStart(m.obj.ID())
	}
}
