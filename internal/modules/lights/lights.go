// Package lights implements the vehicle lights capability and the light
// source part that pulls it in.
package lights

import (
	"errors"
	"slices"

	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/modules/engine"
	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
)

// Capability is the lights capability class.
const Capability module.Capability = "lights"

const (
	StatesVar = "lights.states"

	onField = "on"
)

// Well-known light ids driven by the controls rather than toggled.
const (
	Brake   = "brake"
	Reverse = "reverse"
)

// controlSource is what lights need from the engine.
type controlSource interface {
	HandBraking() bool
	Reversing() bool
}

// Module is the lights capability. Toggled light ids are replicated from
// the driver; brake and reverse lights are derived locally every tick.
type Module struct {
	obj     *module.Object
	sources []string
	toggled *syncvar.Var[[]string]
	derived map[string]bool
}

// Factory creates a lights module.
func Factory() module.Factory {
	return func(o *module.Object) module.Module {
		return &Module{
			obj:     o,
			toggled: syncvar.New(StatesVar, syncvar.ControlsToSpectators, []string{}),
			derived: make(map[string]bool),
		}
	}
}

func (m *Module) Capability() module.Capability { return Capability }

func (m *Module) Variables() []syncvar.Handle {
	return []syncvar.Handle{m.toggled}
}

// Sources returns the light source ids attached by parts.
func (m *Module) Sources() []string {
	return slices.Clone(m.sources)
}

func (m *Module) addSource(id string) {
	if !slices.Contains(m.sources, id) {
		m.sources = append(m.sources, id)
	}
}

// SetLight toggles a light source. Unknown ids are ignored.
func (m *Module) SetLight(id string, on bool) {
	if !slices.Contains(m.sources, id) {
		return
	}
	cur := m.toggled.Get()
	if slices.Contains(cur, id) == on {
		return
	}
	next := slices.DeleteFunc(slices.Clone(cur), func(s string) bool { return s == id })
	if on {
		next = append(next, id)
		slices.Sort(next)
	}
	m.toggled.Set(next)
}

// IsOn reports whether a light is lit, toggled or derived.
func (m *Module) IsOn(id string) bool {
	return m.derived[id] || slices.Contains(m.toggled.Get(), id)
}

func (m *Module) ListensEntityUpdates(core.Side) bool { return true }

func (m *Module) EntityUpdate() {
	src, ok := m.obj.GetModule(engine.Capability)
	if !ok {
		return
	}
	if c, ok := src.(controlSource); ok {
		m.derived[Brake] = c.HandBraking()
		m.derived[Reverse] = c.Reversing()
	}
}

func (m *Module) Capture() core.Fields {
	return core.Fields{onField: slices.Clone(m.toggled.Get())}
}

func (m *Module) Restore(f core.Fields) error {
	on, err := f.Strings(onField)
	if err != nil {
		if errors.Is(err, core.ErrMissingField) {
			return nil
		}
		return err
	}
	for _, id := range on {
		m.SetLight(id, true)
	}
	return nil
}
