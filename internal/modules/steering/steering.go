// Package steering implements the steering capability. Its angle is
// simulation output: it is replicated from the authority and never
// persisted.
package steering

import (
	"math"

	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/modules/engine"
	"github.com/modsync/vehicle/internal/syncvar"
)

// Capability is the steering capability class.
const Capability module.Capability = "steering"

const AngleVar = "steering.angle"

type turnSource interface {
	TurningLeft() bool
	TurningRight() bool
}

// Config describes a steering wheel.
type Config struct {
	// MaxAngle is the full lock angle in degrees.
	MaxAngle float64
	// Rate is how far the wheel turns per tick, in degrees.
	Rate float64
}

// Module is the steering capability.
type Module struct {
	obj   *module.Object
	cfg   Config
	angle *syncvar.Var[float64]
	body  module.PhysicsHandler
}

// Factory returns a steering factory for cfg.
func Factory(cfg Config) module.Factory {
	if cfg.MaxAngle <= 0 {
		cfg.MaxAngle = 35
	}
	if cfg.Rate <= 0 {
		cfg.Rate = cfg.MaxAngle / 10
	}
	return func(o *module.Object) module.Module {
		return &Module{
			obj:   o,
			cfg:   cfg,
			angle: syncvar.New(AngleVar, syncvar.PhysicsToSpectators, 0.0),
		}
	}
}

func (m *Module) Capability() module.Capability { return Capability }

func (m *Module) Variables() []syncvar.Handle {
	return []syncvar.Handle{m.angle}
}

// Angle is the current steering angle in degrees, negative to the left.
func (m *Module) Angle() float64 { return m.angle.Get() }

func (m *Module) InitPhysics(h module.PhysicsHandler) { m.body = h }

func (m *Module) PrePhysicsTick() {
	target := 0.0
	if src, ok := m.obj.GetModule(engine.Capability); ok {
		if t, ok := src.(turnSource); ok {
			switch {
			case t.TurningLeft() && !t.TurningRight():
				target = -m.cfg.MaxAngle
			case t.TurningRight() && !t.TurningLeft():
				target = m.cfg.MaxAngle
			}
		}
	}
	cur := m.angle.Get()
	step := math.Max(-m.cfg.Rate, math.Min(m.cfg.Rate, target-cur))
	next := cur + step
	m.angle.Set(next)
	m.body.Steer(next)
}

func (m *Module) PostPhysicsTick() {}
