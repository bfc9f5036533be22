package engine

import (
	"math"

	"github.com/modsync/vehicle/internal/module"
)

// Physics is the engine's nested physics handler. It turns controls into
// throttle on the object's body and derives the engine readout from it.
type Physics struct {
	m    *Module
	body module.PhysicsHandler
	revs float64
	gear int
}

func newPhysics(m *Module, body module.PhysicsHandler) *Physics {
	return &Physics{m: m, body: body, gear: 1}
}

func (p *Physics) update() {
	c := p.m
	var force float64
	switch {
	case c.HandBraking():
		force = 0
	case c.Accelerating():
		force = 1
	case c.Reversing():
		force = -1
	}
	if c.power > 0 {
		force = math.Max(force, c.power)
	}
	p.body.Throttle(force)

	speed := math.Abs(p.body.Speed())
	maxSpeed := c.cfg.MaxSpeed
	if maxSpeed <= 0 || !c.EngineStarted() {
		p.revs, p.gear = 0, 1
		return
	}
	perGear := maxSpeed / float64(c.cfg.Gears)
	p.gear = min(c.cfg.Gears, 1+int(speed/perGear))
	inGear := speed - perGear*float64(p.gear-1)
	p.revs = math.Min(1, 0.2+0.8*inGear/perGear)
}

// Revs is the normalized engine speed.
func (p *Physics) Revs() float64 { return p.revs }

// Gear is the active gear, starting at 1.
func (p *Physics) Gear() int { return p.gear }

func (p *Physics) readout() []float32 {
	c := p.m
	out := make([]float32, numProperties)
	out[Speed] = float32(p.body.Speed())
	out[Revs] = float32(p.revs)
	out[MaxRevs] = float32(c.cfg.MaxRevs)
	out[ActiveGear] = float32(p.gear)
	out[MaxSpeed] = float32(c.cfg.MaxSpeed)
	out[Power] = float32(c.power)
	if c.HandBraking() {
		out[Braking] = 1
	}
	return out
}
