// Package kinematic is a minimal bicycle-model body used by the harness in
// place of a real physics engine. It has no collisions and no gravity.
package kinematic

import (
	"math"
	"time"

	"github.com/modsync/vehicle/internal/module"
)

// Config tunes the body.
type Config struct {
	Acceleration float64 // m/s² at full throttle
	Drag         float64 // fraction of speed lost per second with no throttle
	MaxSpeed     float64 // m/s
	Wheelbase    float64 // m
}

// DefaultConfig is a small car.
var DefaultConfig = Config{
	Acceleration: 4,
	Drag:         0.3,
	MaxSpeed:     40,
	Wheelbase:    2.6,
}

// Body integrates throttle and steering into a planar position.
type Body struct {
	cfg      Config
	x, y     float64
	heading  float64 // radians, 0 along +x
	speed    float64 // m/s, negative when reversing
	throttle float64
	steer    float64 // degrees
	released bool
}

// Factory creates bodies that start where the object currently is.
func Factory(cfg Config) module.PhysicsFactory {
	return func(o *module.Object) module.PhysicsHandler {
		x, y := o.Position()
		return &Body{cfg: cfg, x: x, y: y}
	}
}

func (b *Body) Speed() float64               { return b.speed * 3.6 }
func (b *Body) Position() (float64, float64) { return b.x, b.y }
func (b *Body) Heading() float64             { return b.heading }
func (b *Body) Released() bool               { return b.released }

func (b *Body) Throttle(force float64) {
	b.throttle = math.Max(-1, math.Min(1, force))
}

func (b *Body) Steer(angle float64) {
	b.steer = angle
}

// Step advances the body by dt.
func (b *Body) Step(dt time.Duration) {
	s := dt.Seconds()
	b.speed += b.throttle * b.cfg.Acceleration * s
	if b.throttle == 0 {
		b.speed -= b.speed * math.Min(1, b.cfg.Drag*s)
	}
	if b.cfg.MaxSpeed > 0 {
		b.speed = math.Max(-b.cfg.MaxSpeed, math.Min(b.cfg.MaxSpeed, b.speed))
	}
	if b.cfg.Wheelbase > 0 {
		b.heading += b.speed * math.Tan(b.steer*math.Pi/180) / b.cfg.Wheelbase * s
	}
	b.x += b.speed * math.Cos(b.heading) * s
	b.y += b.speed * math.Sin(b.heading) * s
}

// Release marks the body as torn down.
func (b *Body) Release() {
	b.released = true
	b.throttle = 0
}
