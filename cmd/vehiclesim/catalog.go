package main

import (
	"log/slog"

	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/internal/modules/engine"
	"github.com/modsync/vehicle/internal/modules/lights"
	"github.com/modsync/vehicle/internal/modules/steering"
	"github.com/modsync/vehicle/internal/party"
	"github.com/modsync/vehicle/pkg/core"
)

// Light source part names usable as scenario capabilities.
const (
	headlight = "headlight"
	taillight = "taillight"
)

var defaultSounds = []engine.SoundBand{
	{Name: "idle", MinRPM: 0, MaxRPM: 2200},
	{Name: "mid", MinRPM: 2200, MaxRPM: 4800},
	{Name: "high", MinRPM: 4800, MaxRPM: 6500},
	{Name: "idle_int", MinRPM: 0, MaxRPM: 2200, Interior: true},
	{Name: "mid_int", MinRPM: 2200, MaxRPM: 4800, Interior: true},
	{Name: "high_int", MinRPM: 4800, MaxRPM: 6500, Interior: true},
}

// buildCatalog maps scenario capability names to composers. The engine
// start effect is a log line: the harness has no audio.
func buildCatalog(controls config.ControlsConfig, log *slog.Logger) party.Catalog {
	eng := engine.Config{
		MaxRevs:         6500,
		MaxSpeed:        144,
		Gears:           5,
		Sounds:          defaultSounds,
		StartGraceTicks: controls.StartGraceTicks,
		ForceFullGo:     controls.ForceFullGo,
		OnStart: func(id core.ObjectID) {
			log.Info("engine start effect", "object", string(id))
		},
	}
	return party.Catalog{
		string(engine.Capability):   module.Entry{Capability: engine.Capability, Factory: engine.Factory(eng)},
		string(steering.Capability): module.Entry{Capability: steering.Capability, Factory: steering.Factory(steering.Config{MaxAngle: 35})},
		headlight:                   lights.Part{ID: headlight},
		taillight:                   lights.Part{ID: taillight},
	}
}
