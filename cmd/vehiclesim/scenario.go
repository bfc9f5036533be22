package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/modsync/vehicle/internal/control"
	"github.com/modsync/vehicle/pkg/core"
)

// Scenario actions.
const (
	actionSpawn     = "spawn"
	actionDespawn   = "despawn"
	actionMount     = "mount"
	actionDismount  = "dismount"
	actionControls  = "controls"
	actionEngine    = "engine"
	actionLight     = "light"
	actionTrack     = "track"
	actionSave      = "save"
	actionPartition = "partition"
	actionHeal      = "heal"
)

var knownActions = map[string]bool{
	actionSpawn: true, actionDespawn: true, actionMount: true, actionDismount: true,
	actionControls: true, actionEngine: true, actionLight: true, actionTrack: true,
	actionSave: true, actionPartition: true, actionHeal: true,
}

var controlNames = map[string]control.Mask{
	"accelerate": control.Accelerate,
	"handbrake":  control.Handbrake,
	"reverse":    control.Reverse,
	"turn_left":  control.TurnLeft,
	"turn_right": control.TurnRight,
	"power_on":   control.PowerOn,
}

// scenario.toml key mapping.
type scenarioFile struct {
	Name          string         `toml:"name"`
	Ticks         uint64         `toml:"ticks"`
	Host          string         `toml:"host"`
	FlushInterval int            `toml:"flush_interval"`
	SampleEvery   uint64         `toml:"sample_every"`
	Parties       []partyFile    `toml:"party"`
	Events        []scenarioStep `toml:"event"`
}

type partyFile struct {
	ID   string `toml:"id"`
	Side string `toml:"side"`
}

type scenarioStep struct {
	Tick         uint64   `toml:"tick"`
	Party        string   `toml:"party"`
	Action       string   `toml:"action"`
	Object       string   `toml:"object"`
	Capabilities []string `toml:"capabilities"`
	Controls     []string `toml:"controls"`
	Light        string   `toml:"light"`
	On           bool     `toml:"on"`
	X            float64  `toml:"x"`
	Y            float64  `toml:"y"`
	Peer         string   `toml:"peer"`
}

// Scenario is a validated scenario with events ordered by tick.
type Scenario struct {
	Name          string
	Ticks         uint64
	Host          core.PartyID
	FlushInterval int // 0 keeps sim.flushInterval
	SampleEvery   uint64
	Parties       []ScenarioParty
	Events        []Event
}

type ScenarioParty struct {
	ID   core.PartyID
	Side core.Side
}

// Event is one scripted action performed by a party at the start of a tick.
type Event struct {
	Tick         uint64
	Party        core.PartyID
	Action       string
	Object       core.ObjectID
	Capabilities []string
	Controls     control.Mask
	Light        string
	On           bool
	X, Y         float64
	Peer         core.PartyID
}

func defaultScenario() Scenario {
	return Scenario{
		Name:        "scenario",
		Ticks:       600,
		SampleEvery: 60,
	}
}

// loadScenario decodes a scenario file, overlaying it on the defaults.
func loadScenario(path string) (Scenario, error) {
	var raw scenarioFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Scenario{}, fmt.Errorf("load scenario: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Scenario{}, fmt.Errorf("load scenario: unknown key %q", undecoded[0].String())
	}
	return buildScenario(raw, meta)
}

func buildScenario(raw scenarioFile, meta toml.MetaData) (Scenario, error) {
	sc := defaultScenario()
	if meta.IsDefined("name") {
		sc.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("ticks") {
		sc.Ticks = raw.Ticks
	}
	if meta.IsDefined("flush_interval") {
		sc.FlushInterval = raw.FlushInterval
	}
	if meta.IsDefined("sample_every") {
		sc.SampleEvery = raw.SampleEvery
	}

	if len(raw.Parties) == 0 {
		return Scenario{}, fmt.Errorf("load scenario: at least one [[party]] is required")
	}
	seen := make(map[core.PartyID]bool, len(raw.Parties))
	for i, rp := range raw.Parties {
		id := core.PartyID(strings.TrimSpace(rp.ID))
		if id == "" {
			return Scenario{}, fmt.Errorf("load scenario: party %d has no id", i)
		}
		if seen[id] {
			return Scenario{}, fmt.Errorf("load scenario: duplicate party %q", id)
		}
		seen[id] = true
		side, err := parseSide(rp.Side)
		if err != nil {
			return Scenario{}, fmt.Errorf("load scenario: party %q: %w", id, err)
		}
		sc.Parties = append(sc.Parties, ScenarioParty{ID: id, Side: side})
	}

	sc.Host = sc.Parties[0].ID
	if meta.IsDefined("host") {
		sc.Host = core.PartyID(strings.TrimSpace(raw.Host))
		if !seen[sc.Host] {
			return Scenario{}, fmt.Errorf("load scenario: host %q is not a party", sc.Host)
		}
	}

	for i, step := range raw.Events {
		ev, err := buildEvent(step, sc.Host, seen)
		if err != nil {
			return Scenario{}, fmt.Errorf("load scenario: event %d: %w", i, err)
		}
		if ev.Tick > sc.Ticks {
			return Scenario{}, fmt.Errorf("load scenario: event %d: tick %d is past the end (%d)", i, ev.Tick, sc.Ticks)
		}
		sc.Events = append(sc.Events, ev)
	}
	sort.SliceStable(sc.Events, func(i, j int) bool { return sc.Events[i].Tick < sc.Events[j].Tick })
	return sc, nil
}

func buildEvent(step scenarioStep, host core.PartyID, parties map[core.PartyID]bool) (Event, error) {
	action := strings.ToLower(strings.TrimSpace(step.Action))
	if !knownActions[action] {
		return Event{}, fmt.Errorf("unknown action %q", step.Action)
	}
	ev := Event{
		Tick:         step.Tick,
		Party:        core.PartyID(strings.TrimSpace(step.Party)),
		Action:       action,
		Object:       core.ObjectID(strings.TrimSpace(step.Object)),
		Capabilities: step.Capabilities,
		Light:        strings.TrimSpace(step.Light),
		On:           step.On,
		X:            step.X,
		Y:            step.Y,
		Peer:         core.PartyID(strings.TrimSpace(step.Peer)),
	}
	if ev.Party == "" {
		ev.Party = host
	}
	if !parties[ev.Party] {
		return Event{}, fmt.Errorf("unknown party %q", ev.Party)
	}

	switch action {
	case actionSpawn:
		if ev.Party != host {
			return Event{}, fmt.Errorf("spawn must be performed by the host")
		}
		if len(ev.Capabilities) == 0 {
			return Event{}, fmt.Errorf("spawn needs capabilities")
		}
	case actionControls:
		for _, name := range step.Controls {
			bit, ok := controlNames[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return Event{}, fmt.Errorf("unknown control %q", name)
			}
			ev.Controls |= bit
		}
	case actionLight:
		if ev.Light == "" {
			return Event{}, fmt.Errorf("light action needs a light")
		}
	case actionPartition, actionHeal:
		if !parties[ev.Peer] || ev.Peer == ev.Party {
			return Event{}, fmt.Errorf("%s needs another party as peer", action)
		}
	}

	switch action {
	case actionSpawn, actionDespawn, actionMount, actionDismount, actionControls, actionEngine, actionLight:
		if ev.Object == "" {
			return Event{}, fmt.Errorf("%s needs an object", action)
		}
	}
	return ev, nil
}

func parseSide(s string) (core.Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client":
		return core.SideClient, nil
	case "server":
		return core.SideServer, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}
