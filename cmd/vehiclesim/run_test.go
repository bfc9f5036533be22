package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/modsync/vehicle/internal/authority"
	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/control"
	"github.com/modsync/vehicle/internal/model"
	"github.com/modsync/vehicle/internal/monitor"
	"github.com/modsync/vehicle/internal/storage/memory"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleLog struct{ samples []model.PerformanceSample }

func (l *sampleLog) RecordPerformance(s model.PerformanceSample) error {
	l.samples = append(l.samples, s)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testDeps() harnessDeps {
	log := quietLogger()
	return harnessDeps{
		Catalog:   buildCatalog(config.ControlsConfig{StartGraceTicks: 10}, log),
		Sim:       config.SimConfig{TickRate: 60, FlushInterval: 3, KeyframeInterval: 50},
		Authority: config.AuthorityConfig{LeaseTimeoutTicks: 30, HostSimulatesUnoccupied: true},
		Override:  authority.NewOverride(),
		Logger:    log,
	}
}

func runScenario(t *testing.T, sc Scenario, deps harnessDeps) Report {
	t.Helper()
	h, err := newHarness(sc, deps)
	require.NoError(t, err)
	h.connectLoopback()
	require.NoError(t, h.Run(context.Background()))
	report := h.Report()
	require.NoError(t, h.Close(context.Background()))
	return report
}

func TestHarness_HandoffScenario(t *testing.T) {
	sc, err := loadScenario(filepath.Join("testdata", "handoff.toml"))
	require.NoError(t, err)

	backend := memory.New(config.MemoryConfig{OutputDir: t.TempDir()})
	require.NoError(t, backend.Init())
	rec := &sampleLog{}

	deps := testDeps()
	deps.Storage = backend
	deps.Recorders = []monitor.Recorder{rec}
	deps.StatusDir = t.TempDir()
	var lastTick uint64
	deps.OnTick = func(tick uint64) { lastTick = tick }

	report := runScenario(t, sc, deps)

	assert.Empty(t, report.Failures)
	assert.Equal(t, uint64(360), report.Ticks)
	assert.Equal(t, uint64(360), lastTick)
	assert.Zero(t, report.Dropped)
	assert.NotZero(t, report.Delivered)

	require.Len(t, report.Objects, 1)
	car := report.Objects[0]
	assert.Equal(t, core.ObjectID("car1"), car.Object)
	assert.Equal(t, core.PartyID("bob"), car.Holder)
	assert.Equal(t, core.PartyID("bob"), car.Controller)
	assert.GreaterOrEqual(t, car.Epoch, uint64(3), "alice, host default, then bob")
	assert.Equal(t, map[core.PartyID]string{
		"host":  core.Replica.String(),
		"alice": core.Replica.String(),
		"bob":   core.Authoritative.String(),
	}, car.Roles)

	assert.Greater(t, car.X, 11.0, "alice drove the car forward")
	mask := control.Mask(car.Controls)
	assert.True(t, mask.Has(control.PowerOn|control.Handbrake))
	assert.False(t, mask.Has(control.Accelerate))
	assert.Contains(t, car.Lights, headlight)
	assert.Contains(t, car.Lights, "brake")

	// Samples every 60 ticks for each of the three parties.
	assert.Len(t, rec.samples, 3*6)
	require.Len(t, report.Samples, 3)
	assert.Equal(t, "host", report.Samples[0].Party)
	assert.FileExists(t, filepath.Join(deps.StatusDir, "status.bob.json"))

	// The host saved at tick 300.
	assert.Equal(t, 1, backend.Len())
	snap, err := backend.LoadSnapshot(context.Background(), "car1")
	require.NoError(t, err)
	assert.NotEmpty(t, snap)
}

func TestHarness_EventFailuresAreReported(t *testing.T) {
	sc := Scenario{
		Name:  "failures",
		Ticks: 10,
		Host:  "host",
		Parties: []ScenarioParty{
			{ID: "host", Side: core.SideServer},
			{ID: "alice", Side: core.SideClient},
		},
		Events: []Event{
			{Tick: 1, Party: "host", Action: actionSpawn, Object: "car1", Capabilities: []string{"engine"}},
			{Tick: 2, Party: "alice", Action: actionControls, Object: "car1", Controls: control.Accelerate},
			{Tick: 3, Party: "alice", Action: actionMount, Object: "ghost"},
			{Tick: 4, Party: "host", Action: actionSpawn, Object: "car2", Capabilities: []string{"jetpack"}},
			{Tick: 5, Party: "host", Action: actionSave},
		},
	}
	report := runScenario(t, sc, testDeps())

	require.Len(t, report.Failures, 4)
	assert.Contains(t, report.Failures[0], "does not control")
	assert.Contains(t, report.Failures[1], "ghost")
	assert.Contains(t, report.Failures[2], "jetpack")
	assert.Contains(t, report.Failures[3], "save")
	require.Len(t, report.Objects, 1)
	assert.Equal(t, core.PartyID("host"), report.Objects[0].Holder)
}

func TestHarness_PartitionFreezesClient(t *testing.T) {
	sc := Scenario{
		Name:  "partition",
		Ticks: 120,
		Host:  "host",
		Parties: []ScenarioParty{
			{ID: "host", Side: core.SideServer},
			{ID: "alice", Side: core.SideClient},
		},
		Events: []Event{
			{Tick: 1, Party: "host", Action: actionSpawn, Object: "car1", Capabilities: []string{"engine", "steering"}},
			{Tick: 5, Party: "alice", Action: actionMount, Object: "car1"},
			{Tick: 40, Party: "alice", Action: actionPartition, Peer: "host"},
		},
	}
	deps := testDeps()
	deps.Sim.FlushInterval = 1
	report := runScenario(t, sc, deps)

	assert.Empty(t, report.Failures)
	assert.NotZero(t, report.Dropped)
	require.Len(t, report.Objects, 1)
	car := report.Objects[0]
	// The host never revokes; alice stops simulating once her lease lapses.
	assert.Equal(t, core.PartyID("alice"), car.Holder)
	assert.Equal(t, core.Unsimulated.String(), car.Roles["alice"])
	assert.Equal(t, core.Replica.String(), car.Roles["host"])
}

func TestHarness_LocalPartyMustBeInScenario(t *testing.T) {
	sc := Scenario{Name: "x", Ticks: 1, Host: "host", Parties: []ScenarioParty{{ID: "host"}}}
	deps := testDeps()
	deps.Local = "nobody"
	_, err := newHarness(sc, deps)
	assert.ErrorContains(t, err, "nobody")
}

func TestHarness_PartitionNeedsLoopback(t *testing.T) {
	sc := Scenario{
		Name: "x", Ticks: 1, Host: "host",
		Parties: []ScenarioParty{{ID: "host"}, {ID: "alice"}},
		Events:  []Event{{Tick: 1, Party: "host", Action: actionPartition, Peer: "alice"}},
	}
	deps := testDeps()
	deps.Local = "host"
	h, err := newHarness(sc, deps)
	require.NoError(t, err)
	require.NoError(t, h.Run(context.Background()))
	report := h.Report()
	require.Len(t, report.Failures, 1)
	assert.Contains(t, report.Failures[0], "loopback")
}

func TestHarness_RunStopsOnCancel(t *testing.T) {
	sc := Scenario{Name: "x", Ticks: 1000, Host: "host", Parties: []ScenarioParty{{ID: "host"}}}
	h, err := newHarness(sc, testDeps())
	require.NoError(t, err)
	h.connectLoopback()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Run(ctx), context.Canceled)
}
