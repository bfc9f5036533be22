package engine

import (
	"testing"

	"github.com/modsync/vehicle/internal/control"
	"github.com/modsync/vehicle/internal/module"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBody struct {
	speed    float64
	throttle float64
}

func (b *fakeBody) Speed() float64               { return b.speed }
func (b *fakeBody) Position() (float64, float64) { return 0, 0 }
func (b *fakeBody) Throttle(f float64)           { b.throttle = f }
func (b *fakeBody) Steer(float64)                {}

var testConfig = Config{
	MaxRevs:  6000,
	MaxSpeed: 120,
	Gears:    4,
	Sounds: []SoundBand{
		{Name: "idle", MinRPM: 0, MaxRPM: 2000},
		{Name: "high", MinRPM: 2000, MaxRPM: 7000},
	},
}

func newEngine(t *testing.T, side core.Side, cfg Config) (*module.Object, *Module, *fakeBody) {
	t.Helper()
	body := &fakeBody{}
	o, err := module.New("car", module.Options{
		Side:    side,
		Physics: func(*module.Object) module.PhysicsHandler { return body },
	}, module.Entry{Capability: Capability, Factory: Factory(cfg)})
	require.NoError(t, err)
	m, ok := module.Get[*Module](o, Capability)
	require.True(t, ok)
	return o, m, body
}

func TestEngine_RegistersVariables(t *testing.T) {
	o, _, _ := newEngine(t, core.SideServer, testConfig)
	_, ok := o.Vars().Get(ControlsVar)
	assert.True(t, ok)
	_, ok = o.Vars().Get(PropertiesVar)
	assert.True(t, ok)
}

func TestEngine_SpawnsWithHandbrake(t *testing.T) {
	_, m, _ := newEngine(t, core.SideServer, testConfig)
	assert.True(t, m.HandBraking())
	assert.False(t, m.EngineStarted())
}

func TestEngine_PhysicsReadout(t *testing.T) {
	o, m, body := newEngine(t, core.SideServer, testConfig)
	o.SetRole(core.Authoritative)
	require.NotNil(t, m.PhysicsHandler())

	m.SetControls(control.PowerOn | control.Accelerate)
	body.speed = 45
	o.Tick(core.PrePhysics)
	o.Tick(core.PostPhysics)

	assert.Equal(t, 1.0, body.throttle)
	assert.Equal(t, float32(45), m.Property(Speed))
	assert.Equal(t, float32(2), m.Property(ActiveGear))
	assert.Equal(t, float32(6000), m.Property(MaxRevs))
	assert.InDelta(t, 0.2+0.8*15.0/30.0, float64(m.Property(Revs)), 1e-6)
	assert.Equal(t, float32(0), m.Property(Braking))

	m.SetControls(control.PowerOn | control.Handbrake)
	o.Tick(core.PrePhysics)
	o.Tick(core.PostPhysics)
	assert.Equal(t, 0.0, body.throttle)
	assert.Equal(t, float32(1), m.Property(Braking))

	o.SetRole(core.Replica)
	assert.Nil(t, m.PhysicsHandler())
}

func TestEngine_ReverseNeedsEngine(t *testing.T) {
	o, m, body := newEngine(t, core.SideServer, testConfig)
	o.SetRole(core.Authoritative)
	m.SetControls(control.Reverse)
	o.Tick(core.PrePhysics)
	assert.Equal(t, 0.0, body.throttle)

	m.SetEngineStarted(true)
	o.Tick(core.PrePhysics)
	assert.Equal(t, -1.0, body.throttle)
}

func TestEngine_SetPowerClamps(t *testing.T) {
	_, m, _ := newEngine(t, core.SideServer, testConfig)
	m.SetPower(1.7)
	assert.Equal(t, 1.0, m.Power())
	m.SetPower(-0.5)
	assert.Equal(t, 0.0, m.Power())
	m.SetPower(0.25)
	assert.Equal(t, 0.25, m.Power())
}

func TestEngine_PassengerRemovedResetsWhenUncontrolled(t *testing.T) {
	o, m, _ := newEngine(t, core.SideServer, testConfig)
	o.SetController("driver")
	m.SetControls(control.PowerOn | control.Handbrake | control.Accelerate | control.TurnLeft)

	o.RemovePassenger("passenger")
	assert.True(t, m.Controls().Controls().Has(control.Accelerate))

	o.RemovePassenger("driver")
	assert.Equal(t, control.PowerOn|control.Handbrake, m.Controls().Controls())
}

func TestEngine_StartEffectAfterGrace(t *testing.T) {
	var started []core.ObjectID
	cfg := testConfig
	cfg.StartGraceTicks = 2
	cfg.OnStart = func(id core.ObjectID) { started = append(started, id) }

	o, m, _ := newEngine(t, core.SideClient, cfg)
	m.SetEngineStarted(true)
	assert.Empty(t, started, "still in grace")

	m.SetEngineStarted(false)
	o.Tick(core.EntityUpdate)
	o.Tick(core.EntityUpdate)
	m.SetEngineStarted(true)
	assert.Empty(t, started, "age equal to the grace period is still in grace")

	m.SetEngineStarted(false)
	o.Tick(core.EntityUpdate)
	m.SetEngineStarted(true)
	assert.Equal(t, []core.ObjectID{"car"}, started)
}

func TestEngine_StartEffectPanicIsContained(t *testing.T) {
	cfg := testConfig
	cfg.OnStart = func(core.ObjectID) { panic("sound backend down") }

	o, m, _ := newEngine(t, core.SideClient, cfg)
	o.Tick(core.EntityUpdate)
	assert.NotPanics(t, func() { m.SetEngineStarted(true) })
	assert.True(t, m.EngineStarted())
}

func TestEngine_SoundBand(t *testing.T) {
	o, m, _ := newEngine(t, core.SideClient, testConfig)
	o.Tick(core.EntityUpdate)
	assert.Equal(t, "", m.SoundBand())

	m.SetEngineStarted(true)
	o.Tick(core.EntityUpdate)
	assert.Equal(t, "idle", m.SoundBand())

	props := make([]float32, numProperties)
	props[Revs] = 0.5
	props[MaxRevs] = 6000
	m.props.Set(props)
	o.Tick(core.EntityUpdate)
	assert.Equal(t, "high", m.SoundBand())

	m.SetEngineStarted(false)
	o.Tick(core.EntityUpdate)
	assert.Equal(t, "", m.SoundBand())
}

func TestEngine_NoSoundOnServer(t *testing.T) {
	o, m, _ := newEngine(t, core.SideServer, testConfig)
	m.SetEngineStarted(true)
	o.Tick(core.EntityUpdate)
	assert.Equal(t, "", m.SoundBand())
}

func TestEngine_CaptureRestore(t *testing.T) {
	_, m, _ := newEngine(t, core.SideServer, testConfig)
	assert.Equal(t, core.Fields{"isEngineStarted": false}, m.Capture())

	m.SetEngineStarted(true)
	snap := m.Capture()
	assert.Equal(t, core.Fields{"isEngineStarted": true}, snap)

	_, fresh, _ := newEngine(t, core.SideServer, testConfig)
	require.NoError(t, fresh.Restore(snap))
	assert.True(t, fresh.EngineStarted())
	assert.True(t, fresh.HandBraking())

	// restore never turns an engine off
	require.NoError(t, fresh.Restore(core.Fields{"isEngineStarted": false}))
	assert.True(t, fresh.EngineStarted())

	require.NoError(t, fresh.Restore(core.Fields{}))
	assert.Error(t, fresh.Restore(core.Fields{"isEngineStarted": "yes"}))
}

func TestEngine_ForceFullGoIsNotPersisted(t *testing.T) {
	cfg := testConfig
	cfg.ForceFullGo = true
	_, m, _ := newEngine(t, core.SideServer, cfg)
	assert.True(t, m.EngineStarted())
	assert.True(t, m.Accelerating())
	assert.Equal(t, core.Fields{"isEngineStarted": false}, m.Capture())
}
