package control

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/modsync/vehicle/pkg/streaming"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClientState(t *testing.T, starts *int) *State {
	t.Helper()
	return New("engine.controls", Options{
		Side:      core.SideClient,
		OnPowerOn: func() { *starts++ },
	})
}

func TestState_SpawnsWithHandbrake(t *testing.T) {
	s := New("c", Options{})
	assert.Equal(t, Handbrake, s.Controls())
	assert.True(t, s.HandBraking())
	assert.False(t, s.EngineStarted())
}

func TestState_ResetControls(t *testing.T) {
	s := New("c", Options{})
	s.SetControls(0b100111)
	s.ResetControls()
	assert.Equal(t, Mask(0b100010), s.Controls())
}

func TestState_EdgeFiresOncePerTransition(t *testing.T) {
	starts := 0
	s := newClientState(t, &starts)

	s.SetControls(Handbrake)
	assert.Equal(t, 0, starts, "0 to 0")

	s.SetControls(PowerOn | Handbrake)
	assert.Equal(t, 1, starts)

	s.SetControls(PowerOn | Accelerate)
	assert.Equal(t, 1, starts, "1 to 1")

	s.SetEngineStarted(false)
	s.SetEngineStarted(true)
	assert.Equal(t, 2, starts)
}

func TestState_EdgeFiresBeforeStore(t *testing.T) {
	var seen Mask
	var s *State
	s = New("c", Options{Side: core.SideClient, OnPowerOn: func() { seen = s.Controls() }})
	s.SetControls(PowerOn)
	assert.Equal(t, Handbrake, seen)
}

func TestState_EdgeSuppressedOnServer(t *testing.T) {
	starts := 0
	s := New("c", Options{Side: core.SideServer, OnPowerOn: func() { starts++ }})
	s.SetEngineStarted(true)
	assert.Equal(t, 0, starts)
	assert.True(t, s.EngineStarted())
}

func TestState_EdgeSuppressedDuringGrace(t *testing.T) {
	starts := 0
	age := uint64(10)
	s := New("c", Options{
		Side:            core.SideClient,
		StartGraceTicks: 60,
		Age:             func() uint64 { return age },
		OnPowerOn:       func() { starts++ },
	})
	s.SetEngineStarted(true)
	assert.Equal(t, 0, starts)

	s.SetEngineStarted(false)
	age = 60
	s.SetEngineStarted(true)
	assert.Equal(t, 0, starts, "still inside grace at exactly the limit")

	s.SetEngineStarted(false)
	age = 61
	s.SetEngineStarted(true)
	assert.Equal(t, 1, starts)
}

func TestState_EffectPanicIsContained(t *testing.T) {
	s := New("engine.controls", Options{
		Side:      core.SideClient,
		OnPowerOn: func() { panic("sound backend down") },
	})

	assert.NotPanics(t, func() { s.SetControls(PowerOn) })
	assert.Equal(t, PowerOn, s.Controls())

	r := New("engine.controls", Options{
		Side:      core.SideClient,
		OnPowerOn: func() { panic("sound backend down") },
	})
	assert.NotPanics(t, func() {
		_, err := r.Var().Apply("driver", streaming.Entry{Var: "engine.controls", Epoch: 1, Seq: 1, Value: json.RawMessage(strconv.Itoa(int(PowerOn)))}, 1)
		require.NoError(t, err)
	})
	assert.Equal(t, PowerOn, r.Controls())
}

func TestState_EffectRunsThroughGuard(t *testing.T) {
	guarded, starts := 0, 0
	s := New("c", Options{
		Side:      core.SideClient,
		OnPowerOn: func() { starts++ },
		Guard: func(fn func()) {
			guarded++
			fn()
		},
	})
	s.SetEngineStarted(true)
	assert.Equal(t, 1, guarded)
	assert.Equal(t, 1, starts)
}

func TestState_ReplicatedEdgeIgnoresStale(t *testing.T) {
	starts := 0
	s := newClientState(t, &starts)

	entry := func(seq uint64, m Mask) streaming.Entry {
		return streaming.Entry{Var: "engine.controls", Epoch: 1, Seq: seq, Value: json.RawMessage(strconv.Itoa(int(m)))}
	}

	_, err := s.Var().Apply("driver", entry(2, PowerOn|Handbrake), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, starts)

	// late, out of order: off then on again
	_, err = s.Var().Apply("driver", entry(1, Handbrake), 2)
	require.NoError(t, err)
	assert.Equal(t, PowerOn|Handbrake, s.Controls())

	// replay of an already-on state
	_, err = s.Var().Apply("driver", entry(3, PowerOn|Handbrake), 3)
	require.NoError(t, err)
	_, err = s.Var().Apply("driver", entry(4, PowerOn|Accelerate), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, starts)
}

func TestState_Overrides(t *testing.T) {
	starts := 0
	s := New("c", Options{
		Side:               core.SideClient,
		ForceAccelerating:  true,
		ForceEngineStarted: true,
		OnPowerOn:          func() { starts++ },
	})
	assert.True(t, s.Accelerating())
	assert.True(t, s.EngineStarted())
	assert.False(t, s.Controls().Has(PowerOn))

	// the override never hides a real transition
	s.SetEngineStarted(true)
	assert.Equal(t, 1, starts)
}

func TestState_GatedPredicates(t *testing.T) {
	s := New("c", Options{})
	s.SetControls(Accelerate | Reverse | TurnLeft | TurnRight)
	assert.False(t, s.Accelerating())
	assert.False(t, s.Reversing())
	assert.True(t, s.TurningLeft())
	assert.True(t, s.TurningRight())
	assert.False(t, s.HandBraking())

	s.SetEngineStarted(true)
	assert.True(t, s.Accelerating())
	assert.True(t, s.Reversing())
}
