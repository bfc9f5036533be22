package module

import (
	"testing"

	"github.com/modsync/vehicle/internal/syncvar"
	"github.com/modsync/vehicle/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	x, y     float64
	released bool
}

func (b *body) Speed() float64               { return 0 }
func (b *body) Position() (float64, float64) { return b.x, b.y }
func (b *body) Throttle(float64)             {}
func (b *body) Steer(float64)                {}
func (b *body) Release()                     { b.released = true }

type recorder struct {
	capability Capability
	calls      *[]string
	handler    PhysicsHandler
	sides      []core.Side
	panicOn    string
	v          *syncvar.Var[int]
}

func (r *recorder) Capability() Capability { return r.capability }

func (r *recorder) record(what string) {
	if r.panicOn == what {
		panic("boom")
	}
	*r.calls = append(*r.calls, string(r.capability)+":"+what)
}

func (r *recorder) InitPhysics(h PhysicsHandler) {
	r.handler = h
	if h == nil {
		r.record("initPhysics(nil)")
		return
	}
	r.record("initPhysics")
}
func (r *recorder) PrePhysicsTick()  { r.record("pre") }
func (r *recorder) PostPhysicsTick() { r.record("post") }
func (r *recorder) ListensEntityUpdates(side core.Side) bool {
	for _, s := range r.sides {
		if s == side {
			return true
		}
	}
	return false
}
func (r *recorder) EntityUpdate()                   { r.record("update") }
func (r *recorder) OnPassengerRemoved(core.PartyID) { r.record("passenger") }
func (r *recorder) Variables() []syncvar.Handle {
	if r.v == nil {
		return nil
	}
	return []syncvar.Handle{r.v}
}

func recorderEntry(c Capability, calls *[]string, mutate ...func(*recorder)) Entry {
	return Entry{Capability: c, Factory: func(*Object) Module {
		r := &recorder{capability: c, calls: calls, sides: []core.Side{core.SideServer, core.SideClient}}
		for _, m := range mutate {
			m(r)
		}
		return r
	}}
}

func newTestObject(t *testing.T, side core.Side, composers ...Composer) (*Object, *body) {
	t.Helper()
	b := &body{x: 3, y: 4}
	o, err := New("car", Options{Side: side, Physics: func(*Object) PhysicsHandler { return b }}, composers...)
	require.NoError(t, err)
	return o, b
}

func TestObject_DuplicateCapability(t *testing.T) {
	var calls []string
	o, _ := newTestObject(t, core.SideServer, recorderEntry("engine", &calls))

	inserted := o.AddModule("engine", recorderEntry("engine", &calls).Factory)
	assert.False(t, inserted)
	assert.Len(t, o.Modules(), 1)

	assert.True(t, o.AddModule("lights", recorderEntry("lights", &calls).Factory))
	assert.Len(t, o.Modules(), 2)
}

func TestObject_GetModule(t *testing.T) {
	var calls []string
	o, _ := newTestObject(t, core.SideServer, recorderEntry("engine", &calls))

	m, ok := Get[*recorder](o, "engine")
	require.True(t, ok)
	assert.Equal(t, Capability("engine"), m.Capability())

	_, ok = o.GetModule("wheels")
	assert.False(t, ok)
}

type lightsPart struct{ calls *[]string }

func (p lightsPart) Compose(b *Builder) {
	if !b.Has("lights") {
		b.Add("lights", recorderEntry("lights", p.calls).Factory)
	}
}

func TestBuilder_ComposerSynthesizesOnce(t *testing.T) {
	var calls []string
	o, _ := newTestObject(t, core.SideServer, lightsPart{&calls}, lightsPart{&calls}, recorderEntry("engine", &calls))
	mods := o.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, Capability("lights"), mods[0].Capability())
	assert.Equal(t, Capability("engine"), mods[1].Capability())
}

func TestObject_PhysicsPhasesNeedAuthority(t *testing.T) {
	var calls []string
	o, _ := newTestObject(t, core.SideServer, recorderEntry("a", &calls), recorderEntry("b", &calls))

	o.Tick(core.PrePhysics)
	o.Tick(core.PostPhysics)
	assert.Empty(t, calls)

	o.SetRole(core.Replica)
	o.Tick(core.PrePhysics)
	assert.Empty(t, calls)

	o.SetRole(core.Authoritative)
	o.Tick(core.PrePhysics)
	o.Tick(core.PostPhysics)
	assert.Equal(t, []string{"a:initPhysics", "b:initPhysics", "a:pre", "b:pre", "a:post", "b:post"}, calls)

	x, y := o.Position()
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func TestObject_LosingAuthorityTearsDownPhysics(t *testing.T) {
	var calls []string
	o, b := newTestObject(t, core.SideServer, recorderEntry("a", &calls))
	o.SetRole(core.Authoritative)
	require.NotNil(t, o.Physics())

	o.SetRole(core.Unsimulated)
	assert.Nil(t, o.Physics())
	assert.True(t, b.released)
	assert.Equal(t, []string{"a:initPhysics", "a:initPhysics(nil)"}, calls)

	calls = nil
	o.Tick(core.PrePhysics)
	assert.Empty(t, calls)
}

func TestObject_EntityUpdateGatedBySide(t *testing.T) {
	var calls []string
	clientOnly := func(r *recorder) { r.sides = []core.Side{core.SideClient} }
	server, _ := newTestObject(t, core.SideServer, recorderEntry("sound", &calls, clientOnly), recorderEntry("any", &calls))
	server.Tick(core.EntityUpdate)
	assert.Equal(t, []string{"any:update"}, calls)
	assert.Equal(t, uint64(1), server.Age())

	calls = nil
	client, _ := newTestObject(t, core.SideClient, recorderEntry("sound", &calls, clientOnly), recorderEntry("any", &calls))
	client.Tick(core.EntityUpdate)
	assert.Equal(t, []string{"sound:update", "any:update"}, calls)
}

func TestObject_FaultIsolation(t *testing.T) {
	var calls []string
	faulty := func(r *recorder) { r.panicOn = "pre" }
	o, _ := newTestObject(t, core.SideServer, recorderEntry("a", &calls, faulty), recorderEntry("b", &calls))
	o.SetRole(core.Authoritative)
	calls = nil

	assert.NotPanics(t, func() { o.Tick(core.PrePhysics) })
	assert.Equal(t, []string{"b:pre"}, calls)

	calls = nil
	o.Tick(core.PostPhysics)
	assert.Equal(t, []string{"a:post", "b:post"}, calls)
}

func TestObject_RemovePassenger(t *testing.T) {
	var calls []string
	o, _ := newTestObject(t, core.SideServer, recorderEntry("a", &calls))
	o.SetController("p1")
	o.RemovePassenger("p2")
	assert.Equal(t, core.PartyID("p1"), o.Controller())
	o.RemovePassenger("p1")
	assert.Equal(t, core.PartyID(""), o.Controller())
	assert.Equal(t, []string{"a:passenger", "a:passenger"}, calls)
}

func TestObject_RegistersModuleVariables(t *testing.T) {
	var calls []string
	withVar := func(r *recorder) { r.v = syncvar.New("a.value", syncvar.ServerToClients, 0) }
	o, _ := newTestObject(t, core.SideServer, recorderEntry("a", &calls, withVar))
	_, ok := o.Vars().Get("a.value")
	assert.True(t, ok)
	_, ok = o.Vars().Get(PositionVar)
	assert.True(t, ok)
}

func TestObject_Destroy(t *testing.T) {
	var calls []string
	o, b := newTestObject(t, core.SideServer, recorderEntry("a", &calls))
	o.SetRole(core.Authoritative)
	o.Destroy()

	assert.True(t, o.Destroyed())
	assert.True(t, b.released)
	assert.Empty(t, o.Modules())
	assert.Equal(t, core.Unsimulated, o.Role())

	o.SetRole(core.Authoritative)
	assert.Nil(t, o.Physics())
}
