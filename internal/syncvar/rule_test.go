package syncvar

import (
	"testing"

	"github.com/modsync/vehicle/pkg/core"
	"github.com/stretchr/testify/assert"
)

func view(local, controller, authority string) core.View {
	return core.View{
		Local:      core.PartyID(local),
		Host:       "host",
		Controller: core.PartyID(controller),
		Authority:  core.PartyID(authority),
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"server_to_clients", "physics_to_spectators", "controls_to_spectators", "local_only"} {
		r, ok := Lookup(name)
		assert.True(t, ok, name)
		assert.Equal(t, name, r.Name)
	}
	_, ok := Lookup("nope")
	assert.False(t, ok)
}

func TestRule_MayOriginate(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		view core.View
		want bool
	}{
		{"host ships server state", ServerToClients, view("host", "a", "a"), true},
		{"client never ships server state", ServerToClients, view("a", "a", "a"), false},
		{"authority ships physics", PhysicsToSpectators, view("a", "a", "a"), true},
		{"non-authority does not ship physics", PhysicsToSpectators, view("b", "a", "a"), false},
		{"nobody ships physics when unsimulated", PhysicsToSpectators, view("host", "", ""), false},
		{"controller ships controls", ControlsToSpectators, view("a", "a", "host"), true},
		{"host ships controls when unoccupied", ControlsToSpectators, view("host", "", "host"), true},
		{"passenger does not ship controls", ControlsToSpectators, view("b", "a", "a"), false},
		{"local only never ships", LocalOnly, view("a", "a", "a"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.MayOriginate(tt.view))
		})
	}
}

func TestRule_Accepts(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
		view core.View
		from core.PartyID
		want bool
	}{
		{"client accepts host state", ServerToClients, view("a", "", "host"), "host", true},
		{"client rejects forged server state", ServerToClients, view("a", "b", "b"), "b", false},
		{"spectator accepts physics", PhysicsToSpectators, view("b", "a", "a"), "a", true},
		{"host accepts physics from authority", PhysicsToSpectators, view("host", "a", "a"), "a", true},
		{"authority rejects physics echo", PhysicsToSpectators, view("a", "a", "a"), "a", false},
		{"spectator rejects physics from non-authority", PhysicsToSpectators, view("b", "a", "a"), "c", false},
		{"authority accepts controls", ControlsToSpectators, view("host", "a", "host"), "a", true},
		{"controller rejects its own controls", ControlsToSpectators, view("a", "a", "a"), "a", false},
		{"rejects controls from passenger", ControlsToSpectators, view("host", "a", "host"), "b", false},
		{"local only is never accepted", LocalOnly, view("b", "a", "a"), "a", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.Accepts(tt.view, tt.from))
		})
	}
}
