package streaming

import (
	"encoding/json"

	"github.com/modsync/vehicle/pkg/core"
)

// Message type constants. Every logical value crossing the wire is wrapped
// in an Envelope carrying one of these.
const (
	TypeBatch     = "batch"
	TypeRelease   = "authority_release"
	TypeReleased  = "authority_released"
	TypeGrant     = "authority_grant"
	TypeOccupancy = "occupancy"
	TypeSpawn     = "spawn"
	TypeDespawn   = "despawn"
	TypeHeartbeat = "heartbeat"
	TypeTrack     = "track"
)

// Envelope wraps all messages exchanged between parties.
// To is empty for broadcasts.
type Envelope struct {
	Type    string          `json:"type"`
	Object  core.ObjectID   `json:"object"`
	From    core.PartyID    `json:"from"`
	To      core.PartyID    `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Entry is one synchronized variable's value inside a batch.
type Entry struct {
	Var   string          `json:"var"`
	Epoch uint64          `json:"epoch"`
	Seq   uint64          `json:"seq"`
	Delta bool            `json:"delta,omitempty"`
	Value json.RawMessage `json:"value"`
}

// BatchPayload is the set of dirty variables of one object flushed together.
type BatchPayload struct {
	Tick    uint64  `json:"tick"`
	Entries []Entry `json:"entries"`
}

// ReleasePayload asks the current holder to give up authority.
type ReleasePayload struct {
	Epoch uint64       `json:"epoch"`
	Next  core.PartyID `json:"next,omitempty"`
}

// ReleasedPayload confirms that the holder finished its tick and froze.
type ReleasedPayload struct {
	Epoch uint64 `json:"epoch"`
}

// GrantPayload announces the agreed holder for a new epoch. An empty
// holder leaves the object unsimulated.
type GrantPayload struct {
	Epoch  uint64       `json:"epoch"`
	Holder core.PartyID `json:"holder,omitempty"`
}

// OccupancyPayload reports the controlling occupant's process.
type OccupancyPayload struct {
	Controller core.PartyID `json:"controller,omitempty"`
}

// SpawnPayload announces a new object, the capabilities composing it and
// where it was placed.
type SpawnPayload struct {
	Capabilities []string `json:"capabilities"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
}

// TrackPayload reports where a party's viewpoint is. The host uses it for
// the simulation-range policy.
type TrackPayload struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// New builds an envelope with a JSON-encoded payload.
func New(msgType string, object core.ObjectID, from core.PartyID, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, Object: object, From: from}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}
