// Package transform keeps the authoritative position of player entities.
// Clients stream positions tagged with 16-bit sequence ids that wrap during
// long sessions; only updates newer than the last accepted id are adopted.
package transform

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
)

// ColliderOffset is the distance between a player's position and its feet
// collider, which is what sits on the vent.
var ColliderOffset = protocol.Vector2{X: 0, Y: -0.4}

// Tolerance is the per-axis slack of position comparisons.
const Tolerance float32 = 0.1

// incomingLimit bounds the record of recently accepted positions.
const incomingLimit = 64

// SidGreaterThan reports whether sequence id n is newer than prev, treating
// the id space as a circle with a half-range window.
func SidGreaterThan(n, prev uint16) bool {
	wrap := prev + 32767
	if prev < wrap {
		return n > prev && n <= wrap
	}
	return n > prev || n <= wrap
}

// Game is what a transform needs to know about its game.
type Game interface {
	Code() protocol.GameCode
	// Map returns the map in play; ok is false before the ship is spawned.
	Map() (m geometry.MapID, ok bool)
}

// VentPolicy answers whether a client may currently use vents.
type VentPolicy interface {
	MayVent(sender *client.Client) bool
}

// Escalator turns a failed check into a reject or disconnect decision.
type Escalator interface {
	Escalate(ctx context.Context, sender *client.Client, call rpc.Call, cause string) rpc.Decision
}

// Deps are the collaborators shared by every transform of a game.
type Deps struct {
	Game      Game
	Geometry  geometry.Provider
	Vents     VentPolicy
	Escalator Escalator
	Events    events.Emitter
	Logger    zerolog.Logger
}

// Transform is the synchronized position of one player entity.
type Transform struct {
	netID uint32
	owner int32
	deps  Deps

	mu             sync.Mutex
	position       protocol.Vector2
	lastPosSent    protocol.Vector2
	lastSequenceID uint16
	sendQueue      []protocol.Vector2
	incoming       []protocol.Vector2
	spawnState     events.SpawnState
}

// New creates the transform of the entity netID owned by client owner.
func New(netID uint32, owner int32, deps Deps) *Transform {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Transform{netID: netID, owner: owner, deps: deps}
}

// NetID implements rpc.Entity.
func (t *Transform) NetID() uint32 { return t.netID }

// OwnerID implements rpc.Entity.
func (t *Transform) OwnerID() int32 { return t.owner }

// Position returns the authoritative position.
func (t *Transform) Position() protocol.Vector2 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// LastPosSent returns the last position broadcast to clients.
func (t *Transform) LastPosSent() protocol.Vector2 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPosSent
}

// SequenceID returns the last accepted sequence id.
func (t *Transform) SequenceID() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSequenceID
}

// SpawnState returns the airship spawn progress.
func (t *Transform) SpawnState() events.SpawnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.spawnState
}

// Incoming returns the recently accepted positions, oldest first.
func (t *Transform) Incoming() []protocol.Vector2 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Vector2(nil), t.incoming...)
}

// Enqueue schedules a server-side move for the next delta broadcast.
func (t *Transform) Enqueue(pos protocol.Vector2) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendQueue = append(t.sendQueue, pos)
	t.position = pos
}

// OnPlayerSpawn restarts the airship spawn sequence.
func (t *Transform) OnPlayerSpawn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spawnState = events.SpawnStatePreSpawn
}

// Serialize writes the transform state. For a delta it reports false,
// writing nothing, when no moves are queued.
func (t *Transform) Serialize(w *protocol.MessageWriter, initial bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if initial {
		w.WriteUint16(t.lastSequenceID)
		w.WriteVector2(t.position)
		return true, nil
	}
	if len(t.sendQueue) == 0 {
		return false, nil
	}
	if len(t.sendQueue) > 0xFFFF {
		return false, fmt.Errorf("transform %d: %d queued moves", t.netID, len(t.sendQueue))
	}

	n := uint16(len(t.sendQueue))
	t.lastSequenceID++
	w.WriteUint16(t.lastSequenceID)
	w.WritePacked(uint32(n))
	for _, pos := range t.sendQueue {
		w.WriteVector2(pos)
		t.lastPosSent = pos
	}
	t.sendQueue = t.sendQueue[:0]
	t.lastSequenceID += n - 1

	w.WriteUint16(t.lastSequenceID)
	w.WriteVector2(t.position)
	return true, nil
}

// Deserialize applies a data message from the entity's owner.
func (t *Transform) Deserialize(ctx context.Context, sender *client.Client, r *protocol.MessageReader, initial bool) error {
	if initial {
		sid, err := r.ReadUint16()
		if err != nil {
			return fmt.Errorf("transform initial sid: %w", err)
		}
		pos, err := r.ReadVector2()
		if err != nil {
			return fmt.Errorf("transform initial position: %w", err)
		}

		t.mu.Lock()
		t.incoming = t.incoming[:0]
		t.lastSequenceID = sid
		t.setPosition(pos)
		t.mu.Unlock()

		t.emitMovement(ctx, sender, pos, false)
		return nil
	}

	start, err := r.ReadUint16()
	if err != nil {
		return fmt.Errorf("transform start sid: %w", err)
	}
	count, err := r.ReadPackedInt32()
	if err != nil {
		return fmt.Errorf("transform count: %w", err)
	}
	if count < 0 || int(count)*4 > r.Remaining() {
		return fmt.Errorf("transform count %d exceeds payload", count)
	}

	positions := make([]protocol.Vector2, count)
	for i := range positions {
		if positions[i], err = r.ReadVector2(); err != nil {
			return fmt.Errorf("transform position %d: %w", i, err)
		}
	}

	t.mu.Lock()
	pos := t.position
	if len(t.incoming) > 0 {
		pos = t.incoming[len(t.incoming)-1]
	}
	for i, p := range positions {
		sid := start + uint16(i)
		if !SidGreaterThan(sid, t.lastSequenceID) {
			continue
		}
		t.lastSequenceID = sid
		t.remember(p)
		pos = p
	}
	t.position = pos
	t.mu.Unlock()

	t.emitMovement(ctx, sender, pos, false)
	return nil
}

// setPosition adopts pos. Callers hold t.mu.
func (t *Transform) setPosition(pos protocol.Vector2) {
	t.position = pos
	t.remember(pos)
}

func (t *Transform) remember(pos protocol.Vector2) {
	if len(t.incoming) >= incomingLimit {
		copy(t.incoming, t.incoming[1:])
		t.incoming = t.incoming[:len(t.incoming)-1]
	}
	t.incoming = append(t.incoming, pos)
}

func (t *Transform) emitMovement(ctx context.Context, sender *client.Client, pos protocol.Vector2, snap bool) {
	var code string
	if t.deps.Game != nil {
		code = t.deps.Game.Code().String()
	}
	t.deps.Events.Emit(ctx, events.Event{
		Type:   events.EventPlayerMovement,
		Source: "transform",
		Payload: events.MovementPayload{
			Code:     code,
			ClientID: sender.ID,
			NetID:    t.netID,
			X:        pos.X,
			Y:        pos.Y,
			Snap:     snap,
		},
	})
}
