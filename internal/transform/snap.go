package transform

import (
	"context"
	"fmt"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
)

// ValidateCall implements rpc.Validator. SnapTo is the only call a
// transform receives.
func (t *Transform) ValidateCall(ctx context.Context, sender *client.Client, call rpc.Call, r *protocol.MessageReader) (rpc.Decision, error) {
	if call != rpc.SnapTo {
		return rpc.Rejected(fmt.Sprintf("%s sent to a transform", call)), nil
	}
	return t.HandleSnapTo(ctx, sender, r)
}

// HandleSnapTo checks and applies a SnapTo call. Ownership was checked by
// the gate. Airship spawn maneuvers pass unconditionally; any other snap
// must be a vent use by a player allowed to vent, landing on a vent.
func (t *Transform) HandleSnapTo(ctx context.Context, sender *client.Client, r *protocol.MessageReader) (rpc.Decision, error) {
	pos, err := r.ReadVector2()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("snap position: %w", err)
	}
	minSid, err := r.ReadUint16()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("snap sid: %w", err)
	}

	mapID, mapKnown := t.mapID()
	if mapKnown && t.spawnManeuver(mapID, pos) {
		return rpc.Accepted, nil
	}

	if t.deps.Vents != nil && !t.deps.Vents.MayVent(sender) {
		return t.escalate(ctx, sender, "Tried to vent without the ability"), nil
	}

	if !mapKnown {
		return t.escalate(ctx, sender, "Failed vent position check on unknown map"), nil
	}
	vents, ok := t.deps.Geometry.Vents(mapID)
	if !ok {
		return t.escalate(ctx, sender, "Failed vent position check on unknown map"), nil
	}

	feet := pos.Add(ColliderOffset)
	matched := -1
	for i, v := range vents {
		if protocol.Approximately(v.Position, feet, Tolerance) {
			matched = i
			break
		}
	}
	if matched < 0 {
		return t.escalate(ctx, sender, "Failed vent position check"), nil
	}

	vent := vents[matched]
	t.deps.Events.Emit(ctx, events.Event{
		Type:   events.EventPlayerVent,
		Source: "transform",
		Payload: events.VentPayload{
			Code:     t.deps.Game.Code().String(),
			ClientID: sender.ID,
			VentID:   vent.ID,
			VentName: vent.Name,
			X:        pos.X,
			Y:        pos.Y,
		},
	})

	t.snapTo(ctx, sender, pos, minSid)
	return rpc.Accepted, nil
}

func (t *Transform) mapID() (m geometry.MapID, ok bool) {
	if t.deps.Game == nil || t.deps.Geometry == nil {
		return 0, false
	}
	return t.deps.Game.Map()
}

// spawnManeuver advances the airship spawn state when pos is the next step
// of the spawn sequence.
func (t *Transform) spawnManeuver(m geometry.MapID, pos protocol.Vector2) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.spawnState {
	case events.SpawnStatePreSpawn:
		if pre, ok := t.deps.Geometry.PreSpawnLocation(m); ok && protocol.Approximately(pos, pre, Tolerance) {
			t.spawnState = events.SpawnStateSelectingSpawn
			return true
		}
	case events.SpawnStateSelectingSpawn:
		for _, loc := range t.deps.Geometry.SpawnLocations(m) {
			if protocol.Approximately(pos, loc, Tolerance) {
				t.spawnState = events.SpawnStateSpawned
				return true
			}
		}
	}
	return false
}

func (t *Transform) escalate(ctx context.Context, sender *client.Client, cause string) rpc.Decision {
	t.deps.Logger.Debug().
		Int32("client_id", sender.ID).
		Uint32("net_id", t.netID).
		Msg(cause)
	if t.deps.Escalator == nil {
		return rpc.Rejected(cause)
	}
	return t.deps.Escalator.Escalate(ctx, sender, rpc.SnapTo, cause)
}

// snapTo adopts pos when minSid is newer than the last accepted id.
func (t *Transform) snapTo(ctx context.Context, sender *client.Client, pos protocol.Vector2, minSid uint16) {
	t.mu.Lock()
	if !SidGreaterThan(minSid, t.lastSequenceID) {
		t.mu.Unlock()
		return
	}
	t.lastSequenceID = minSid
	t.setPosition(pos)
	t.mu.Unlock()

	t.emitMovement(ctx, sender, pos, true)
}
