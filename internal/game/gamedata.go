package game

import (
	"context"
	"fmt"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
	"github.com/airlock-project/airlock/internal/transform"
)

// HandleGameData checks and applies one inner message of a GameData or
// GameDataTo message. Only accepted messages may be relayed. An error means
// the message was malformed.
func (g *Game) HandleGameData(ctx context.Context, sender *client.Client, msg *protocol.MessageReader) (rpc.Decision, error) {
	switch protocol.GameDataTag(msg.Tag()) {
	case protocol.GameDataData:
		return g.handleData(ctx, sender, msg)
	case protocol.GameDataRpc:
		return g.handleRPC(ctx, sender, msg)
	case protocol.GameDataSpawn:
		return g.handleSpawn(ctx, sender, msg)
	case protocol.GameDataDespawn:
		return g.handleDespawn(sender, msg)
	case protocol.GameDataSceneChange, protocol.GameDataReady:
		id, err := msg.ReadPackedInt32()
		if err != nil {
			return rpc.Decision{}, fmt.Errorf("client id: %w", err)
		}
		if id != sender.ID {
			return rpc.Rejected(fmt.Sprintf("scene message for client %d", id)), nil
		}
		return rpc.Accepted, nil
	default:
		return rpc.Accepted, nil
	}
}

func (g *Game) handleData(ctx context.Context, sender *client.Client, r *protocol.MessageReader) (rpc.Decision, error) {
	netID, err := r.ReadPacked()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("data net id: %w", err)
	}
	obj, ok := g.Object(netID)
	if !ok {
		return rpc.Rejected(fmt.Sprintf("data for unknown object %d", netID)), nil
	}
	if obj.owner != sender.ID {
		g.logger.Warn().
			Int32("client_id", sender.ID).
			Uint32("net_id", netID).
			Int32("owner", obj.owner).
			Msg("data for an object owned by another client")
		return rpc.Rejected("data ownership"), nil
	}
	if obj.Transform != nil {
		if err := obj.Transform.Deserialize(ctx, sender, r, false); err != nil {
			return rpc.Decision{}, err
		}
	}
	return rpc.Accepted, nil
}

func (g *Game) handleRPC(ctx context.Context, sender *client.Client, r *protocol.MessageReader) (rpc.Decision, error) {
	netID, err := r.ReadPacked()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("rpc net id: %w", err)
	}
	id, err := r.ReadByte()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("rpc call id: %w", err)
	}
	call := rpc.Call(id)

	var target rpc.Entity
	obj, found := g.Object(netID)
	if found {
		target = obj
	}

	d := rpc.Accepted
	if g.deps.Gate != nil {
		d = g.deps.Gate.Authorize(ctx, sender, target, call)
	}
	if d.Verdict != rpc.Accept {
		return d, nil
	}

	switch call {
	case rpc.SnapTo:
		if !found || obj.Transform == nil {
			return rpc.Rejected(fmt.Sprintf("SnapTo on object %d without a transform", netID)), nil
		}
		return obj.Transform.ValidateCall(ctx, sender, call, r)
	case rpc.SetRole:
		role, err := r.ReadUint16()
		if err != nil {
			return rpc.Decision{}, fmt.Errorf("role: %w", err)
		}
		if found {
			g.assignRole(obj, RoleType(role))
		}
	}
	return d, nil
}

func (g *Game) assignRole(obj *Object, role RoleType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.players[obj.owner]; ok {
		p.role, p.hasRole = role, true
	}
}

type spawnedComponent struct {
	netID uint32
	data  *protocol.MessageReader
}

func (g *Game) handleSpawn(ctx context.Context, sender *client.Client, r *protocol.MessageReader) (rpc.Decision, error) {
	spawnID, err := r.ReadPacked()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("spawn type: %w", err)
	}
	owner, err := r.ReadPackedInt32()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("spawn owner: %w", err)
	}
	if _, err := r.ReadByte(); err != nil {
		return rpc.Decision{}, fmt.Errorf("spawn flags: %w", err)
	}
	count, err := r.ReadPackedInt32()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("spawn component count: %w", err)
	}
	if count < 0 || int(count) > r.Remaining() {
		return rpc.Decision{}, fmt.Errorf("spawn component count %d exceeds payload", count)
	}
	components := make([]spawnedComponent, count)
	for i := range components {
		if components[i].netID, err = r.ReadPacked(); err != nil {
			return rpc.Decision{}, fmt.Errorf("component %d net id: %w", i, err)
		}
		if components[i].data, err = r.ReadMessage(); err != nil {
			return rpc.Decision{}, fmt.Errorf("component %d data: %w", i, err)
		}
	}

	spawn := SpawnType(spawnID)
	g.mu.Lock()
	if sender.ID != g.hostID {
		g.mu.Unlock()
		return rpc.Rejected(fmt.Sprintf("spawn of %d by a client that does not host", spawn)), nil
	}
	if owner == ownerHost {
		owner = g.hostID
	}
	for _, c := range components {
		if _, dup := g.objects[c.netID]; dup {
			g.mu.Unlock()
			return rpc.Rejected(fmt.Sprintf("spawn reuses net id %d", c.netID)), nil
		}
	}

	objects := make([]*Object, len(components))
	for i, c := range components {
		objects[i] = &Object{netID: c.netID, owner: owner, spawn: spawn}
		g.objects[c.netID] = objects[i]
	}
	if m, ok := shipMaps[spawn]; ok {
		g.mapID, g.mapKnown = m, true
	}

	var (
		nt        *Object
		ownerConn = sender
	)
	if spawn == SpawnPlayerControl && len(objects) >= playerComponents {
		control := objects[componentPlayerControl]
		nt = objects[componentNetworkTransform]
		nt.Transform = transform.New(nt.netID, owner, g.transformDeps())
		if p, ok := g.players[owner]; ok {
			p.control = control
			ownerConn = p.Client
		}
	}
	g.mu.Unlock()

	g.logger.Debug().
		Uint32("spawn", uint32(spawn)).
		Int32("owner", owner).
		Int("components", len(components)).
		Msg("objects spawned")

	if nt != nil {
		data := components[componentNetworkTransform].data
		if data.Remaining() > 0 {
			if err := nt.Transform.Deserialize(ctx, ownerConn, data, true); err != nil {
				return rpc.Decision{}, err
			}
		}
		nt.Transform.OnPlayerSpawn()
	}
	return rpc.Accepted, nil
}

// transformDeps wires a new transform to this game. Callers hold g.mu.
func (g *Game) transformDeps() transform.Deps {
	deps := transform.Deps{
		Game:     g,
		Geometry: g.deps.Geometry,
		Vents:    g,
		Events:   g.deps.Events,
		Logger:   g.logger,
	}
	if g.deps.Gate != nil {
		deps.Escalator = g.deps.Gate
	}
	return deps
}

func (g *Game) handleDespawn(sender *client.Client, r *protocol.MessageReader) (rpc.Decision, error) {
	netID, err := r.ReadPacked()
	if err != nil {
		return rpc.Decision{}, fmt.Errorf("despawn net id: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if sender.ID != g.hostID {
		return rpc.Rejected("despawn by a client that does not host"), nil
	}
	obj, ok := g.objects[netID]
	if !ok {
		return rpc.Rejected(fmt.Sprintf("despawn of unknown object %d", netID)), nil
	}
	delete(g.objects, netID)
	if p, ok := g.players[obj.owner]; ok && p.control == obj {
		p.control = nil
	}
	return rpc.Accepted, nil
}
