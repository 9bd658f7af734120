package server

import (
	"context"
	"fmt"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
)

// handleGameData checks every inner message and relays the accepted ones in
// a single packet of the same reliability. A disconnect verdict stops the
// message where it stands.
func (h *Handler) handleGameData(ctx context.Context, c *client.Client, pt protocol.PacketType, r *protocol.MessageReader, directed bool) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("game data code: %w", err)
	}
	var target int32
	if directed {
		if target, err = r.ReadPackedInt32(); err != nil {
			return fmt.Errorf("game data target: %w", err)
		}
	}

	g, ok := h.gameOf(c, code)
	if !ok {
		h.logger.Debug().Int32("client_id", c.ID).Int32("code", code).Msg("game data for a game the client is not in")
		return nil
	}
	if directed && !g.Has(target) {
		return nil
	}

	if pt != protocol.PacketReliable {
		pt = protocol.PacketUnreliable
	}
	out := protocol.GetWriterSized(pt, r.Length()+protocol.MessageHeaderSize+8)
	defer out.Release()
	flag := protocol.FlagGameData
	if directed {
		flag = protocol.FlagGameDataTo
	}
	out.StartMessage(byte(flag))
	out.WriteInt32(code)
	if directed {
		out.WritePackedInt32(target)
	}

	relayed := 0
	for r.Remaining() > 0 {
		inner, err := r.ReadMessage()
		if err != nil {
			return fmt.Errorf("game data message: %w", err)
		}
		call := callLabel(inner)

		d, err := g.HandleGameData(ctx, c, inner.Clone())
		if err != nil {
			return fmt.Errorf("game data %s: %w", call, err)
		}
		h.execute(g, c, call, d)
		switch d.Verdict {
		case rpc.Accept:
			if err := out.WriteMessage(inner.Tag(), inner.Raw()); err != nil {
				return err
			}
			relayed++
		case rpc.Disconnect:
			return nil
		}
	}
	if relayed == 0 {
		return nil
	}
	if err := out.EndMessage(); err != nil {
		return err
	}

	if directed {
		if err := g.SendTo(out, target); err != nil {
			h.logger.Debug().Err(err).Int32("client_id", c.ID).Int32("target", target).Msg("directed game data not delivered")
		}
		return nil
	}
	g.Broadcast(out, c.ID)
	return nil
}

// callLabel names an inner message for logs and metrics. RPCs are named by
// their call.
func callLabel(inner *protocol.MessageReader) string {
	tag := protocol.GameDataTag(inner.Tag())
	if tag != protocol.GameDataRpc {
		if name, ok := gameDataNames[tag]; ok {
			return name
		}
		return fmt.Sprintf("tag_%d", tag)
	}
	r := inner.Clone()
	if _, err := r.ReadPacked(); err != nil {
		return "rpc"
	}
	id, err := r.ReadByte()
	if err != nil {
		return "rpc"
	}
	return rpc.Call(id).String()
}

var gameDataNames = map[protocol.GameDataTag]string{
	protocol.GameDataData:           "data",
	protocol.GameDataSpawn:          "spawn",
	protocol.GameDataDespawn:        "despawn",
	protocol.GameDataSceneChange:    "scene_change",
	protocol.GameDataReady:          "ready",
	protocol.GameDataChangeSettings: "change_settings",
}
