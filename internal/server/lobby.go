package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/protocol"
)

// AlterGame tags.
const alterPrivacy byte = 1

func (h *Handler) handleHostGame(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	options := append([]byte(nil), r.Rest()...)

	g, err := h.games.Create(ctx, c, options)
	if errors.Is(err, client.ErrDisconnected) {
		return nil
	}
	if err != nil {
		h.logger.Error().Err(err).Int32("client_id", c.ID).Msg("failed to create game")
		h.reply(c, func(w *protocol.MessageWriter) {
			writeJoinError(w, protocol.ReasonCustom, c.Message(client.MsgError))
		})
		return nil
	}
	h.reply(c, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagHostGame))
		w.WriteInt32(int32(g.Code()))
		_ = w.EndMessage()
	})
	return nil
}

func (h *Handler) handleJoinGame(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	raw, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("join game code: %w", err)
	}
	code := protocol.GameCode(raw)

	g, ok := h.games.Find(code)
	if !ok {
		h.reply(c, func(w *protocol.MessageWriter) { writeJoinError(w, protocol.ReasonGameNotFound, "") })
		return nil
	}
	if current, inGame := c.Game(); inGame && current != code {
		h.removeFromGame(ctx, c, byte(protocol.ReasonExitGame))
	}

	if _, err := g.Join(ctx, c); err != nil {
		var jerr *game.JoinError
		if !errors.As(err, &jerr) {
			h.logger.Error().Err(err).Int32("client_id", c.ID).Str("game", code.String()).Msg("join failed")
			jerr = &game.JoinError{Reason: protocol.ReasonCustom, Message: c.Message(client.MsgError)}
		}
		h.reply(c, func(w *protocol.MessageWriter) { writeJoinError(w, jerr.Reason, jerr.Message) })
		return nil
	}

	hostID := g.HostID()
	h.broadcast(g, c.ID, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagJoinGame))
		w.WriteInt32(int32(code))
		w.WriteInt32(c.ID)
		w.WriteInt32(hostID)
		writeProfile(w, c)
		_ = w.EndMessage()
	})

	h.reply(c, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagJoinedGame))
		w.WriteInt32(int32(code))
		w.WriteInt32(c.ID)
		w.WriteInt32(hostID)
		others := make([]*client.Client, 0, g.PlayerCount())
		for _, p := range g.Players() {
			if p.ID != c.ID {
				others = append(others, p)
			}
		}
		w.WritePackedInt32(int32(len(others)))
		for _, p := range others {
			w.WritePackedInt32(p.ID)
			writeProfile(w, p)
		}
		_ = w.EndMessage()
	})
	return nil
}

// hostGame returns the game named by code when c hosts it.
func (h *Handler) hostGame(c *client.Client, code int32, what string) (*game.Game, bool) {
	g, ok := h.gameOf(c, code)
	if !ok {
		h.logger.Debug().Int32("client_id", c.ID).Msgf("%s for a game the client is not in", what)
		return nil, false
	}
	if g.HostID() != c.ID {
		h.logger.Warn().Int32("client_id", c.ID).Str("game", g.Code().String()).Msgf("%s from a client that does not host", what)
		return nil, false
	}
	return g, true
}

func (h *Handler) handleStartGame(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("start game code: %w", err)
	}
	g, ok := h.hostGame(c, code, "StartGame")
	if !ok {
		return nil
	}
	g.SetState(ctx, events.GameStateStarted)
	h.broadcast(g, -1, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagStartGame))
		w.WriteInt32(code)
		_ = w.EndMessage()
	})
	return nil
}

func (h *Handler) handleEndGame(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("end game code: %w", err)
	}
	reason, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("end game reason: %w", err)
	}
	showAd, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("end game ad flag: %w", err)
	}
	g, ok := h.hostGame(c, code, "EndGame")
	if !ok {
		return nil
	}
	g.SetState(ctx, events.GameStateEnded)
	g.SetState(ctx, events.GameStateNotStarted)
	h.broadcast(g, -1, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagEndGame))
		w.WriteInt32(code)
		_ = w.WriteByte(reason)
		w.WriteBool(showAd)
		_ = w.EndMessage()
	})
	return nil
}

func (h *Handler) handleRemovePlayer(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("remove player code: %w", err)
	}
	id, err := r.ReadPackedInt32()
	if err != nil {
		return fmt.Errorf("remove player id: %w", err)
	}
	reason, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("remove player reason: %w", err)
	}
	g, ok := h.hostGame(c, code, "RemovePlayer")
	if !ok {
		return nil
	}
	target, ok := h.registry.Get(id)
	if !ok || !g.Has(id) {
		return nil
	}
	h.removeFromGame(ctx, target, reason)
	return nil
}

func (h *Handler) handleAlterGame(_ context.Context, c *client.Client, r *protocol.MessageReader) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("alter game code: %w", err)
	}
	tag, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("alter game tag: %w", err)
	}
	value, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("alter game value: %w", err)
	}
	g, ok := h.hostGame(c, code, "AlterGame")
	if !ok || tag != alterPrivacy {
		return nil
	}
	g.SetPublic(value)
	h.broadcast(g, -1, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagAlterGame))
		w.WriteInt32(code)
		_ = w.WriteByte(tag)
		w.WriteBool(value)
		_ = w.EndMessage()
	})
	return nil
}

func (h *Handler) handleKickPlayer(ctx context.Context, c *client.Client, r *protocol.MessageReader) error {
	code, err := r.ReadInt32()
	if err != nil {
		return fmt.Errorf("kick code: %w", err)
	}
	id, err := r.ReadPackedInt32()
	if err != nil {
		return fmt.Errorf("kick player id: %w", err)
	}
	ban, err := r.ReadBool()
	if err != nil {
		return fmt.Errorf("kick ban flag: %w", err)
	}
	g, ok := h.hostGame(c, code, "KickPlayer")
	if !ok || id == c.ID || !g.Has(id) {
		return nil
	}
	target, ok := h.registry.Get(id)
	if !ok {
		return nil
	}

	h.broadcast(g, -1, func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.FlagKickPlayer))
		w.WriteInt32(code)
		w.WritePackedInt32(id)
		w.WriteBool(ban)
		_ = w.EndMessage()
	})

	reason, label := protocol.ReasonKicked, "kicked"
	if ban {
		reason, label = protocol.ReasonBanned, "banned"
	}
	h.removeFromGame(ctx, target, byte(reason))
	h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientKicked,
		Source:  "server",
		Payload: events.KickPayload{ClientID: id, Reason: label, By: c.Name},
	})
	if err := target.Disconnect(reason, ""); err != nil {
		h.logger.Debug().Err(err).Int32("client_id", id).Msg("failed to disconnect kicked client")
	}
	return nil
}

func writeJoinError(w *protocol.MessageWriter, reason protocol.DisconnectReason, message string) {
	w.StartMessage(byte(protocol.FlagJoinGame))
	w.WriteInt32(int32(reason))
	if reason == protocol.ReasonCustom {
		w.WriteString(message)
	}
	_ = w.EndMessage()
}

func writeRemovePlayer(w *protocol.MessageWriter, code protocol.GameCode, id, hostID int32, reason byte) {
	w.StartMessage(byte(protocol.FlagRemovePlayer))
	w.WriteInt32(int32(code))
	w.WriteInt32(id)
	w.WriteInt32(hostID)
	_ = w.WriteByte(reason)
	_ = w.EndMessage()
}

// writeProfile writes the player data other clients render in the lobby.
func writeProfile(w *protocol.MessageWriter, c *client.Client) {
	w.WriteString(c.Name)
	w.StartMessage(byte(c.Platform.Platform))
	w.WriteString(c.Platform.Name)
	if c.Platform.Platform.HasAccountID() {
		w.WriteUint64(c.Platform.AccountID)
	}
	_ = w.EndMessage()
	w.WritePacked(0)  // level
	w.WriteString("") // product user id
	w.WriteString(c.FriendCode)
}
