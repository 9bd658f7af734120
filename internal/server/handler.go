// Package server dispatches the root messages of registered clients: it
// seats them in games, relays the game data the authority accepted and
// carries out the decisions of the authorization gate.
package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
)

var (
	// ErrClientNotFound is returned when an operation names an unknown client.
	ErrClientNotFound = errors.New("client not found")
	// ErrNotInGame is returned when an operation needs a seated client.
	ErrNotInGame = errors.New("client is not in a game")
)

// Recorder receives authorization counters.
type Recorder interface {
	CallRejected(call, verdict string)
}

type nopRecorder struct{}

func (nopRecorder) CallRejected(string, string) {}

// Options describe the server to modded clients.
type Options struct {
	ServerName    string
	ServerVersion string
}

// Deps wires a Handler.
type Deps struct {
	Registry *client.Registry
	Games    *game.Manager
	// Menu is forgotten per game once the game is destroyed. Optional.
	Menu    *rpc.AmongUsMenuRule
	Metrics Recorder
	Events  events.Emitter
	Logger  zerolog.Logger
}

// Handler serves every registered client.
type Handler struct {
	registry *client.Registry
	games    *game.Manager
	menu     *rpc.AmongUsMenuRule
	metrics  Recorder
	bus      events.Emitter
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates a handler.
func NewHandler(deps Deps, opts Options) *Handler {
	h := &Handler{
		registry: deps.Registry,
		games:    deps.Games,
		menu:     deps.Menu,
		metrics:  deps.Metrics,
		bus:      deps.Events,
		opts:     opts,
		logger:   deps.Logger,
	}
	if h.metrics == nil {
		h.metrics = nopRecorder{}
	}
	if h.bus == nil {
		h.bus = events.Nop{}
	}
	return h
}

// SubscribeEvents registers the handler's bus handlers.
func (h *Handler) SubscribeEvents(bus *events.EventBus) {
	if h.menu == nil {
		return
	}
	bus.Subscribe(events.EventGameDestroyed, "server.forgetMenu", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.GamePayload)
		if !ok {
			return nil
		}
		code, err := protocol.ParseGameCode(p.Code)
		if err != nil {
			return err
		}
		h.menu.Forget(code)
		return nil
	})
}

// Connect registers a client that sent its handshake. Modded clients get
// the server's reactor handshake in reply.
func (h *Handler) Connect(ctx context.Context, conn client.Conn, hs *protocol.Handshake) (*client.Client, error) {
	modded, ok, err := mods.Decode(hs.Extra)
	if err != nil {
		h.logger.Debug().Err(err).Str("name", hs.Name).Msg("malformed mod handshake, treating client as vanilla")
	}
	if err != nil || !ok {
		modded = nil
	}

	c, err := h.registry.Register(ctx, conn, hs, modded)
	if err != nil {
		return nil, err
	}
	if modded == nil {
		return c, nil
	}

	c.SetMod(true)
	w := protocol.GetWriter(protocol.PacketReliable)
	defer w.Release()
	if err := mods.WriteServerHandshake(w, h.opts.ServerName, h.opts.ServerVersion, len(modded.Mods)); err != nil {
		return c, err
	}
	if err := c.Send(w); err != nil {
		h.logger.Debug().Err(err).Int32("client_id", c.ID).Msg("failed to send reactor handshake")
	}
	return c, nil
}

// Disconnected unregisters c and unseats it. It is safe to call more than once.
func (h *Handler) Disconnected(ctx context.Context, c *client.Client) {
	// Remove first so a join still in flight sees the session as gone.
	h.registry.Remove(ctx, c)
	h.removeFromGame(ctx, c, byte(protocol.ReasonExitGame))
}

// HandleMessage dispatches one root message. pt is the packet type it
// arrived in and is kept for relays. A returned error is fatal to the
// connection.
func (h *Handler) HandleMessage(ctx context.Context, c *client.Client, pt protocol.PacketType, msg *protocol.MessageReader) error {
	if !h.registry.Validate(c) {
		return nil
	}

	flag := protocol.MessageFlag(msg.Tag())
	var err error
	switch flag {
	case protocol.FlagHostGame:
		err = h.handleHostGame(ctx, c, msg)
	case protocol.FlagJoinGame:
		err = h.handleJoinGame(ctx, c, msg)
	case protocol.FlagStartGame:
		err = h.handleStartGame(ctx, c, msg)
	case protocol.FlagEndGame:
		err = h.handleEndGame(ctx, c, msg)
	case protocol.FlagRemovePlayer:
		err = h.handleRemovePlayer(ctx, c, msg)
	case protocol.FlagGameData:
		err = h.handleGameData(ctx, c, pt, msg, false)
	case protocol.FlagGameDataTo:
		err = h.handleGameData(ctx, c, pt, msg, true)
	case protocol.FlagAlterGame:
		err = h.handleAlterGame(ctx, c, msg)
	case protocol.FlagKickPlayer:
		err = h.handleKickPlayer(ctx, c, msg)
	default:
		h.logger.Debug().
			Int32("client_id", c.ID).
			Uint8("flag", uint8(flag)).
			Msg("ignoring unsupported root message")
	}
	if err != nil {
		return fmt.Errorf("root message %d: %w", flag, err)
	}
	return nil
}

// Kick disconnects a client on behalf of an operator.
func (h *Handler) Kick(ctx context.Context, id int32, by string) error {
	c, ok := h.registry.Get(id)
	if !ok {
		return ErrClientNotFound
	}
	h.logger.Info().Int32("client_id", id).Str("by", by).Msg("kicking client")
	h.bus.Emit(ctx, events.Event{
		Type:    events.EventClientKicked,
		Source:  "server",
		Payload: events.KickPayload{ClientID: id, Reason: "kicked", By: by},
	})
	return c.Disconnect(protocol.ReasonKicked, "")
}

// Teleport moves the player of client id to pos on behalf of an operator.
func (h *Handler) Teleport(ctx context.Context, id int32, pos protocol.Vector2, by string) error {
	c, ok := h.registry.Get(id)
	if !ok {
		return ErrClientNotFound
	}
	code, inGame := c.Game()
	if !inGame {
		return ErrNotInGame
	}
	g, ok := h.games.Find(code)
	if !ok {
		return ErrNotInGame
	}
	h.logger.Info().Int32("client_id", id).Str("game", code.String()).Str("by", by).Msg("teleporting client")
	return g.Teleport(ctx, id, pos)
}

// gameOf returns the game c plays in when it is the one with code.
func (h *Handler) gameOf(c *client.Client, code int32) (*game.Game, bool) {
	current, ok := c.Game()
	if !ok || current != protocol.GameCode(code) {
		return nil, false
	}
	return h.games.Find(current)
}

// removeFromGame unseats c and tells the remaining players.
func (h *Handler) removeFromGame(ctx context.Context, c *client.Client, reason byte) {
	g, _, ok := h.games.Leave(ctx, c)
	if !ok || g.PlayerCount() == 0 {
		return
	}
	h.broadcast(g, -1, func(w *protocol.MessageWriter) {
		writeRemovePlayer(w, g.Code(), c.ID, g.HostID(), reason)
	})
}

// reply sends one reliable root message to c.
func (h *Handler) reply(c *client.Client, fill func(w *protocol.MessageWriter)) {
	w := protocol.GetWriter(protocol.PacketReliable)
	defer w.Release()
	fill(w)
	if err := c.Send(w); err != nil {
		h.logger.Debug().Err(err).Int32("client_id", c.ID).Msg("reply failed")
	}
}

// broadcast sends one reliable root message to the players of g.
func (h *Handler) broadcast(g *game.Game, except int32, fill func(w *protocol.MessageWriter)) {
	w := protocol.GetWriter(protocol.PacketReliable)
	defer w.Release()
	fill(w)
	g.Broadcast(w, except)
}

// execute carries out a gate decision for sender.
func (h *Handler) execute(g *game.Game, sender *client.Client, call string, d rpc.Decision) {
	if d.Notice != "" {
		if err := g.Announce(d.Notice); err != nil {
			h.logger.Warn().Err(err).Str("game", g.Code().String()).Msg("failed to announce notice")
		}
	}
	if d.Verdict == rpc.Accept {
		return
	}

	h.metrics.CallRejected(call, d.Verdict.String())
	h.logger.Debug().
		Int32("client_id", sender.ID).
		Str("game", g.Code().String()).
		Str("call", call).
		Str("verdict", d.Verdict.String()).
		Msg(d.Cause)

	if d.Verdict == rpc.Disconnect {
		if err := sender.Disconnect(d.Reason, d.Message); err != nil {
			h.logger.Debug().Err(err).Int32("client_id", sender.ID).Msg("failed to disconnect client")
		}
	}
}
