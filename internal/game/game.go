// Package game holds lobby and match sessions: who is in a game, who hosts
// it, and the networked objects the host has spawned.
package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
	"github.com/airlock-project/airlock/internal/version"
)

// JoinChecker decides whether two game versions may share a lobby.
type JoinChecker interface {
	CanJoinGame(hostVersion, clientVersion version.GameVersion) (bool, compat.JoinError)
	VersionLabel(v version.GameVersion) string
}

// Authorizer is the RPC gate.
type Authorizer interface {
	Authorize(ctx context.Context, sender *client.Client, target rpc.Entity, call rpc.Call) rpc.Decision
	Escalate(ctx context.Context, sender *client.Client, call rpc.Call, cause string) rpc.Decision
}

// Deps are shared by every game of a manager.
type Deps struct {
	Compat     JoinChecker
	Geometry   geometry.Provider
	Gate       Authorizer
	Events     events.Emitter
	Logger     zerolog.Logger
	MaxPlayers int
}

// JoinError is returned when a client may not enter a game.
type JoinError struct {
	Reason protocol.DisconnectReason
	// Message is set for ReasonCustom.
	Message string
}

func (e *JoinError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("join refused (%s): %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("join refused (%s)", e.Reason)
}

// Player is a client seated in a game.
type Player struct {
	Client   *client.Client
	JoinedAt time.Time

	role    RoleType
	hasRole bool
	control *Object
}

// Game is one lobby and the match played in it.
type Game struct {
	code      protocol.GameCode
	deps      Deps
	logger    zerolog.Logger
	createdAt time.Time

	mu         sync.RWMutex
	options    []byte
	hostID     int32
	players    map[int32]*Player
	order      []int32
	objects    map[uint32]*Object
	mapID      geometry.MapID
	mapKnown   bool
	state      events.GameState
	public     bool
	emptySince time.Time
}

func newGame(code protocol.GameCode, options []byte, deps Deps) *Game {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	now := time.Now()
	return &Game{
		code:       code,
		deps:       deps,
		logger:     deps.Logger.With().Str("game", code.String()).Logger(),
		createdAt:  now,
		options:    options,
		hostID:     -1,
		players:    make(map[int32]*Player),
		objects:    make(map[uint32]*Object),
		state:      events.GameStateNotStarted,
		emptySince: now,
	}
}

// Code implements transform.Game.
func (g *Game) Code() protocol.GameCode {
	return g.code
}

// Map implements transform.Game. The map is known once the host spawned
// the ship.
func (g *Game) Map() (geometry.MapID, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mapID, g.mapKnown
}

// State returns the lifecycle phase.
func (g *Game) State() events.GameState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// SetState moves the game to state and announces the change.
func (g *Game) SetState(ctx context.Context, state events.GameState) {
	g.mu.Lock()
	old := g.state
	g.state = state
	if state == events.GameStateNotStarted {
		g.resetMatch()
	}
	payload := g.payloadLocked()
	g.mu.Unlock()

	if old == state {
		return
	}
	g.logger.Info().Str("from", old.String()).Str("to", state.String()).Msg("game state changed")

	var typ events.EventType
	switch state {
	case events.GameStateStarted:
		typ = events.EventGameStarted
	case events.GameStateEnded:
		typ = events.EventGameEnded
	default:
		return
	}
	g.deps.Events.Emit(ctx, events.Event{Type: typ, Source: "game", Payload: payload})
}

// resetMatch forgets everything spawned during a match. Callers hold g.mu.
func (g *Game) resetMatch() {
	g.objects = make(map[uint32]*Object)
	g.mapKnown = false
	for _, p := range g.players {
		p.role, p.hasRole, p.control = 0, false, nil
	}
}

// Public reports whether the lobby is listed.
func (g *Game) Public() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.public
}

// SetPublic changes the lobby privacy.
func (g *Game) SetPublic(public bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.public = public
}

// Options returns the serialized game options sent with HostGame.
func (g *Game) Options() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.options
}

// HostID returns the client id of the host, or -1 before anyone joined.
func (g *Game) HostID() int32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hostID
}

// Host returns the hosting client.
func (g *Game) Host() (*client.Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.players[g.hostID]
	if !ok {
		return nil, false
	}
	return p.Client, true
}

// Players returns the seated clients in join order.
func (g *Game) Players() []*client.Client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*client.Client, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.players[id].Client)
	}
	return out
}

// PlayerCount returns the number of seated clients.
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.players)
}

// Has reports whether the client is seated in the game.
func (g *Game) Has(clientID int32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.players[clientID]
	return ok
}

// EmptyFor returns how long the game has had no players, or zero.
func (g *Game) EmptyFor(now time.Time) time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.players) > 0 {
		return 0
	}
	return now.Sub(g.emptySince)
}

// Join seats c. The first client to join becomes the host. Later clients
// must run a version compatible with the host's and agree on required mods.
func (g *Game) Join(ctx context.Context, c *client.Client) (*Player, error) {
	g.mu.Lock()
	if p, ok := g.players[c.ID]; ok {
		g.mu.Unlock()
		return p, nil
	}
	if err := g.admitLocked(c); err != nil {
		g.mu.Unlock()
		g.logger.Info().Int32("client_id", c.ID).Err(err).Msg("join refused")
		return nil, err
	}

	p := &Player{Client: c, JoinedAt: time.Now()}
	g.players[c.ID] = p
	g.order = append(g.order, c.ID)
	prevHost, isHost := g.hostID, false
	if _, ok := g.players[g.hostID]; !ok {
		g.hostID = c.ID
		isHost = true
	}
	c.SetGame(g.code, isHost)

	// The session may have been torn down while this join was in flight.
	// The disconnect path clears the liveness flag before it reads the
	// client's game, so either it sees this seat or this check sees it.
	if !c.Connected() {
		delete(g.players, c.ID)
		g.order = g.order[:len(g.order)-1]
		g.hostID = prevHost
		c.LeaveGame()
		g.mu.Unlock()
		return nil, &JoinError{Reason: protocol.ReasonExitGame}
	}
	g.mu.Unlock()

	g.logger.Info().
		Int32("client_id", c.ID).
		Str("name", c.Name).
		Bool("host", isHost).
		Msg("player joined")
	g.deps.Events.Emit(ctx, events.Event{
		Type:   events.EventPlayerJoined,
		Source: "game",
		Payload: events.PlayerPayload{
			Code:     g.code.String(),
			ClientID: c.ID,
			Name:     c.Name,
			IsHost:   isHost,
		},
	})
	return p, nil
}

// admitLocked checks whether c may join. Callers hold g.mu.
func (g *Game) admitLocked(c *client.Client) error {
	if !c.Connected() {
		return &JoinError{Reason: protocol.ReasonExitGame}
	}
	switch g.state {
	case events.GameStateDestroyed:
		return &JoinError{Reason: protocol.ReasonCustom, Message: c.Message(client.MsgDestroyed)}
	case events.GameStateStarting, events.GameStateStarted:
		return &JoinError{Reason: protocol.ReasonGameStarted}
	}
	if g.deps.MaxPlayers > 0 && len(g.players) >= g.deps.MaxPlayers {
		return &JoinError{Reason: protocol.ReasonGameFull}
	}

	host, ok := g.players[g.hostID]
	if !ok {
		return nil
	}
	hv, cv := host.Client.Version, c.Version
	if g.deps.Compat != nil {
		if ok, jerr := g.deps.Compat.CanJoinGame(hv, cv); !ok {
			hostLabel, clientLabel := g.deps.Compat.VersionLabel(hv), g.deps.Compat.VersionLabel(cv)
			switch jerr {
			case compat.ClientOutdated:
				return &JoinError{Reason: protocol.ReasonCustom, Message: c.Message(client.MsgClientOutdated, hostLabel, clientLabel)}
			case compat.ClientTooNew:
				return &JoinError{Reason: protocol.ReasonCustom, Message: c.Message(client.MsgClientTooNew, hostLabel, clientLabel)}
			default:
				return &JoinError{Reason: protocol.ReasonIncorrectVersion}
			}
		}
	}
	if ok, reason := mods.Validate(c.Mods, host.Client.Mods); !ok {
		return &JoinError{Reason: protocol.ReasonCustom, Message: reason}
	}
	return nil
}

// Leave removes a client. newHost is the client that inherited the lobby,
// or -1; empty reports whether nobody is left.
func (g *Game) Leave(ctx context.Context, clientID int32) (newHost int32, empty bool, ok bool) {
	g.mu.Lock()
	p, ok := g.players[clientID]
	if !ok {
		g.mu.Unlock()
		return -1, len(g.players) == 0, false
	}
	delete(g.players, clientID)
	for i, id := range g.order {
		if id == clientID {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	for netID, obj := range g.objects {
		if obj.owner == clientID {
			delete(g.objects, netID)
		}
	}

	newHost = -1
	if g.hostID == clientID {
		g.hostID = -1
		if len(g.order) > 0 {
			g.hostID = g.order[0]
			newHost = g.hostID
			g.players[newHost].Client.SetHost(true)
		}
	}
	empty = len(g.players) == 0
	if empty {
		g.emptySince = time.Now()
	}
	g.mu.Unlock()

	p.Client.LeaveGame()
	g.logger.Info().Int32("client_id", clientID).Int32("new_host", newHost).Msg("player left")
	g.deps.Events.Emit(ctx, events.Event{
		Type:   events.EventPlayerLeft,
		Source: "game",
		Payload: events.PlayerPayload{
			Code:     g.code.String(),
			ClientID: clientID,
			Name:     p.Client.Name,
		},
	})
	return newHost, empty, true
}

// MayVent implements transform.VentPolicy: only players whose role can
// vent may do so, and only during a match.
func (g *Game) MayVent(sender *client.Client) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state != events.GameStateStarted {
		return false
	}
	p, ok := g.players[sender.ID]
	return ok && p.hasRole && p.role.CanVent()
}

// Role returns the role a player was assigned.
func (g *Game) Role(clientID int32) (RoleType, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.players[clientID]
	if !ok || !p.hasRole {
		return 0, false
	}
	return p.role, true
}

// Object returns a spawned object.
func (g *Game) Object(netID uint32) (*Object, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.objects[netID]
	return o, ok
}

// ObjectCount returns the number of spawned objects.
func (g *Game) ObjectCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}

// Broadcast sends the packet in w to every player except the one with id
// except. Send failures are logged; the network layer tears down dead peers.
func (g *Game) Broadcast(w *protocol.MessageWriter, except int32) {
	for _, c := range g.Players() {
		if c.ID == except {
			continue
		}
		if err := c.Send(w); err != nil {
			g.logger.Debug().Err(err).Int32("client_id", c.ID).Msg("broadcast send failed")
		}
	}
}

// SendTo sends the packet in w to one player.
func (g *Game) SendTo(w *protocol.MessageWriter, clientID int32) error {
	g.mu.RLock()
	p, ok := g.players[clientID]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client %d is not in game %s", clientID, g.code)
	}
	return p.Client.Send(w)
}

// ErrNoTransform is returned by Teleport when the player has no network
// transform spawned.
var ErrNoTransform = errors.New("player has no network transform")

// Teleport moves the player's network transform to pos and broadcasts the
// move as a transform delta to every player, the owner included.
func (g *Game) Teleport(ctx context.Context, clientID int32, pos protocol.Vector2) error {
	g.mu.RLock()
	var nt *Object
	if _, seated := g.players[clientID]; seated {
		for _, o := range g.objects {
			if o.owner == clientID && o.Transform != nil {
				nt = o
				break
			}
		}
	}
	g.mu.RUnlock()
	if nt == nil {
		return fmt.Errorf("client %d in game %s: %w", clientID, g.code, ErrNoTransform)
	}

	nt.Transform.Enqueue(pos)

	w := protocol.GetWriter(protocol.PacketReliable)
	defer w.Release()
	w.StartMessage(byte(protocol.FlagGameData))
	w.WriteInt32(int32(g.code))
	w.StartMessage(byte(protocol.GameDataData))
	w.WritePacked(nt.netID)
	if _, err := nt.Transform.Serialize(w, false); err != nil {
		return err
	}
	if err := w.EndMessage(); err != nil {
		return err
	}
	if err := w.EndMessage(); err != nil {
		return err
	}
	g.Broadcast(w, -1)

	g.logger.Info().
		Int32("client_id", clientID).
		Uint32("net_id", nt.netID).
		Float32("x", pos.X).
		Float32("y", pos.Y).
		Msg("player teleported")
	g.deps.Events.Emit(ctx, events.Event{
		Type:   events.EventPlayerMovement,
		Source: "game",
		Payload: events.MovementPayload{
			Code:     g.code.String(),
			ClientID: clientID,
			NetID:    nt.netID,
			X:        pos.X,
			Y:        pos.Y,
			Snap:     true,
		},
	})
	return nil
}

// Announce makes the host's player say text in chat to everyone. It is a
// no-op before the host's player object exists.
func (g *Game) Announce(text string) error {
	g.mu.RLock()
	host, ok := g.players[g.hostID]
	var control *Object
	if ok {
		control = host.control
	}
	g.mu.RUnlock()
	if control == nil {
		return nil
	}

	w := protocol.GetWriter(protocol.PacketReliable)
	defer w.Release()
	w.StartMessage(byte(protocol.FlagGameData))
	w.WriteInt32(int32(g.code))
	w.StartMessage(byte(protocol.GameDataRpc))
	w.WritePacked(control.netID)
	_ = w.WriteByte(byte(rpc.SendChat))
	w.WriteString(text)
	if err := w.EndMessage(); err != nil {
		return err
	}
	if err := w.EndMessage(); err != nil {
		return err
	}
	g.Broadcast(w, -1)
	return nil
}

// Info is a read-only view of a game.
type Info struct {
	Code      string           `json:"code"`
	HostID    int32            `json:"host_id"`
	Players   []int32          `json:"players"`
	Map       string           `json:"map,omitempty"`
	State     events.GameState `json:"state"`
	Public    bool             `json:"public"`
	Objects   int              `json:"objects"`
	CreatedAt time.Time        `json:"created_at"`
}

// Info snapshots the game.
func (g *Game) Info() Info {
	g.mu.RLock()
	defer g.mu.RUnlock()
	info := Info{
		Code:      g.code.String(),
		HostID:    g.hostID,
		Players:   append([]int32(nil), g.order...),
		State:     g.state,
		Public:    g.public,
		Objects:   len(g.objects),
		CreatedAt: g.createdAt,
	}
	sort.Slice(info.Players, func(i, j int) bool { return info.Players[i] < info.Players[j] })
	if g.mapKnown {
		info.Map = g.mapID.String()
	}
	return info
}

func (g *Game) payloadLocked() events.GamePayload {
	return events.GamePayload{
		Code:    g.code.String(),
		HostID:  g.hostID,
		Players: len(g.players),
		MapID:   byte(g.mapID),
		State:   g.state,
	}
}
