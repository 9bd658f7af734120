// Package client tracks connected game clients. The Registry is the single
// owner of every session record; a record is only current while the registry
// still maps its id to the very same pointer.
package client

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/version"
)

// Conn is the transport handle of one client.
type Conn interface {
	RemoteAddr() net.Addr
	// Send queues the finished packet in w. The writer may be reused once Send returns.
	Send(w *protocol.MessageWriter) error
	// Disconnect sends a disconnect packet and closes the connection.
	Disconnect(reason protocol.DisconnectReason, message string) error
}

// Client is one registered session.
type Client struct {
	ID         int32
	Conn       Conn
	Name       string
	Version    version.GameVersion
	Language   protocol.Language
	ChatMode   protocol.QuickChatMode
	Platform   protocol.PlatformData
	FriendCode string
	// Mods is captured at handshake and never modified afterwards.
	Mods []mods.Mod

	ConnectedAt time.Time

	isMod     atomic.Bool
	connected atomic.Bool
	suspicion atomic.Int32

	mu     sync.Mutex
	game   protocol.GameCode
	inGame bool
	isHost bool
}

// Connected reports whether the session is still live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// IsMod reports whether the client completed a mod handshake.
func (c *Client) IsMod() bool {
	return c.isMod.Load()
}

// SetMod marks the client as running a mod loader.
func (c *Client) SetMod(v bool) {
	c.isMod.Store(v)
}

// Suspicion returns the number of cheat reports filed against the client.
func (c *Client) Suspicion() int {
	return int(c.suspicion.Load())
}

// AddSuspicion records one more cheat report and returns the new total.
func (c *Client) AddSuspicion() int {
	return int(c.suspicion.Add(1))
}

// SetGame records the game the client currently plays in.
func (c *Client) SetGame(code protocol.GameCode, host bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.game, c.inGame, c.isHost = code, true, host
}

// SetHost updates the host flag for the current game.
func (c *Client) SetHost(host bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isHost = host
}

// LeaveGame clears the game back-reference.
func (c *Client) LeaveGame() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.game, c.inGame, c.isHost = 0, false, false
}

// Game returns the code of the client's current game.
func (c *Client) Game() (protocol.GameCode, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.game, c.inGame
}

// IsHost reports whether the client hosts its current game.
func (c *Client) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inGame && c.isHost
}

// Address returns the remote address as a string.
func (c *Client) Address() string {
	if c.Conn == nil || c.Conn.RemoteAddr() == nil {
		return ""
	}
	return c.Conn.RemoteAddr().String()
}

// Send forwards a finished packet unless the session is gone.
func (c *Client) Send(w *protocol.MessageWriter) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	return c.Conn.Send(w)
}

// Disconnect closes the connection with a localized reason. The registry
// entry is removed by the transport's close callback.
func (c *Client) Disconnect(reason protocol.DisconnectReason, message string) error {
	return c.Conn.Disconnect(reason, message)
}

// Message renders key in the client's language.
func (c *Client) Message(key MessageKey, args ...any) string {
	return Message(c.Language, key, args...)
}

// Info is a read-only view of a client for the API and CLI.
type Info struct {
	ID         int32     `json:"id"`
	Name       string    `json:"name"`
	Version    string    `json:"version"`
	Platform   string    `json:"platform"`
	FriendCode string    `json:"friend_code,omitempty"`
	Address    string    `json:"address"`
	Game       string    `json:"game,omitempty"`
	IsHost     bool      `json:"is_host"`
	Modded     bool      `json:"modded"`
	Mods       int       `json:"mods"`
	Suspicion  int       `json:"suspicion"`
	Connected  time.Time `json:"connected_at"`
}

// Info snapshots the client.
func (c *Client) Info() Info {
	info := Info{
		ID:         c.ID,
		Name:       c.Name,
		Version:    version.Label(c.Version),
		Platform:   c.Platform.Platform.String(),
		FriendCode: c.FriendCode,
		Address:    c.Address(),
		IsHost:     c.IsHost(),
		Modded:     c.IsMod(),
		Mods:       len(c.Mods),
		Suspicion:  c.Suspicion(),
		Connected:  c.ConnectedAt,
	}
	if code, ok := c.Game(); ok {
		info.Game = code.String()
	}
	return info
}
