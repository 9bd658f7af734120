package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/version"
)

// ErrDisconnected is returned when sending to a session that was removed.
var ErrDisconnected = errors.New("client disconnected")

// RejectError is returned by Register after the connection was closed.
type RejectError struct {
	Reason  protocol.DisconnectReason
	Message string
	Cause   string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("client rejected (%s): %s", e.Reason, e.Cause)
}

// Compatibility gates admission by game version.
type Compatibility interface {
	CanConnectToServer(v version.GameVersion) compat.Result
	VersionLabel(v version.GameVersion) string
	SupportedRange() string
}

// BanChecker answers whether a friend code or address is banned.
type BanChecker interface {
	IsBanned(ctx context.Context, friendCode, address string) (bool, error)
}

// Options tune admission.
type Options struct {
	AllowFutureGameVersions bool
	// MaxConnections caps registered clients; zero means unlimited.
	MaxConnections int
}

// Registry owns all registered clients.
type Registry struct {
	mu      sync.RWMutex
	clients map[int32]*Client
	lastID  atomic.Int32

	compat Compatibility
	events events.Emitter
	logger zerolog.Logger

	optsMu sync.RWMutex
	opts   Options
	bans   BanChecker
}

// NewRegistry creates an empty registry.
func NewRegistry(c Compatibility, bus events.Emitter, opts Options, logger zerolog.Logger) *Registry {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Registry{
		clients: make(map[int32]*Client),
		compat:  c,
		events:  bus,
		opts:    opts,
		logger:  logger,
	}
}

// SetOptions replaces the admission options.
func (r *Registry) SetOptions(opts Options) {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	r.opts = opts
}

// SetBanChecker installs the ban lookup consulted on registration.
func (r *Registry) SetBanChecker(b BanChecker) {
	r.optsMu.Lock()
	defer r.optsMu.Unlock()
	r.bans = b
}

func (r *Registry) settings() (Options, BanChecker) {
	r.optsMu.RLock()
	defer r.optsMu.RUnlock()
	return r.opts, r.bans
}

// NextID issues a fresh positive client id. After the int32 space is
// exhausted the sequence restarts at 1.
func (r *Registry) NextID() int32 {
	for {
		id := r.lastID.Add(1)
		if id >= 1 {
			return id
		}
		// Overflowed: only one caller gets to reset.
		r.lastID.CompareAndSwap(id, 0)
	}
}

// Register admits a client that completed the handshake. When the client is
// refused, its connection is closed with a localized reason and a
// *RejectError is returned.
func (r *Registry) Register(ctx context.Context, conn Conn, h *protocol.Handshake, modded *mods.Handshake) (*Client, error) {
	opts, bans := r.settings()
	logger := r.logger.With().
		Str("name", h.Name).
		Str("version", h.Version.String()).
		Str("remote", addrString(conn)).
		Logger()

	result := r.compat.CanConnectToServer(h.Version)
	switch {
	case result == compat.ServerTooOld && opts.AllowFutureGameVersions && h.Platform != nil:
		logger.Warn().
			Int32("raw_version", int32(h.Version)).
			Msg("client connected using a future version, continuing unsupported")
	case result != compat.Compatible || h.Platform == nil:
		logger.Info().
			Int32("raw_version", int32(h.Version)).
			Str("result", result.String()).
			Bool("platform", h.Platform != nil).
			Msg("client connected using unsupported version")

		key := MsgVersionUnsupported
		switch result {
		case compat.ClientTooOld:
			key = MsgVersionClientTooOld
		case compat.ServerTooOld:
			key = MsgVersionServerTooOld
		}
		msg := Message(h.Language, key, r.compat.VersionLabel(h.Version), r.compat.SupportedRange())
		return nil, r.reject(ctx, conn, h, protocol.ReasonCustom, msg, "version "+result.String())
	}

	if strings.TrimSpace(h.Name) == "" {
		return nil, r.reject(ctx, conn, h, protocol.ReasonCustom,
			Message(h.Language, MsgUsernameIllegalCharacters), "blank name")
	}

	if bans != nil {
		banned, err := bans.IsBanned(ctx, h.FriendCode, hostOnly(addrString(conn)))
		if err != nil {
			logger.Error().Err(err).Msg("ban lookup failed, admitting client")
		} else if banned {
			return nil, r.reject(ctx, conn, h, protocol.ReasonBanned, Message(h.Language, MsgBanned), "banned")
		}
	}

	c := &Client{
		Conn:        conn,
		Name:        h.Name,
		Version:     h.Version,
		Language:    h.Language,
		ChatMode:    h.ChatMode,
		Platform:    *h.Platform,
		FriendCode:  h.FriendCode,
		ConnectedAt: time.Now(),
	}
	if modded != nil {
		c.Mods = append([]mods.Mod(nil), modded.Mods...)
	}

	// The capacity check and the insert share one critical section so
	// concurrent handshakes cannot overshoot MaxConnections.
	r.mu.Lock()
	if opts.MaxConnections > 0 && len(r.clients) >= opts.MaxConnections {
		r.mu.Unlock()
		return nil, r.reject(ctx, conn, h, protocol.ReasonServerFull, Message(h.Language, MsgServerFull), "server full")
	}
	c.ID = r.NextID()
	c.connected.Store(true)
	r.clients[c.ID] = c
	r.mu.Unlock()

	logger.Debug().Int32("client_id", c.ID).Msg("client connected")
	r.events.Emit(ctx, events.Event{
		Type:   events.EventClientConnected,
		Source: "client",
		Payload: events.ClientPayload{
			ClientID:   c.ID,
			Name:       c.Name,
			Version:    r.compat.VersionLabel(c.Version),
			Platform:   c.Platform.Platform.String(),
			FriendCode: c.FriendCode,
			Address:    c.Address(),
			Modded:     modded != nil,
		},
	})
	return c, nil
}

func (r *Registry) reject(ctx context.Context, conn Conn, h *protocol.Handshake, reason protocol.DisconnectReason, msg, cause string) error {
	if err := conn.Disconnect(reason, msg); err != nil {
		r.logger.Debug().Err(err).Msg("failed to send disconnect to rejected client")
	}
	r.events.Emit(ctx, events.Event{
		Type:   events.EventClientRejected,
		Source: "client",
		Payload: events.ClientRejectedPayload{
			Name:    h.Name,
			Version: h.Version.String(),
			Address: addrString(conn),
			Reason:  cause,
		},
	})
	return &RejectError{Reason: reason, Message: msg, Cause: cause}
}

// Remove unregisters c. It reports false when c was already gone, so
// concurrent removals of the same client have exactly one winner.
func (r *Registry) Remove(ctx context.Context, c *Client) bool {
	c.connected.Store(false)

	r.mu.Lock()
	current, ok := r.clients[c.ID]
	if ok && current == c {
		delete(r.clients, c.ID)
	}
	r.mu.Unlock()

	if !ok || current != c {
		return false
	}

	r.logger.Debug().Int32("client_id", c.ID).Msg("client disconnected")
	r.events.Emit(ctx, events.Event{
		Type:   events.EventClientDisconnected,
		Source: "client",
		Payload: events.ClientPayload{
			ClientID: c.ID,
			Name:     c.Name,
			Version:  r.compat.VersionLabel(c.Version),
			Platform: c.Platform.Platform.String(),
			Address:  c.Address(),
			Modded:   c.IsMod(),
		},
	})
	return true
}

// Validate reports whether c is still the registered session for its id.
func (r *Registry) Validate(c *Client) bool {
	if c == nil || c.ID == 0 {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[c.ID] == c
}

// Get returns the client with the given id.
func (r *Registry) Get(id int32) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// All returns the registered clients ordered by id.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	list := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		list = append(list, c)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// seedID positions the id sequence, for tests of the overflow path.
func (r *Registry) seedID(v int32) {
	r.lastID.Store(v)
}

func addrString(conn Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

func hostOnly(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
