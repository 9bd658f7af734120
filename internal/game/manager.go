package game

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/protocol"
)

// ErrNoFreeCode is returned when no unused game code could be found.
var ErrNoFreeCode = errors.New("no free game code")

const codeAttempts = 64

// Manager owns every game on the server.
type Manager struct {
	mu    sync.RWMutex
	deps  Deps
	bus   events.Emitter
	games map[protocol.GameCode]*Game

	// codes are handed out before random ones, in file order.
	codes []protocol.GameCode
}

// NewManager creates an empty manager.
func NewManager(deps Deps) *Manager {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Manager{
		deps:  deps,
		bus:   deps.Events,
		games: make(map[protocol.GameCode]*Game),
	}
}

// SubscribeEvents registers the manager's bus handlers.
func (m *Manager) SubscribeEvents(bus *events.EventBus) {
	bus.Subscribe(events.EventShutdown, "game.shutdown", func(ctx context.Context, _ events.Event) error {
		n := m.DestroyAll(ctx)
		log.Info().Int("games", n).Msg("shutdown event received, games destroyed")
		return nil
	})
}

// LoadCodes reads reserved game codes, one per line. Blank lines and lines
// starting with # are skipped.
func (m *Manager) LoadCodes(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open game codes file: %w", err)
	}
	defer f.Close()

	var codes []protocol.GameCode
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		code, err := protocol.ParseGameCode(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		codes = append(codes, code)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read game codes file: %w", err)
	}

	m.mu.Lock()
	m.codes = codes
	m.mu.Unlock()

	log.Info().Int("count", len(codes)).Str("path", path).Msg("game codes loaded")
	return nil
}

// nextCode picks an unused code. Callers hold m.mu.
func (m *Manager) nextCode() (protocol.GameCode, error) {
	for _, code := range m.codes {
		if _, taken := m.games[code]; !taken {
			return code, nil
		}
	}
	for i := 0; i < codeAttempts; i++ {
		code := protocol.RandomGameCode()
		if _, taken := m.games[code]; !taken {
			return code, nil
		}
	}
	return 0, ErrNoFreeCode
}

// Create opens a lobby for host with the given serialized options. The host
// is seated by its following JoinGame. A host whose session is gone gets
// client.ErrDisconnected.
func (m *Manager) Create(ctx context.Context, host *client.Client, options []byte) (*Game, error) {
	if !host.Connected() {
		return nil, client.ErrDisconnected
	}
	m.mu.Lock()
	code, err := m.nextCode()
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	g := newGame(code, options, m.deps)
	m.games[code] = g
	m.mu.Unlock()

	log.Info().
		Str("game", code.String()).
		Int32("client_id", host.ID).
		Msg("game created")
	m.bus.Emit(ctx, events.Event{
		Type:    events.EventGameCreated,
		Source:  "game",
		Payload: g.Info().payload(),
	})
	return g, nil
}

// Find returns the game with the given code.
func (m *Manager) Find(code protocol.GameCode) (*Game, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[code]
	return g, ok
}

// Remove destroys a game. Players still seated are unseated without being
// disconnected.
func (m *Manager) Remove(ctx context.Context, code protocol.GameCode) bool {
	m.mu.Lock()
	g, ok := m.games[code]
	if ok {
		delete(m.games, code)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	g.mu.Lock()
	g.state = events.GameStateDestroyed
	players := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		players = append(players, p)
	}
	g.players = make(map[int32]*Player)
	g.order = nil
	payload := g.payloadLocked()
	g.mu.Unlock()

	for _, p := range players {
		p.Client.LeaveGame()
	}

	log.Info().Str("game", code.String()).Msg("game destroyed")
	m.bus.Emit(ctx, events.Event{
		Type:    events.EventGameDestroyed,
		Source:  "game",
		Payload: payload,
	})
	return true
}

// Leave unseats c from its game and destroys the game once it is empty.
func (m *Manager) Leave(ctx context.Context, c *client.Client) (g *Game, newHost int32, ok bool) {
	code, inGame := c.Game()
	if !inGame {
		return nil, -1, false
	}
	g, found := m.Find(code)
	if !found {
		c.LeaveGame()
		return nil, -1, false
	}
	newHost, empty, ok := g.Leave(ctx, c.ID)
	if empty {
		m.Remove(ctx, code)
	}
	return g, newHost, ok
}

// All returns every game ordered by creation time.
func (m *Manager) All() []*Game {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Game, 0, len(m.games))
	for _, g := range m.games {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// Infos snapshots every game for the API.
func (m *Manager) Infos() []Info {
	games := m.All()
	out := make([]Info, 0, len(games))
	for _, g := range games {
		out = append(out, g.Info())
	}
	return out
}

// Count returns the number of games.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.games)
}

// SweepEmpty destroys games that have had no players for longer than
// timeout and returns how many went.
func (m *Manager) SweepEmpty(ctx context.Context, timeout time.Duration) int {
	now := time.Now()
	var stale []protocol.GameCode
	for _, g := range m.All() {
		if g.PlayerCount() == 0 && g.EmptyFor(now) > timeout {
			stale = append(stale, g.code)
		}
	}
	removed := 0
	for _, code := range stale {
		if m.Remove(ctx, code) {
			removed++
		}
	}
	return removed
}

// DestroyAll removes every game.
func (m *Manager) DestroyAll(ctx context.Context) int {
	removed := 0
	for _, g := range m.All() {
		if m.Remove(ctx, g.code) {
			removed++
		}
	}
	return removed
}

func (i Info) payload() events.GamePayload {
	return events.GamePayload{
		Code:    i.Code,
		HostID:  i.HostID,
		Players: len(i.Players),
		State:   i.State,
	}
}
