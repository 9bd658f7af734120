package rpc

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/protocol"
)

// AmongUsMenuRule removes the first AmongUsMenu call each client sends in a
// game. Mod clients are announced to the lobby but kept.
type AmongUsMenuRule struct {
	logger zerolog.Logger

	mu   sync.Mutex
	seen map[protocol.GameCode]map[int32]struct{}
}

// NewAmongUsMenuRule creates the rule.
func NewAmongUsMenuRule(logger zerolog.Logger) *AmongUsMenuRule {
	return &AmongUsMenuRule{
		logger: logger,
		seen:   make(map[protocol.GameCode]map[int32]struct{}),
	}
}

// Name implements Rule.
func (r *AmongUsMenuRule) Name() string {
	return "among_us_menu"
}

// Check implements Rule.
func (r *AmongUsMenuRule) Check(_ context.Context, sender *client.Client, _ Entity, call Call) (Decision, bool) {
	if call != AmongUsMenu {
		return Decision{}, false
	}
	code, ok := sender.Game()
	if !ok || !r.firstSighting(code, sender.ID) {
		return Decision{}, false
	}

	r.logger.Warn().
		Str("game", code.String()).
		Int32("client_id", sender.ID).
		Str("name", sender.Name).
		Msg("AmongUsMenu call observed")

	notice := client.AmongUsMenuNotice(sender.Name)
	if sender.IsMod() {
		return Decision{Verdict: Accept, Notice: notice, Cause: "AmongUsMenu call from mod client"}, true
	}
	d := Disconnected(protocol.ReasonCustom, sender.Message(client.MsgAmongUsMenu), "AmongUsMenu call")
	d.Notice = notice
	return d, true
}

func (r *AmongUsMenuRule) firstSighting(code protocol.GameCode, id int32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	clients, ok := r.seen[code]
	if !ok {
		clients = make(map[int32]struct{})
		r.seen[code] = clients
	}
	if _, dup := clients[id]; dup {
		return false
	}
	clients[id] = struct{}{}
	return true
}

// Forget drops what the rule remembers about a destroyed game.
func (r *AmongUsMenuRule) Forget(code protocol.GameCode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, code)
}
