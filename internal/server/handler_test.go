package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
	"github.com/airlock-project/airlock/internal/version"
)

type fakeConn struct {
	mu          sync.Mutex
	port        int
	packets     [][]byte
	disconnects []protocol.DisconnectReason
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(198, 51, 100, 7), Port: f.port}
}

func (f *fakeConn) Send(w *protocol.MessageWriter) error {
	b, err := w.Bytes()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packets = append(f.packets, append([]byte(nil), b...))
	return nil
}

func (f *fakeConn) Disconnect(reason protocol.DisconnectReason, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, reason)
	return nil
}

// roots returns the root messages of every packet sent so far.
func (f *fakeConn) roots(t *testing.T) []*protocol.MessageReader {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*protocol.MessageReader
	for _, b := range f.packets {
		p, err := protocol.ReadPacket(b)
		if err != nil {
			t.Fatalf("ReadPacket() error = %v", err)
		}
		for p.Body.Remaining() > 0 {
			msg, err := p.Body.ReadMessage()
			if err != nil {
				t.Fatalf("ReadMessage() error = %v", err)
			}
			out = append(out, msg)
		}
	}
	return out
}

// last returns the newest root message with the given flag.
func (f *fakeConn) last(t *testing.T, flag protocol.MessageFlag) *protocol.MessageReader {
	t.Helper()
	roots := f.roots(t)
	for i := len(roots) - 1; i >= 0; i-- {
		if protocol.MessageFlag(roots[i].Tag()) == flag {
			return roots[i]
		}
	}
	t.Fatalf("no root message %d among %d", flag, len(roots))
	return nil
}

func (f *fakeConn) count(flag protocol.MessageFlag) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.packets {
		p, err := protocol.ReadPacket(b)
		if err != nil {
			continue
		}
		for p.Body.Remaining() > 0 {
			msg, err := p.Body.ReadMessage()
			if err != nil {
				break
			}
			if protocol.MessageFlag(msg.Tag()) == flag {
				n++
			}
		}
	}
	return n
}

func (f *fakeConn) disconnected() []protocol.DisconnectReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.DisconnectReason(nil), f.disconnects...)
}

type fixture struct {
	handler  *Handler
	registry *client.Registry
	games    *game.Manager
	ports    int
}

type silentReporter struct{}

func (silentReporter) Report(context.Context, *client.Client, rpc.Call, string) bool { return false }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	resolver := compat.NewDefaultResolver(zerolog.Nop())
	registry := client.NewRegistry(resolver, nil, client.Options{}, zerolog.Nop())
	menu := rpc.NewAmongUsMenuRule(zerolog.Nop())
	games := game.NewManager(game.Deps{
		Compat:   resolver,
		Geometry: geometry.Default(),
		Gate:     rpc.NewGate(silentReporter{}, zerolog.Nop(), menu),
		Logger:   zerolog.Nop(),
	})
	h := NewHandler(Deps{
		Registry: registry,
		Games:    games,
		Menu:     menu,
		Logger:   zerolog.Nop(),
	}, Options{ServerName: "Airlock", ServerVersion: "1.0.0"})
	return &fixture{handler: h, registry: registry, games: games}
}

func (f *fixture) connect(t *testing.T, name string, extra []byte) (*client.Client, *fakeConn) {
	t.Helper()
	f.ports++
	conn := &fakeConn{port: 20000 + f.ports}
	c, err := f.handler.Connect(context.Background(), conn, &protocol.Handshake{
		Version:  version.New(2023, 1, 11),
		Name:     name,
		Platform: &protocol.PlatformData{Platform: protocol.PlatformSteamPC, Name: "Steam"},
		Extra:    extra,
	})
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", name, err)
	}
	return c, conn
}

func root(t *testing.T, flag protocol.MessageFlag, fill func(w *protocol.MessageWriter)) *protocol.MessageReader {
	t.Helper()
	w := protocol.NewBodyWriter()
	w.StartMessage(byte(flag))
	fill(w)
	if err := w.EndMessage(); err != nil {
		t.Fatal(err)
	}
	body, err := w.Body()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := protocol.NewMessageReader(0, body).ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func (f *fixture) send(t *testing.T, c *client.Client, flag protocol.MessageFlag, fill func(w *protocol.MessageWriter)) {
	t.Helper()
	if err := f.handler.HandleMessage(context.Background(), c, protocol.PacketReliable, root(t, flag, fill)); err != nil {
		t.Fatalf("HandleMessage(%d) error = %v", flag, err)
	}
}

// lobby opens a game hosted by host and seats guest in it.
func (f *fixture) lobby(t *testing.T, host *client.Client, hostConn *fakeConn, guest *client.Client) int32 {
	t.Helper()
	f.send(t, host, protocol.FlagHostGame, func(w *protocol.MessageWriter) { w.WriteBytes([]byte{1, 2, 3}) })
	code, err := hostConn.last(t, protocol.FlagHostGame).ReadInt32()
	if err != nil {
		t.Fatalf("HostGame reply: %v", err)
	}
	join := func(w *protocol.MessageWriter) { w.WriteInt32(code) }
	f.send(t, host, protocol.FlagJoinGame, join)
	if guest != nil {
		f.send(t, guest, protocol.FlagJoinGame, join)
	}
	return code
}

func gameRPC(netID uint32, call rpc.Call) func(w *protocol.MessageWriter) {
	return func(w *protocol.MessageWriter) {
		w.StartMessage(byte(protocol.GameDataRpc))
		w.WritePacked(netID)
		_ = w.WriteByte(byte(call))
		_ = w.EndMessage()
	}
}

func TestConnectModded(t *testing.T) {
	f := newFixture(t)

	mw := protocol.NewBodyWriter()
	mods.Encode(mw, &mods.Handshake{
		Version: mods.ProtocolV3,
		Mods:    []mods.Mod{{ID: "gg.reactor.api", Version: "2.1.0"}},
	})
	extra, _ := mw.Body()

	modded, conn := f.connect(t, "Modded", extra)
	if !modded.IsMod() || len(modded.Mods) != 1 {
		t.Errorf("IsMod() = %v, mods %d", modded.IsMod(), len(modded.Mods))
	}
	reply := conn.last(t, protocol.FlagReactor)
	if flag, _ := reply.ReadByte(); flag != byte(mods.ReactorHandshake) {
		t.Errorf("reactor flag = %d", flag)
	}
	if name, _ := reply.ReadString(); name != "Airlock" {
		t.Errorf("server name = %q", name)
	}

	vanilla, conn := f.connect(t, "Vanilla", nil)
	if vanilla.IsMod() || conn.count(protocol.FlagReactor) != 0 {
		t.Error("vanilla client was treated as modded")
	}
}

func TestHostAndJoin(t *testing.T) {
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)

	code := f.lobby(t, host, hostConn, guest)

	joined := guestConn.last(t, protocol.FlagJoinedGame)
	gotCode, _ := joined.ReadInt32()
	self, _ := joined.ReadInt32()
	hostID, _ := joined.ReadInt32()
	others, _ := joined.ReadPackedInt32()
	first, _ := joined.ReadPackedInt32()
	if gotCode != code || self != guest.ID || hostID != host.ID || others != 1 || first != host.ID {
		t.Errorf("JoinedGame = code %d self %d host %d others %d first %d", gotCode, self, hostID, others, first)
	}

	announce := hostConn.last(t, protocol.FlagJoinGame)
	announce.ReadInt32()
	if joiner, _ := announce.ReadInt32(); joiner != guest.ID {
		t.Errorf("JoinGame broadcast joiner = %d, want %d", joiner, guest.ID)
	}
	if !host.IsHost() || guest.IsHost() {
		t.Error("host flags wrong after join")
	}

	f.send(t, guest, protocol.FlagJoinGame, func(w *protocol.MessageWriter) {
		w.WriteInt32(int32(protocol.RandomGameCode()))
	})
	notFound := guestConn.last(t, protocol.FlagJoinGame)
	if reason, _ := notFound.ReadInt32(); protocol.DisconnectReason(reason) != protocol.ReasonGameNotFound {
		t.Errorf("join error reason = %d, want GameNotFound", reason)
	}
	if current, _ := guest.Game(); current != protocol.GameCode(code) {
		t.Error("failed join moved the guest out of its game")
	}
}

func TestHostOnlyMessages(t *testing.T) {
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)
	code := f.lobby(t, host, hostConn, guest)
	g, _ := f.games.Find(protocol.GameCode(code))

	f.send(t, guest, protocol.FlagStartGame, func(w *protocol.MessageWriter) { w.WriteInt32(code) })
	if g.State() != events.GameStateNotStarted {
		t.Fatal("guest started the game")
	}
	f.send(t, host, protocol.FlagStartGame, func(w *protocol.MessageWriter) { w.WriteInt32(code) })
	if g.State() != events.GameStateStarted || guestConn.count(protocol.FlagStartGame) != 1 {
		t.Fatalf("StartGame: state %s, broadcasts %d", g.State(), guestConn.count(protocol.FlagStartGame))
	}

	f.send(t, host, protocol.FlagEndGame, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		_ = w.WriteByte(0)
		w.WriteBool(false)
	})
	if g.State() != events.GameStateNotStarted || guestConn.count(protocol.FlagEndGame) != 1 {
		t.Errorf("EndGame: state %s", g.State())
	}

	f.send(t, host, protocol.FlagAlterGame, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		_ = w.WriteByte(alterPrivacy)
		w.WriteBool(true)
	})
	if !g.Public() || guestConn.count(protocol.FlagAlterGame) != 1 {
		t.Error("AlterGame was not applied")
	}

	f.send(t, host, protocol.FlagKickPlayer, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		w.WritePackedInt32(guest.ID)
		w.WriteBool(true)
	})
	if g.Has(guest.ID) {
		t.Error("kicked player is still seated")
	}
	if got := guestConn.disconnected(); len(got) != 1 || got[0] != protocol.ReasonBanned {
		t.Errorf("guest disconnects = %v, want [Banned]", got)
	}
	if hostConn.count(protocol.FlagRemovePlayer) != 1 {
		t.Error("lobby was not told about the kicked player")
	}
}

func TestGameDataRelay(t *testing.T) {
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)
	code := f.lobby(t, host, hostConn, guest)

	relayed := func() int { return hostConn.count(protocol.FlagGameData) }

	// SetName is host only.
	f.send(t, guest, protocol.FlagGameData, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		gameRPC(7, rpc.SetName)(w)
	})
	if relayed() != 0 {
		t.Fatal("rejected call was relayed")
	}

	f.send(t, guest, protocol.FlagGameData, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		gameRPC(7, rpc.SetName)(w)
		gameRPC(7, rpc.CastVote)(w)
	})
	if relayed() != 1 {
		t.Fatalf("relayed packets = %d, want 1", relayed())
	}
	msg := hostConn.last(t, protocol.FlagGameData)
	msg.ReadInt32()
	inner, err := msg.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	inner.ReadPacked()
	if call, _ := inner.ReadByte(); rpc.Call(call) != rpc.CastVote || msg.Remaining() != 0 {
		t.Errorf("relayed call = %s, remaining %d", rpc.Call(call), msg.Remaining())
	}
	if guestConn.count(protocol.FlagGameData) != 0 {
		t.Error("game data echoed to its sender")
	}

	f.send(t, host, protocol.FlagGameDataTo, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		w.WritePackedInt32(guest.ID)
		gameRPC(7, rpc.SetName)(w)
	})
	if guestConn.count(protocol.FlagGameDataTo) != 1 {
		t.Error("directed game data was not delivered")
	}

	err = f.handler.HandleMessage(context.Background(), guest, protocol.PacketReliable,
		root(t, protocol.FlagGameData, func(w *protocol.MessageWriter) {
			w.WriteInt32(code)
			w.WriteBytes([]byte{9, 0})
		}))
	if err == nil || !protocol.IsFramingError(err) {
		t.Errorf("truncated inner message error = %v, want framing error", err)
	}
}

func TestAmongUsMenuDisconnects(t *testing.T) {
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)
	code := f.lobby(t, host, hostConn, guest)

	aum := func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		gameRPC(7, rpc.AmongUsMenu)(w)
	}
	f.send(t, guest, protocol.FlagGameData, aum)
	if got := guestConn.disconnected(); len(got) != 1 || got[0] != protocol.ReasonCustom {
		t.Fatalf("disconnects = %v, want [Custom]", got)
	}
	if hostConn.count(protocol.FlagGameData) != 0 {
		t.Error("AmongUsMenu call was relayed")
	}
}

func TestDisconnectedMigratesHost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)
	code := f.lobby(t, host, hostConn, guest)

	f.handler.Disconnected(ctx, host)
	f.handler.Disconnected(ctx, host)

	removed := guestConn.last(t, protocol.FlagRemovePlayer)
	removed.ReadInt32()
	id, _ := removed.ReadInt32()
	newHost, _ := removed.ReadInt32()
	if id != host.ID || newHost != guest.ID {
		t.Errorf("RemovePlayer = id %d host %d", id, newHost)
	}
	if guestConn.count(protocol.FlagRemovePlayer) != 1 {
		t.Error("second disconnect was broadcast again")
	}
	if f.registry.Validate(host) {
		t.Error("disconnected client still registered")
	}

	f.handler.Disconnected(ctx, guest)
	if _, ok := f.games.Find(protocol.GameCode(code)); ok {
		t.Error("empty game survived")
	}
}

func TestKick(t *testing.T) {
	f := newFixture(t)
	c, conn := f.connect(t, "Player", nil)

	if err := f.handler.Kick(context.Background(), c.ID, "admin"); err != nil {
		t.Fatalf("Kick() error = %v", err)
	}
	if got := conn.disconnected(); len(got) != 1 || got[0] != protocol.ReasonKicked {
		t.Errorf("disconnects = %v", got)
	}
	if err := f.handler.Kick(context.Background(), 9999, "admin"); err != ErrClientNotFound {
		t.Errorf("Kick(unknown) error = %v", err)
	}
}

func TestTeleport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	guest, guestConn := f.connect(t, "Guest", nil)
	loner, _ := f.connect(t, "Loner", nil)
	code := f.lobby(t, host, hostConn, guest)

	// PlayerControl prefab for the guest: control, physics, network transform.
	f.send(t, host, protocol.FlagGameData, func(w *protocol.MessageWriter) {
		w.WriteInt32(code)
		w.StartMessage(byte(protocol.GameDataSpawn))
		w.WritePacked(uint32(game.SpawnPlayerControl))
		w.WritePackedInt32(guest.ID)
		_ = w.WriteByte(0)
		w.WritePacked(3)
		for _, netID := range []uint32{10, 11, 12} {
			w.WritePacked(netID)
			w.StartMessage(1)
			if netID == 12 {
				w.WriteUint16(5)
				w.WriteVector2(protocol.Vector2{})
			}
			_ = w.EndMessage()
		}
		_ = w.EndMessage()
	})

	target := protocol.Vector2{X: 3, Y: -1.5}
	if err := f.handler.Teleport(ctx, guest.ID, target, "admin"); err != nil {
		t.Fatalf("Teleport() error = %v", err)
	}

	for name, conn := range map[string]*fakeConn{"host": hostConn, "guest": guestConn} {
		msg := conn.last(t, protocol.FlagGameData)
		if got, _ := msg.ReadInt32(); got != code {
			t.Errorf("%s: game code = %d, want %d", name, got, code)
		}
		data, err := msg.ReadMessage()
		if err != nil {
			t.Fatalf("%s: inner message: %v", name, err)
		}
		if tag := protocol.GameDataTag(data.Tag()); tag != protocol.GameDataData {
			t.Fatalf("%s: inner tag = %d, want data", name, tag)
		}
		netID, _ := data.ReadPacked()
		sid, _ := data.ReadUint16()
		count, _ := data.ReadPacked()
		pos, _ := data.ReadVector2()
		if netID != 12 || sid != 6 || count != 1 || !protocol.Approximately(pos, target, 0.01) {
			t.Errorf("%s: delta net %d sid %d count %d pos %v", name, netID, sid, count, pos)
		}
	}

	g, _ := f.games.Find(protocol.GameCode(code))
	nt, _ := g.Object(12)
	if !protocol.Approximately(nt.Transform.LastPosSent(), target, 0.01) || nt.Transform.SequenceID() != 6 {
		t.Errorf("transform after teleport: sent %v sid %d", nt.Transform.LastPosSent(), nt.Transform.SequenceID())
	}

	if err := f.handler.Teleport(ctx, host.ID, target, "admin"); !errors.Is(err, game.ErrNoTransform) {
		t.Errorf("Teleport(host without transform) error = %v, want ErrNoTransform", err)
	}
	if err := f.handler.Teleport(ctx, loner.ID, target, "admin"); !errors.Is(err, ErrNotInGame) {
		t.Errorf("Teleport(lobbyless) error = %v, want ErrNotInGame", err)
	}
	if err := f.handler.Teleport(ctx, 9999, target, "admin"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("Teleport(unknown) error = %v, want ErrClientNotFound", err)
	}
}

func TestDisconnectedBeforeJoinLands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	host, hostConn := f.connect(t, "Host", nil)
	code := f.lobby(t, host, hostConn, nil)
	late, _ := f.connect(t, "Late", nil)

	// The kick lands between the entry check and the seat.
	f.handler.Disconnected(ctx, late)
	g, _ := f.games.Find(protocol.GameCode(code))
	if _, err := g.Join(ctx, late); err == nil {
		t.Fatal("removed client was seated")
	}
	if g.Has(late.ID) || g.PlayerCount() != 1 {
		t.Errorf("players = %d, late seated %v", g.PlayerCount(), g.Has(late.ID))
	}
}
