package game

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/mods"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
	"github.com/airlock-project/airlock/internal/transform"
	"github.com/airlock-project/airlock/internal/version"
)

type fakeConn struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeConn) RemoteAddr() net.Addr {
	return &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: 40000}
}

func (f *fakeConn) Send(*protocol.MessageWriter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return nil
}

func (f *fakeConn) Disconnect(protocol.DisconnectReason, string) error { return nil }

func (f *fakeConn) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

type reporter struct {
	mu      sync.Mutex
	reasons []string
}

func (r *reporter) Report(_ context.Context, _ *client.Client, call rpc.Call, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, call.String()+": "+reason)
	return false
}

type fixture struct {
	manager  *Manager
	registry *client.Registry
	reporter *reporter
}

func newFixture(t *testing.T, maxPlayers int) *fixture {
	t.Helper()
	resolver := compat.NewDefaultResolver(zerolog.Nop())
	rep := &reporter{}
	return &fixture{
		manager: NewManager(Deps{
			Compat:     resolver,
			Geometry:   geometry.Default(),
			Gate:       rpc.NewGate(rep, zerolog.Nop()),
			Logger:     zerolog.Nop(),
			MaxPlayers: maxPlayers,
		}),
		registry: client.NewRegistry(resolver, nil, client.Options{}, zerolog.Nop()),
		reporter: rep,
	}
}

func (f *fixture) client(t *testing.T, name string, v version.GameVersion, modList ...mods.Mod) (*client.Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	var modded *mods.Handshake
	if len(modList) > 0 {
		modded = &mods.Handshake{Version: mods.ProtocolV3, Mods: modList}
	}
	c, err := f.registry.Register(context.Background(), conn, &protocol.Handshake{
		Version:  v,
		Name:     name,
		Language: protocol.LanguageEnglish,
		Platform: &protocol.PlatformData{Platform: protocol.PlatformSteamPC, Name: "Steam"},
	}, modded)
	if err != nil {
		t.Fatalf("Register(%s) error = %v", name, err)
	}
	return c, conn
}

// inner builds one GameData inner message.
func inner(t *testing.T, tag protocol.GameDataTag, fill func(w *protocol.MessageWriter)) *protocol.MessageReader {
	t.Helper()
	w := protocol.NewBodyWriter()
	w.StartMessage(byte(tag))
	fill(w)
	if err := w.EndMessage(); err != nil {
		t.Fatalf("EndMessage() error = %v", err)
	}
	body, err := w.Body()
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	msg, err := protocol.NewMessageReader(0, body).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	return msg
}

func spawnMsg(t *testing.T, spawn SpawnType, owner int32, netIDs []uint32, initial map[int]func(w *protocol.MessageWriter)) *protocol.MessageReader {
	return inner(t, protocol.GameDataSpawn, func(w *protocol.MessageWriter) {
		w.WritePacked(uint32(spawn))
		w.WritePackedInt32(owner)
		_ = w.WriteByte(0)
		w.WritePacked(uint32(len(netIDs)))
		for i, id := range netIDs {
			w.WritePacked(id)
			w.StartMessage(1)
			if fill, ok := initial[i]; ok {
				fill(w)
			}
			_ = w.EndMessage()
		}
	})
}

func rpcMsg(t *testing.T, netID uint32, call rpc.Call, fill func(w *protocol.MessageWriter)) *protocol.MessageReader {
	return inner(t, protocol.GameDataRpc, func(w *protocol.MessageWriter) {
		w.WritePacked(netID)
		_ = w.WriteByte(byte(call))
		fill(w)
	})
}

func near(a, b protocol.Vector2) bool {
	return protocol.Approximately(a, b, 0.01)
}

func TestJoin(t *testing.T) {
	ctx := context.Background()
	required := mods.Mod{ID: "gg.reactor.api", Version: "2.1.0", Flags: mods.FlagRequireOnAllClients}

	tests := []struct {
		name       string
		host       version.GameVersion
		hostMods   []mods.Mod
		guest      version.GameVersion
		guestMods  []mods.Mod
		started    bool
		maxPlayers int
		wantReason protocol.DisconnectReason
		wantText   string
	}{
		{name: "same group", host: version.New(2023, 1, 11), guest: version.New(2023, 3, 13)},
		{name: "outdated", host: version.New(2023, 10, 1), guest: version.New(2023, 1, 11),
			wantReason: protocol.ReasonCustom, wantText: "Please update your game to play in this lobby"},
		{name: "too new", host: version.New(2023, 1, 11), guest: version.New(2023, 10, 1),
			wantReason: protocol.ReasonCustom, wantText: "too new for this lobby"},
		{name: "started", host: version.New(2023, 1, 11), guest: version.New(2023, 1, 11), started: true,
			wantReason: protocol.ReasonGameStarted},
		{name: "full", host: version.New(2023, 1, 11), guest: version.New(2023, 1, 11), maxPlayers: 1,
			wantReason: protocol.ReasonGameFull},
		{name: "mod missing", host: version.New(2023, 1, 11), hostMods: []mods.Mod{required}, guest: version.New(2023, 1, 11),
			wantReason: protocol.ReasonCustom, wantText: "you are missing"},
		{name: "mods agree", host: version.New(2023, 1, 11), hostMods: []mods.Mod{required},
			guest: version.New(2023, 1, 11), guestMods: []mods.Mod{required}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.maxPlayers)
			host, _ := f.client(t, "Host", tt.host, tt.hostMods...)
			guest, _ := f.client(t, "Guest", tt.guest, tt.guestMods...)

			g, err := f.manager.Create(ctx, host, nil)
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if _, err := g.Join(ctx, host); err != nil {
				t.Fatalf("host Join() error = %v", err)
			}
			if !host.IsHost() {
				t.Fatal("first player is not the host")
			}
			if tt.started {
				g.SetState(ctx, events.GameStateStarted)
			}

			_, err = g.Join(ctx, guest)
			if tt.wantReason == 0 && tt.wantText == "" {
				if err != nil {
					t.Fatalf("Join() error = %v", err)
				}
				if code, ok := guest.Game(); !ok || code != g.Code() || guest.IsHost() {
					t.Errorf("guest game = %v %v host %v", code, ok, guest.IsHost())
				}
				return
			}

			var jerr *JoinError
			if !errors.As(err, &jerr) {
				t.Fatalf("Join() error = %v, want *JoinError", err)
			}
			if jerr.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s", jerr.Reason, tt.wantReason)
			}
			if !strings.Contains(jerr.Message, tt.wantText) {
				t.Errorf("Message = %q, want it to contain %q", jerr.Message, tt.wantText)
			}
			if g.Has(guest.ID) {
				t.Error("refused client was seated")
			}
		})
	}
}

func TestLeaveMigratesHostAndDestroysEmptyGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))
	guest, _ := f.client(t, "Guest", version.New(2023, 1, 11))

	g, _ := f.manager.Create(ctx, host, nil)
	g.Join(ctx, host)
	g.Join(ctx, guest)

	_, newHost, ok := f.manager.Leave(ctx, host)
	if !ok || newHost != guest.ID {
		t.Fatalf("Leave(host) = %d %v, want %d true", newHost, ok, guest.ID)
	}
	if !guest.IsHost() || g.HostID() != guest.ID {
		t.Error("guest did not inherit the lobby")
	}
	if _, inGame := host.Game(); inGame {
		t.Error("host still references the game")
	}

	f.manager.Leave(ctx, guest)
	if _, found := f.manager.Find(g.Code()); found {
		t.Error("empty game was not destroyed")
	}
	if g.State() != events.GameStateDestroyed {
		t.Errorf("State() = %s, want destroyed", g.State())
	}
	if _, err := g.Join(ctx, host); err == nil {
		t.Error("joined a destroyed game")
	}
}

func TestJoinAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))

	g, err := f.manager.Create(ctx, host, nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.registry.Remove(ctx, host)
	f.manager.Leave(ctx, host)

	_, err = g.Join(ctx, host)
	var jerr *JoinError
	if !errors.As(err, &jerr) {
		t.Fatalf("Join() after disconnect error = %v, want *JoinError", err)
	}
	if g.PlayerCount() != 0 || g.HostID() != -1 {
		t.Errorf("removed client seated: players %d host %d", g.PlayerCount(), g.HostID())
	}
	if _, inGame := host.Game(); inGame {
		t.Error("removed client references the game")
	}
	if n := f.manager.SweepEmpty(ctx, -time.Second); n != 1 {
		t.Errorf("SweepEmpty() = %d, want 1", n)
	}

	if _, err := f.manager.Create(ctx, host, nil); !errors.Is(err, client.ErrDisconnected) {
		t.Errorf("Create() for removed client error = %v, want ErrDisconnected", err)
	}
	if f.manager.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.manager.Count())
	}
}

func TestLoadCodes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "codes.txt")
	if err := os.WriteFile(path, []byte("# reserved\nABCDEF\n\nqwerty\n"), 0644); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, 0)
	if err := f.manager.LoadCodes(path); err != nil {
		t.Fatalf("LoadCodes() error = %v", err)
	}
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))

	for _, want := range []string{"ABCDEF", "QWERTY"} {
		g, err := f.manager.Create(ctx, host, nil)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if got := g.Code().String(); got != want {
			t.Errorf("Code() = %s, want %s", got, want)
		}
	}
	if g, _ := f.manager.Create(ctx, host, nil); g.Code().String() == "ABCDEF" || g.Code().String() == "QWERTY" {
		t.Error("reserved code handed out twice")
	}
	if f.manager.Count() != 3 {
		t.Errorf("Count() = %d, want 3", f.manager.Count())
	}

	bad := filepath.Join(t.TempDir(), "bad.txt")
	os.WriteFile(bad, []byte("ABC1EF\n"), 0644)
	if err := f.manager.LoadCodes(bad); !errors.Is(err, protocol.ErrInvalidGameCode) {
		t.Errorf("LoadCodes(bad) error = %v, want ErrInvalidGameCode", err)
	}
}

func TestSweepEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))

	seated, _ := f.manager.Create(ctx, host, nil)
	seated.Join(ctx, host)
	f.manager.Create(ctx, host, nil)

	if n := f.manager.SweepEmpty(ctx, time.Hour); n != 0 {
		t.Errorf("SweepEmpty(1h) = %d, want 0", n)
	}
	if n := f.manager.SweepEmpty(ctx, -time.Second); n != 1 {
		t.Errorf("SweepEmpty(-1s) = %d, want 1", n)
	}
	if _, ok := f.manager.Find(seated.Code()); !ok {
		t.Error("game with a player was swept")
	}
}

func TestGameData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))
	guest, guestConn := f.client(t, "Guest", version.New(2023, 1, 11))

	g, _ := f.manager.Create(ctx, host, nil)
	g.Join(ctx, host)
	g.Join(ctx, guest)

	apply := func(sender *client.Client, msg *protocol.MessageReader) rpc.Decision {
		t.Helper()
		d, err := g.HandleGameData(ctx, sender, msg)
		if err != nil {
			t.Fatalf("HandleGameData() error = %v", err)
		}
		return d
	}

	if d := apply(host, spawnMsg(t, SpawnSkeldShip, ownerHost, []uint32{1}, nil)); d.Verdict != rpc.Accept {
		t.Fatalf("ship spawn = %s (%s)", d.Verdict, d.Cause)
	}
	if m, ok := g.Map(); !ok || m != geometry.MapSkeld {
		t.Errorf("Map() = %v %v, want skeld", m, ok)
	}
	if obj, _ := g.Object(1); obj.OwnerID() != host.ID {
		t.Errorf("ship owner = %d, want host %d", obj.OwnerID(), host.ID)
	}

	apply(host, spawnMsg(t, SpawnPlayerControl, host.ID, []uint32{20, 21, 22}, nil))
	d := apply(host, spawnMsg(t, SpawnPlayerControl, guest.ID, []uint32{10, 11, 12}, map[int]func(*protocol.MessageWriter){
		componentNetworkTransform: func(w *protocol.MessageWriter) {
			w.WriteUint16(5)
			w.WriteVector2(protocol.Vector2{})
		},
	}))
	if d.Verdict != rpc.Accept {
		t.Fatalf("player spawn = %s (%s)", d.Verdict, d.Cause)
	}
	nt, ok := g.Object(12)
	if !ok || nt.Transform == nil {
		t.Fatal("network transform was not created")
	}
	if nt.Transform.SequenceID() != 5 || nt.Transform.SpawnState() != events.SpawnStatePreSpawn {
		t.Errorf("transform sid %d state %s", nt.Transform.SequenceID(), nt.Transform.SpawnState())
	}

	if d := apply(guest, spawnMsg(t, SpawnMeetingHud, guest.ID, []uint32{30}, nil)); d.Verdict != rpc.Reject {
		t.Errorf("guest spawn = %s, want reject", d.Verdict)
	}
	if d := apply(host, spawnMsg(t, SpawnMeetingHud, host.ID, []uint32{10}, nil)); d.Verdict != rpc.Reject {
		t.Errorf("duplicate net id spawn = %s, want reject", d.Verdict)
	}

	movement := func(sender *client.Client, sid uint16, pos protocol.Vector2) *protocol.MessageReader {
		return inner(t, protocol.GameDataData, func(w *protocol.MessageWriter) {
			w.WritePacked(12)
			w.WriteUint16(sid)
			w.WritePacked(1)
			w.WriteVector2(pos)
		})
	}
	if d := apply(guest, movement(guest, 6, protocol.Vector2{X: 1, Y: 2})); d.Verdict != rpc.Accept {
		t.Fatalf("owner movement = %s (%s)", d.Verdict, d.Cause)
	}
	if !near(nt.Transform.Position(), protocol.Vector2{X: 1, Y: 2}) {
		t.Errorf("Position() = %v, want (1, 2)", nt.Transform.Position())
	}
	if d := apply(host, movement(host, 7, protocol.Vector2{X: 9, Y: 9})); d.Verdict != rpc.Reject {
		t.Errorf("foreign movement = %s, want reject", d.Verdict)
	}

	admin := protocol.Vector2{X: 2.543373, Y: -9.59182}.Add(protocol.Vector2{Y: -transform.ColliderOffset.Y})
	snap := func(pos protocol.Vector2, sid uint16) *protocol.MessageReader {
		return rpcMsg(t, 12, rpc.SnapTo, func(w *protocol.MessageWriter) {
			w.WriteVector2(pos)
			w.WriteUint16(sid)
		})
	}

	if d := apply(guest, snap(admin, 100)); d.Verdict != rpc.Reject {
		t.Errorf("snap without a venting role = %s, want reject", d.Verdict)
	}
	if g.MayVent(guest) {
		t.Error("MayVent() before the match started")
	}

	g.SetState(ctx, events.GameStateStarted)
	setRole := rpcMsg(t, 10, rpc.SetRole, func(w *protocol.MessageWriter) { w.WriteUint16(uint16(RoleImpostor)) })
	if d := apply(guest, setRole); d.Verdict != rpc.Reject {
		t.Errorf("guest SetRole = %s, want reject", d.Verdict)
	}
	setRole = rpcMsg(t, 10, rpc.SetRole, func(w *protocol.MessageWriter) { w.WriteUint16(uint16(RoleImpostor)) })
	if d := apply(host, setRole); d.Verdict != rpc.Accept {
		t.Fatalf("host SetRole = %s (%s)", d.Verdict, d.Cause)
	}
	if role, ok := g.Role(guest.ID); !ok || role != RoleImpostor || !g.MayVent(guest) {
		t.Fatalf("Role() = %v %v", role, ok)
	}

	if d := apply(guest, snap(admin, 100)); d.Verdict != rpc.Accept {
		t.Fatalf("vent snap = %s (%s)", d.Verdict, d.Cause)
	}
	if !near(nt.Transform.Position(), admin) || nt.Transform.SequenceID() != 100 {
		t.Errorf("after snap position %v sid %d", nt.Transform.Position(), nt.Transform.SequenceID())
	}
	if d := apply(guest, snap(protocol.Vector2{X: 30, Y: 30}, 101)); d.Verdict != rpc.Reject {
		t.Errorf("snap away from vents = %s, want reject", d.Verdict)
	}
	if d := apply(host, snap(admin, 102)); d.Verdict != rpc.Reject {
		t.Errorf("host snapping the guest = %s, want reject", d.Verdict)
	}

	f.reporter.mu.Lock()
	reports := len(f.reporter.reasons)
	f.reporter.mu.Unlock()
	if reports != 4 {
		t.Errorf("reports = %d, want 4", reports)
	}

	before := guestConn.count()
	if err := g.Announce("hello"); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if guestConn.count() != before+1 {
		t.Error("announcement did not reach the guest")
	}

	despawn := inner(t, protocol.GameDataDespawn, func(w *protocol.MessageWriter) { w.WritePacked(12) })
	if d := apply(host, despawn); d.Verdict != rpc.Accept {
		t.Errorf("despawn = %s", d.Verdict)
	}
	if _, ok := g.Object(12); ok {
		t.Error("object survived despawn")
	}

	g.SetState(ctx, events.GameStateNotStarted)
	if g.ObjectCount() != 0 || g.MayVent(guest) {
		t.Error("match state survived the return to the lobby")
	}
}

func TestGameDataMalformed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	host, _ := f.client(t, "Host", version.New(2023, 1, 11))
	g, _ := f.manager.Create(ctx, host, nil)
	g.Join(ctx, host)

	truncated := inner(t, protocol.GameDataSpawn, func(w *protocol.MessageWriter) {
		w.WritePacked(uint32(SpawnPlayerControl))
		w.WritePackedInt32(host.ID)
		_ = w.WriteByte(0)
		w.WritePacked(3)
	})
	if _, err := g.HandleGameData(ctx, host, truncated); err == nil {
		t.Error("truncated spawn was accepted")
	}
}
