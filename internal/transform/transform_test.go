package transform

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/rpc"
)

type fakeGame struct {
	mapID geometry.MapID
	known bool
}

func (g fakeGame) Code() protocol.GameCode { return 0x42 }

func (g fakeGame) Map() (geometry.MapID, bool) { return g.mapID, g.known }

type ventPolicy bool

func (v ventPolicy) MayVent(*client.Client) bool { return bool(v) }

type recordingEscalator struct {
	causes []string
}

func (e *recordingEscalator) Escalate(_ context.Context, _ *client.Client, call rpc.Call, cause string) rpc.Decision {
	e.causes = append(e.causes, call.String()+": "+cause)
	return rpc.Rejected(cause)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) EmitSync(ctx context.Context, e events.Event) error {
	r.Emit(ctx, e)
	return nil
}

func (r *recorder) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func near(a, b protocol.Vector2) bool {
	return protocol.Approximately(a, b, 0.01)
}

func TestSidGreaterThan(t *testing.T) {
	tests := []struct {
		n, prev uint16
		want    bool
	}{
		{n: 100, prev: 65000, want: true},
		{n: 65000, prev: 100, want: false},
		{n: 2, prev: 1, want: true},
		{n: 1, prev: 2, want: false},
		{n: 32768, prev: 1, want: true},
		{n: 32769, prev: 1, want: false},
		{n: 0, prev: 65535, want: true},
		{n: 65535, prev: 0, want: false},
	}
	for _, tc := range tests {
		if got := SidGreaterThan(tc.n, tc.prev); got != tc.want {
			t.Errorf("SidGreaterThan(%d, %d) = %v, want %v", tc.n, tc.prev, got, tc.want)
		}
	}

	for n := 0; n <= 0xFFFF; n += 257 {
		if SidGreaterThan(uint16(n), uint16(n)) {
			t.Fatalf("SidGreaterThan(%d, %d) = true", n, n)
		}
	}
}

func newTransform(rec *recorder, esc *recordingEscalator, g fakeGame, mayVent bool) *Transform {
	return New(7, 3, Deps{
		Game:      g,
		Geometry:  geometry.Default(),
		Vents:     ventPolicy(mayVent),
		Escalator: esc,
		Events:    rec,
		Logger:    zerolog.Nop(),
	})
}

func dataMessage(t *testing.T, write func(w *protocol.MessageWriter)) *protocol.MessageReader {
	t.Helper()
	w := protocol.NewBodyWriter()
	write(w)
	body, err := w.Body()
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}
	return protocol.NewMessageReader(byte(protocol.GameDataData), body)
}

func TestDeserializeInitialAndDeltas(t *testing.T) {
	rec := &recorder{}
	tr := newTransform(rec, &recordingEscalator{}, fakeGame{}, false)
	sender := &client.Client{ID: 3}
	ctx := context.Background()

	initial := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(10)
		w.WriteVector2(protocol.Vector2{X: 1, Y: 1})
	})
	if err := tr.Deserialize(ctx, sender, initial, true); err != nil {
		t.Fatalf("Deserialize(initial) error = %v", err)
	}
	if tr.SequenceID() != 10 || !near(tr.Position(), protocol.Vector2{X: 1, Y: 1}) {
		t.Fatalf("after initial: sid %d pos %v", tr.SequenceID(), tr.Position())
	}

	delta := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(11)
		w.WritePacked(3)
		w.WriteVector2(protocol.Vector2{X: 2, Y: 1})
		w.WriteVector2(protocol.Vector2{X: 3, Y: 1})
		w.WriteVector2(protocol.Vector2{X: 4, Y: 1})
	})
	if err := tr.Deserialize(ctx, sender, delta, false); err != nil {
		t.Fatalf("Deserialize(delta) error = %v", err)
	}
	if tr.SequenceID() != 13 || !near(tr.Position(), protocol.Vector2{X: 4, Y: 1}) {
		t.Errorf("after delta: sid %d pos %v", tr.SequenceID(), tr.Position())
	}

	// A stale batch is ignored but still reported once.
	stale := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(5)
		w.WritePacked(2)
		w.WriteVector2(protocol.Vector2{X: -9, Y: -9})
		w.WriteVector2(protocol.Vector2{X: -8, Y: -8})
	})
	if err := tr.Deserialize(ctx, sender, stale, false); err != nil {
		t.Fatalf("Deserialize(stale) error = %v", err)
	}
	if tr.SequenceID() != 13 || !near(tr.Position(), protocol.Vector2{X: 4, Y: 1}) {
		t.Errorf("stale batch applied: sid %d pos %v", tr.SequenceID(), tr.Position())
	}

	if got := rec.count(events.EventPlayerMovement); got != 3 {
		t.Errorf("movement events = %d, want one per message", got)
	}
}

func TestDeserializeAcrossWrap(t *testing.T) {
	tr := newTransform(&recorder{}, &recordingEscalator{}, fakeGame{}, false)
	sender := &client.Client{ID: 3}

	initial := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(65534)
		w.WriteVector2(protocol.Vector2{})
	})
	if err := tr.Deserialize(context.Background(), sender, initial, true); err != nil {
		t.Fatal(err)
	}

	delta := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(65535)
		w.WritePacked(3)
		for i := 1; i <= 3; i++ {
			w.WriteVector2(protocol.Vector2{X: float32(i)})
		}
	})
	if err := tr.Deserialize(context.Background(), sender, delta, false); err != nil {
		t.Fatal(err)
	}
	if tr.SequenceID() != 1 || !near(tr.Position(), protocol.Vector2{X: 3}) {
		t.Errorf("after wrap: sid %d pos %v", tr.SequenceID(), tr.Position())
	}
}

func TestDeserializeTruncated(t *testing.T) {
	tr := newTransform(&recorder{}, &recordingEscalator{}, fakeGame{}, false)
	msg := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(1)
		w.WritePacked(5)
		w.WriteVector2(protocol.Vector2{})
	})
	if err := tr.Deserialize(context.Background(), &client.Client{ID: 3}, msg, false); err == nil {
		t.Error("Deserialize() accepted a batch longer than its payload")
	}
}

func TestSerialize(t *testing.T) {
	tr := newTransform(&recorder{}, &recordingEscalator{}, fakeGame{}, false)

	w := protocol.NewBodyWriter()
	if ok, err := tr.Serialize(w, false); ok || err != nil || w.HasBody() {
		t.Fatalf("Serialize(empty delta) = %v, %v, body %v", ok, err, w.HasBody())
	}

	tr.Enqueue(protocol.Vector2{X: 1, Y: 2})
	tr.Enqueue(protocol.Vector2{X: 3, Y: 4})
	if ok, err := tr.Serialize(w, false); !ok || err != nil {
		t.Fatalf("Serialize(delta) = %v, %v", ok, err)
	}

	body, _ := w.Body()
	r := protocol.NewMessageReader(0, body)
	sid, _ := r.ReadUint16()
	count, _ := r.ReadPacked()
	first, _ := r.ReadVector2()
	second, _ := r.ReadVector2()
	finalSid, _ := r.ReadUint16()
	final, err := r.ReadVector2()
	if err != nil {
		t.Fatalf("reading delta: %v", err)
	}
	if sid != 1 || count != 2 || finalSid != 2 {
		t.Errorf("sid %d count %d final sid %d, want 1 2 2", sid, count, finalSid)
	}
	if !near(first, protocol.Vector2{X: 1, Y: 2}) || !near(second, protocol.Vector2{X: 3, Y: 4}) || !near(final, second) {
		t.Errorf("positions %v %v %v", first, second, final)
	}
	if tr.LastPosSent() != (protocol.Vector2{X: 3, Y: 4}) {
		t.Errorf("LastPosSent() = %v", tr.LastPosSent())
	}

	if ok, _ := tr.Serialize(protocol.NewBodyWriter(), false); ok {
		t.Error("queue not cleared after Serialize")
	}

	init := protocol.NewBodyWriter()
	if ok, _ := tr.Serialize(init, true); !ok {
		t.Fatal("Serialize(initial) = false")
	}
	body, _ = init.Body()
	r = protocol.NewMessageReader(0, body)
	if sid, _ := r.ReadUint16(); sid != 2 {
		t.Errorf("initial sid = %d, want 2", sid)
	}
}

func snapMessage(t *testing.T, pos protocol.Vector2, sid uint16) *protocol.MessageReader {
	return dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteVector2(pos)
		w.WriteUint16(sid)
	})
}

func TestSnapToVentCheck(t *testing.T) {
	skeld := fakeGame{mapID: geometry.MapSkeld, known: true}
	admin := protocol.Vector2{X: 2.543373, Y: -9.59182}
	onVent := admin.Add(protocol.Vector2{X: 0.05, Y: 0.4})
	offVent := admin.Add(protocol.Vector2{X: 5.0, Y: 0.4})
	sender := &client.Client{ID: 3}

	tests := []struct {
		name       string
		game       fakeGame
		mayVent    bool
		pos        protocol.Vector2
		want       rpc.Verdict
		wantVent   int
		wantReport string
	}{
		{name: "near_vent", game: skeld, mayVent: true, pos: onVent, want: rpc.Accept, wantVent: 1},
		{name: "far_from_vent", game: skeld, mayVent: true, pos: offVent, want: rpc.Reject, wantReport: "SnapTo: Failed vent position check"},
		{name: "cannot_vent", game: skeld, mayVent: false, pos: onVent, want: rpc.Reject, wantReport: "SnapTo: Tried to vent without the ability"},
		{name: "unknown_map", game: fakeGame{mapID: geometry.MapFungle, known: true}, mayVent: true, pos: onVent, want: rpc.Reject, wantReport: "SnapTo: Failed vent position check on unknown map"},
		{name: "no_ship", game: fakeGame{}, mayVent: true, pos: onVent, want: rpc.Reject, wantReport: "SnapTo: Failed vent position check on unknown map"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			esc := &recordingEscalator{}
			tr := newTransform(rec, esc, tc.game, tc.mayVent)

			d, err := tr.ValidateCall(context.Background(), sender, rpc.SnapTo, snapMessage(t, tc.pos, 1))
			if err != nil {
				t.Fatalf("ValidateCall() error = %v", err)
			}
			if d.Verdict != tc.want {
				t.Errorf("verdict = %s (%s), want %s", d.Verdict, d.Cause, tc.want)
			}
			if got := rec.count(events.EventPlayerVent); got != tc.wantVent {
				t.Errorf("vent events = %d, want %d", got, tc.wantVent)
			}
			if tc.wantReport == "" {
				if len(esc.causes) != 0 {
					t.Errorf("unexpected reports %v", esc.causes)
				}
				if !near(tr.Position(), tc.pos) || tr.SequenceID() != 1 {
					t.Errorf("snap not applied: pos %v sid %d", tr.Position(), tr.SequenceID())
				}
				return
			}
			if len(esc.causes) != 1 || esc.causes[0] != tc.wantReport {
				t.Errorf("reports = %v, want [%s]", esc.causes, tc.wantReport)
			}
			if tr.SequenceID() != 0 {
				t.Error("rejected snap moved the entity")
			}
		})
	}
}

func TestSnapToStaleSequenceKeepsPosition(t *testing.T) {
	skeld := fakeGame{mapID: geometry.MapSkeld, known: true}
	tr := newTransform(&recorder{}, &recordingEscalator{}, skeld, true)
	sender := &client.Client{ID: 3}

	initial := dataMessage(t, func(w *protocol.MessageWriter) {
		w.WriteUint16(500)
		w.WriteVector2(protocol.Vector2{X: 10, Y: 10})
	})
	if err := tr.Deserialize(context.Background(), sender, initial, true); err != nil {
		t.Fatal(err)
	}

	weapons := protocol.Vector2{X: 8.820032, Y: 3.324533 + 0.4}
	d, err := tr.HandleSnapTo(context.Background(), sender, snapMessage(t, weapons, 400))
	if err != nil || d.Verdict != rpc.Accept {
		t.Fatalf("HandleSnapTo() = %+v, %v", d, err)
	}
	if !near(tr.Position(), protocol.Vector2{X: 10, Y: 10}) || tr.SequenceID() != 500 {
		t.Errorf("stale snap applied: pos %v sid %d", tr.Position(), tr.SequenceID())
	}
}

func TestAirshipSpawnSequence(t *testing.T) {
	airship := fakeGame{mapID: geometry.MapAirship, known: true}
	esc := &recordingEscalator{}
	tr := newTransform(&recorder{}, esc, airship, false)
	sender := &client.Client{ID: 3}
	ctx := context.Background()

	steps := []struct {
		pos   protocol.Vector2
		want  rpc.Verdict
		state events.SpawnState
	}{
		// Spawn point before the pre-spawn snap is a vent attempt.
		{protocol.Vector2{X: 15.5, Y: 0}, rpc.Reject, events.SpawnStatePreSpawn},
		{protocol.Vector2{X: -25, Y: 40}, rpc.Accept, events.SpawnStateSelectingSpawn},
		{protocol.Vector2{X: -25, Y: 40}, rpc.Reject, events.SpawnStateSelectingSpawn},
		{protocol.Vector2{X: 33.5, Y: -1.5}, rpc.Accept, events.SpawnStateSpawned},
		{protocol.Vector2{X: 20, Y: 10.5}, rpc.Reject, events.SpawnStateSpawned},
	}
	for i, step := range steps {
		d, err := tr.HandleSnapTo(ctx, sender, snapMessage(t, step.pos, uint16(i+1)))
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if d.Verdict != step.want || tr.SpawnState() != step.state {
			t.Errorf("step %d: verdict %s state %s, want %s %s", i, d.Verdict, tr.SpawnState(), step.want, step.state)
		}
	}

	tr.OnPlayerSpawn()
	if tr.SpawnState() != events.SpawnStatePreSpawn {
		t.Errorf("OnPlayerSpawn() left state %s", tr.SpawnState())
	}
}

func TestValidateCallRejectsOtherCalls(t *testing.T) {
	tr := newTransform(&recorder{}, &recordingEscalator{}, fakeGame{}, true)
	d, err := tr.ValidateCall(context.Background(), &client.Client{ID: 3}, rpc.EnterVent, dataMessage(t, func(*protocol.MessageWriter) {}))
	if err != nil || d.Verdict != rpc.Reject {
		t.Errorf("ValidateCall(EnterVent) = %+v, %v", d, err)
	}
}
