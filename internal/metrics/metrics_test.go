package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airlock-project/airlock/internal/events"
)

// sample sums every series of the named family.
func sample(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue() + m.GetGauge().GetValue()
		}
		return total
	}
	return 0
}

func TestAttachTracksSessions(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg))
	bus := events.NewEventBus()
	defer bus.Stop()
	m.Attach(bus)

	ctx := context.Background()
	emit := func(typ events.EventType, payload any) {
		if err := bus.EmitSync(ctx, events.Event{Type: typ, Payload: payload}); err != nil {
			t.Fatalf("EmitSync(%s) error = %v", typ, err)
		}
	}
	emit(events.EventClientConnected, events.ClientPayload{ClientID: 1})
	emit(events.EventClientConnected, events.ClientPayload{ClientID: 2})
	emit(events.EventClientDisconnected, events.ClientPayload{ClientID: 1})
	emit(events.EventClientRejected, events.ClientRejectedPayload{Reason: "banned"})
	emit(events.EventGameCreated, events.GamePayload{Code: "ABCDEF"})

	tests := []struct {
		name string
		want float64
	}{
		{"airlock_connections_active", 1},
		{"airlock_connections_total", 2},
		{"airlock_handshakes_rejected_total", 1},
		{"airlock_games_active", 1},
	}
	for _, tt := range tests {
		if got := sample(t, reg, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(WithRegistry(reg), WithNamespace("relay"))

	m.PacketIn("reliable")
	m.PacketIn("reliable")
	m.PacketOut("ack")
	m.CallRejected("SetName", "reject")
	m.CheatReported("SnapTo")
	m.OutboundOverflow()
	m.Resend()
	m.FramingError()

	tests := []struct {
		name string
		want float64
	}{
		{"relay_packets_total", 3},
		{"relay_calls_rejected_total", 1},
		{"relay_cheat_reports_total", 1},
		{"relay_outbound_overflows_total", 1},
		{"relay_reliable_resends_total", 1},
		{"relay_framing_errors_total", 1},
	}
	for _, tt := range tests {
		if got := sample(t, reg, tt.name); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}
}
