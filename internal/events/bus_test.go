package events

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestEmitSyncRunsAllHandlers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	var calls int32
	for _, name := range []string{"a", "b", "c"} {
		bus.Subscribe(EventClientConnected, name, func(ctx context.Context, e Event) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}

	if err := bus.EmitSync(context.Background(), Event{Type: EventClientConnected}); err != nil {
		t.Fatalf("EmitSync() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestEmitSyncReturnsHandlerError(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	want := errors.New("sink down")
	bus.Subscribe(EventCheatReported, "failing", func(ctx context.Context, e Event) error {
		return want
	})

	if err := bus.EmitSync(context.Background(), Event{Type: EventCheatReported}); !errors.Is(err, want) {
		t.Errorf("EmitSync() error = %v, want %v", err, want)
	}
}

func TestEmitRecoversPanics(t *testing.T) {
	bus := NewEventBus()

	done := make(chan struct{})
	bus.Subscribe(EventPlayerVent, "panicky", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventPlayerVent, "ok", func(ctx context.Context, e Event) error {
		close(done)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventPlayerVent})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("healthy handler did not run")
	}
	bus.Stop()
}

func TestUnsubscribeAndStop(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventGameCreated, "x", func(ctx context.Context, e Event) error { return nil })
	bus.Unsubscribe(EventGameCreated, "x")
	if n := bus.HandlerCount(EventGameCreated); n != 0 {
		t.Errorf("HandlerCount() = %d, want 0", n)
	}

	bus.Stop()
	bus.Stop()
	select {
	case <-bus.Done():
	default:
		t.Error("Done() not closed after Stop")
	}

	var ran int32
	bus.Subscribe(EventGameCreated, "late", func(ctx context.Context, e Event) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	_ = bus.EmitSync(context.Background(), Event{Type: EventGameCreated})
	if ran != 0 {
		t.Error("handler ran after Stop")
	}
}

func TestGameStateJSON(t *testing.T) {
	b, err := GameStateStarted.MarshalJSON()
	if err != nil || string(b) != `"started"` {
		t.Errorf("MarshalJSON() = %s, %v", b, err)
	}
	if GameState(99).String() != "unknown" {
		t.Error("unknown state should stringify as unknown")
	}
}

func TestEmitSyncJoinsFailures(t *testing.T) {
	bus := NewEventBus()
	defer bus.Stop()

	first := errors.New("mqtt down")
	bus.Subscribe(EventClientKicked, "mqtt", func(ctx context.Context, e Event) error { return first })
	bus.Subscribe(EventClientKicked, "discord", func(ctx context.Context, e Event) error { panic("nil embed") })
	bus.Subscribe(EventClientKicked, "metrics", func(ctx context.Context, e Event) error { return nil })

	err := bus.EmitSync(context.Background(), Event{Type: EventClientKicked})
	if !errors.Is(err, first) {
		t.Errorf("EmitSync() error = %v, want it to wrap %v", err, first)
	}
	if err == nil || !strings.Contains(err.Error(), "handler discord panicked") {
		t.Errorf("EmitSync() error = %v, want the recovered panic", err)
	}
}
