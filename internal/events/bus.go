package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

// Emitter is the publishing side of the bus. Components that only raise
// events depend on this rather than on *EventBus.
type Emitter interface {
	Emit(ctx context.Context, event Event)
	EmitSync(ctx context.Context, event Event) error
}

type subscriber struct {
	name string
	fn   HandlerFunc
}

// EventBus fans relay events out to telemetry, metrics and moderation sinks.
// Handlers run on their own goroutines so a slow sink never stalls the
// network path.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscriber
	closed  bool
	done    chan struct{}
	pending sync.WaitGroup
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[EventType][]subscriber),
		done: make(chan struct{}),
	}
}

// Subscribe registers fn for t under name. The name is used in logs and by
// Unsubscribe.
func (eb *EventBus) Subscribe(t EventType, name string, fn HandlerFunc) {
	eb.mu.Lock()
	eb.subs[t] = append(eb.subs[t], subscriber{name: name, fn: fn})
	eb.mu.Unlock()

	log.Debug().Str("event", string(t)).Str("handler", name).Msg("subscribed to event")
}

// Unsubscribe removes every handler registered for t under name.
func (eb *EventBus) Unsubscribe(t EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	kept := eb.subs[t][:0:0]
	for _, s := range eb.subs[t] {
		if s.name != name {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(eb.subs, t)
		return
	}
	eb.subs[t] = kept
}

// claim copies the subscribers of t and reserves them in pending. It
// returns nil once the bus is stopped.
func (eb *EventBus) claim(t EventType) []subscriber {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed || len(eb.subs[t]) == 0 {
		return nil
	}
	subs := append([]subscriber(nil), eb.subs[t]...)
	eb.pending.Add(len(subs))
	return subs
}

// Emit delivers event to every subscriber without waiting.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	for _, s := range eb.claim(event.Type) {
		go func(s subscriber) {
			defer eb.pending.Done()
			_ = deliver(ctx, s, event)
		}(s)
	}
}

// EmitSync delivers event to every subscriber and waits for them. The
// returned error joins every handler failure.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	subs := eb.claim(event.Type)
	errs := make([]error, len(subs))

	var wg sync.WaitGroup
	wg.Add(len(subs))
	for i, s := range subs {
		go func(i int, s subscriber) {
			defer wg.Done()
			defer eb.pending.Done()
			errs[i] = deliver(ctx, s, event)
		}(i, s)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// deliver runs one handler, turning a panic into an error.
func deliver(ctx context.Context, s subscriber, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked: %v", s.name, r)
		}
		if err != nil {
			log.Error().Err(err).Str("event", string(event.Type)).Str("handler", s.name).Msg("event handler failed")
		}
	}()
	return s.fn(ctx, event)
}

// Stop refuses further events and waits for in-flight handlers. It is safe
// to call more than once.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return
	}
	eb.closed = true
	close(eb.done)
	eb.mu.Unlock()

	eb.pending.Wait()
	log.Info().Msg("event bus stopped")
}

// Done is closed when the bus is stopped.
func (eb *EventBus) Done() <-chan struct{} {
	return eb.done
}

// HandlerCount returns the number of handlers registered for t.
func (eb *EventBus) HandlerCount(t EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subs[t])
}

// Nop is an Emitter that drops every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

func (Nop) EmitSync(context.Context, Event) error { return nil }
