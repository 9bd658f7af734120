// Package anticheat files cheat reports and decides when a client has
// earned a disconnect.
package anticheat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/db"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/rpc"
)

// Store persists reports.
type Store interface {
	InsertReport(ctx context.Context, r db.Report) error
}

// Counter receives one tick per report.
type Counter interface {
	CheatReported(call string)
}

// Settings controls the reporter.
type Settings struct {
	// Enabled false keeps reporting but never asks for a disconnect.
	Enabled bool
	// DisconnectThreshold is the report count at which a client is removed.
	DisconnectThreshold int
	Persist             bool
}

// queueSize bounds the reports waiting for the store.
const queueSize = 256

// Reporter implements rpc.Reporter. Reports are written to the store by Run,
// never on the caller's goroutine.
type Reporter struct {
	mu       sync.RWMutex
	settings Settings

	store   Store
	queue   chan db.Report
	counter Counter
	bus     events.Emitter
	logger  zerolog.Logger
}

// NewReporter creates a reporter. store and counter may be nil.
func NewReporter(settings Settings, store Store, counter Counter, bus events.Emitter, logger zerolog.Logger) *Reporter {
	if bus == nil {
		bus = events.Nop{}
	}
	return &Reporter{
		settings: settings,
		store:    store,
		queue:    make(chan db.Report, queueSize),
		counter:  counter,
		bus:      bus,
		logger:   logger,
	}
}

// Run writes queued reports to the store until ctx is done, then drains
// what is left and returns.
func (r *Reporter) Run(ctx context.Context) {
	if r.store == nil {
		return
	}
	for {
		select {
		case report := <-r.queue:
			r.persist(ctx, report)
		case <-ctx.Done():
			for {
				select {
				case report := <-r.queue:
					r.persist(context.WithoutCancel(ctx), report)
				default:
					return
				}
			}
		}
	}
}

func (r *Reporter) persist(ctx context.Context, report db.Report) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.store.InsertReport(ctx, report); err != nil {
		r.logger.Error().Err(err).Str("report_id", report.ID).Msg("failed to persist cheat report")
	}
}

// SetSettings replaces the settings, e.g. after a config reload.
func (r *Reporter) SetSettings(s Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
}

// Settings returns the current settings.
func (r *Reporter) Settings() Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Report records that sender failed a check on call and returns true when
// the sender should be disconnected.
func (r *Reporter) Report(ctx context.Context, sender *client.Client, call rpc.Call, reason string) bool {
	s := r.Settings()
	count := sender.AddSuspicion()

	threshold := s.DisconnectThreshold
	if threshold < 1 {
		threshold = 1
	}
	disconnect := s.Enabled && count >= threshold

	var gameCode string
	if code, ok := sender.Game(); ok {
		gameCode = code.String()
	}

	report := db.Report{
		ID:           uuid.NewString(),
		ClientID:     sender.ID,
		Name:         sender.Name,
		FriendCode:   sender.FriendCode,
		Address:      sender.Address(),
		GameCode:     gameCode,
		Call:         call.String(),
		Reason:       reason,
		Count:        count,
		Disconnected: disconnect,
		CreatedAt:    time.Now(),
	}

	r.logger.Warn().
		Str("report_id", report.ID).
		Int32("client_id", sender.ID).
		Str("name", sender.Name).
		Str("game", gameCode).
		Str("call", report.Call).
		Int("count", count).
		Bool("disconnect", disconnect).
		Msg(reason)

	if s.Persist && r.store != nil {
		select {
		case r.queue <- report:
		default:
			r.logger.Error().Str("report_id", report.ID).Msg("report queue full, cheat report not persisted")
		}
	}
	if r.counter != nil {
		r.counter.CheatReported(report.Call)
	}

	r.bus.Emit(ctx, events.Event{
		Type:   events.EventCheatReported,
		Source: "anticheat",
		Payload: events.CheatReportPayload{
			ReportID:     report.ID,
			ClientID:     report.ClientID,
			Name:         report.Name,
			FriendCode:   report.FriendCode,
			GameCode:     report.GameCode,
			Call:         report.Call,
			Reason:       report.Reason,
			Count:        report.Count,
			Disconnected: report.Disconnected,
		},
	})

	return disconnect
}
