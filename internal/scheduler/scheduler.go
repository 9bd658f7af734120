// Package scheduler runs the relay's periodic housekeeping: stale peer and
// empty game sweeps, cheat report retention and the status heartbeat.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/util"
)

// Peers is the transport side of the sweep.
type Peers interface {
	SweepStale(timeout time.Duration) int
	Count() int
}

// Games is the session side of the sweep.
type Games interface {
	SweepEmpty(ctx context.Context, timeout time.Duration) int
	Count() int
}

// Clients counts registered sessions.
type Clients interface {
	Count() int
}

// ReportStore prunes old cheat reports.
type ReportStore interface {
	CleanOldReports(ctx context.Context, days int) (int64, error)
}

// Deps are the components the scheduler maintains. Reports may be nil.
type Deps struct {
	Peers   Peers
	Games   Games
	Clients Clients
	Reports ReportStore
	Events  events.Emitter
}

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger
}

// NewScheduler creates a new task scheduler.
func NewScheduler(cfg *config.Config, deps Deps, logger zerolog.Logger) *Scheduler {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &Scheduler{cfg: cfg, deps: deps, logger: logger}
}

// Start runs every task until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	timers := s.cfg.GetTimers()
	s.logger.Info().Msg("scheduler started")

	go s.every(ctx, "sweep", seconds(timers.SweepInterval, 10), s.sweep)
	if s.deps.Reports != nil {
		go s.every(ctx, "report cleanup", seconds(timers.ReportCleanupInterval, 3600), s.cleanReports)
	}
	go s.every(ctx, "heartbeat", seconds(timers.HeartbeatInterval, 60), s.heartbeat)

	<-ctx.Done()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, task func(context.Context)) {
	s.logger.Debug().Str("task", name).Dur("interval", interval).Msg("task scheduled")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}

// sweep drops silent peers and games that stayed empty too long.
func (s *Scheduler) sweep(ctx context.Context) {
	timers := s.cfg.GetTimers()
	stale := s.deps.Peers.SweepStale(seconds(timers.StaleConnectionSec, 30))
	empty := s.deps.Games.SweepEmpty(ctx, seconds(timers.EmptyGameTimeoutSec, 300))
	if stale > 0 || empty > 0 {
		s.logger.Info().
			Int("stale_peers", stale).
			Int("empty_games", empty).
			Msg("sweep completed")
	}
}

func (s *Scheduler) cleanReports(ctx context.Context) {
	days := s.cfg.GetDatabase().ReportRetentionDays
	if days <= 0 {
		return
	}
	removed, err := s.deps.Reports.CleanOldReports(ctx, days)
	if err != nil {
		s.logger.Warn().Err(err).Msg("report cleanup failed")
		return
	}
	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Int("retention_days", days).Msg("old cheat reports removed")
	}
}

func (s *Scheduler) heartbeat(ctx context.Context) {
	s.deps.Events.Emit(ctx, events.Event{
		Type:    events.EventServerStatus,
		Source:  "scheduler",
		Payload: s.Status(),
	})
}

// Status samples the relay and host load.
func (s *Scheduler) Status() events.StatusPayload {
	host := util.GetHostStats()
	status := events.StatusPayload{
		Peers:      s.deps.Peers.Count(),
		Games:      s.deps.Games.Count(),
		CPUPercent: host.CPUPercent,
		MemoryMB:   host.ProcessRSSMB,
		UptimeSec:  host.UptimeSec,
		Goroutines: host.Goroutines,
	}
	if s.deps.Clients != nil {
		status.Clients = s.deps.Clients.Count()
	}
	return status
}

// seconds converts a configured interval, falling back to def when unset.
func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}
