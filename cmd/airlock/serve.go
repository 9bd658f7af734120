package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/airlock-project/airlock/internal/anticheat"
	"github.com/airlock-project/airlock/internal/api"
	"github.com/airlock-project/airlock/internal/cli"
	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/db"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/geometry"
	"github.com/airlock-project/airlock/internal/metrics"
	"github.com/airlock-project/airlock/internal/network"
	"github.com/airlock-project/airlock/internal/notify"
	"github.com/airlock-project/airlock/internal/rpc"
	"github.com/airlock-project/airlock/internal/scheduler"
	"github.com/airlock-project/airlock/internal/server"
	"github.com/airlock-project/airlock/internal/telemetry"
	"github.com/airlock-project/airlock/internal/util"
	"github.com/airlock-project/airlock/internal/version"
)

func serveCmd(configPath *string) *cobra.Command {
	var noConsole bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf(banner, version.AppVersion)
			fmt.Println()
			return serve(*configPath, !noConsole)
		},
	}
	cmd.Flags().BoolVar(&noConsole, "no-console", false, "disable the interactive console")
	return cmd
}

func serve(configPath string, console bool) error {
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := util.InitLogger(cfg.GetLogging().LogConfig()); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", version.AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Airlock")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, e := range validation.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}
	switch {
	case cfg.IsFirstRun() && console:
		log.Info().Msg("first run detected, launching setup wizard")
		if err := config.RunSetupWizard(cfg, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("setup wizard failed: %w", err)
		}
	case !validation.IsValid():
		return errors.New("configuration validation failed, please fix the errors above")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := newRelay(ctx, cfg)
	if err != nil {
		return err
	}
	defer r.close()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	srv := cfg.GetServer()
	addr := net.JoinHostPort(srv.ListenIP, strconv.Itoa(srv.ListenPort))
	run("hazel listener", func(ctx context.Context) error {
		return r.listener.ListenAndServe(ctx, addr)
	})

	if cfg.GetAPI().Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", r.api.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	mqtt, err := telemetry.NewMQTTHandler(cfg.GetMQTT(), srv.Name, r.bus, util.ComponentLogger("mqtt"))
	switch {
	case errors.Is(err, telemetry.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqtt.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	discord, err := notify.NewDiscord(cfg.GetNotify(), srv.Name, util.ComponentLogger("notify"))
	switch {
	case errors.Is(err, notify.ErrDisabled):
	case err != nil:
		log.Warn().Err(err).Msg("failed to initialize Discord alerts")
	default:
		discord.SubscribeEvents(r.bus)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.scheduler.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.reporter.Run(ctx)
	}()

	if console {
		repl := cli.NewCLI(cli.Deps{
			Clients:    r.registry,
			Games:      r.games,
			Peers:      r.listener,
			Compat:     r.resolver,
			Kicker:     r.handler,
			Teleporter: r.handler,
			Reports:    r.store,
			Events:     r.bus,
			Shutdown:   cancel,
		}, os.Stdin, os.Stdout, util.ComponentLogger("cli"))
		go repl.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = r.bus.EmitSync(shutdownCtx, events.Event{Type: events.EventShutdown, Source: "main"})
		stop()
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	case <-ctx.Done():
	}

	log.Info().Msg("initiating graceful shutdown...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("shutdown timed out after 15 seconds, forcing exit")
	}

	log.Info().Msg("Airlock stopped")
	return nil
}

// relay holds the wired components of a running server.
type relay struct {
	bus       *events.EventBus
	resolver  *compat.Resolver
	store     *db.ModerationStore
	reporter  *anticheat.Reporter
	registry  *client.Registry
	games     *game.Manager
	handler   *server.Handler
	listener  *network.Listener
	api       *api.Server
	scheduler *scheduler.Scheduler
}

func newRelay(ctx context.Context, cfg *config.Config) (*relay, error) {
	r := &relay{bus: events.NewEventBus()}

	m := metrics.New()
	m.Attach(r.bus)

	var err error
	r.resolver, err = newResolver(cfg.GetCompatibility(), util.ComponentLogger("compat"))
	if err != nil {
		return nil, err
	}

	dbCfg := cfg.GetDatabase()
	r.store, err = db.NewModerationStore(ctx, dbCfg.Path)
	if err != nil {
		return nil, err
	}

	ac := cfg.GetAntiCheat()
	var reportStore anticheat.Store
	if ac.PersistReports {
		reportStore = r.store
	}
	r.reporter = anticheat.NewReporter(anticheat.Settings{
		Enabled:             ac.Enabled,
		DisconnectThreshold: ac.DisconnectThreshold,
		Persist:             ac.PersistReports,
	}, reportStore, m, r.bus, util.ComponentLogger("anticheat"))

	var rules []rpc.Rule
	var menu *rpc.AmongUsMenuRule
	if ac.ForbidAmongUsMenu {
		menu = rpc.NewAmongUsMenuRule(util.ComponentLogger("rpc"))
		rules = append(rules, menu)
	}
	gate := rpc.NewGate(r.reporter, util.ComponentLogger("rpc"), rules...)

	srv := cfg.GetServer()
	r.registry = client.NewRegistry(r.resolver, r.bus, client.Options{
		AllowFutureGameVersions: cfg.GetCompatibility().AllowFutureGameVersions,
		MaxConnections:          srv.MaxConnections,
	}, util.ComponentLogger("client"))
	r.registry.SetBanChecker(r.store)

	gameCfg := cfg.GetGame()
	var maps geometry.Provider = geometry.Default()
	if gameCfg.GeometryFile != "" {
		t, err := geometry.Load(gameCfg.GeometryFile)
		if err != nil {
			r.store.Close()
			return nil, err
		}
		maps = t
	}

	r.games = game.NewManager(game.Deps{
		Compat:     r.resolver,
		Geometry:   maps,
		Gate:       gate,
		Events:     r.bus,
		Logger:     util.ComponentLogger("game"),
		MaxPlayers: gameCfg.MaxPlayers,
	})
	if gameCfg.GameCodesFile != "" {
		if err := r.games.LoadCodes(gameCfg.GameCodesFile); err != nil {
			log.Warn().Err(err).Msg("failed to load game codes, using random codes")
		}
	}
	r.games.SubscribeEvents(r.bus)

	r.handler = server.NewHandler(server.Deps{
		Registry: r.registry,
		Games:    r.games,
		Menu:     menu,
		Metrics:  m,
		Events:   r.bus,
		Logger:   util.ComponentLogger("server"),
	}, server.Options{
		ServerName:    srv.Name,
		ServerVersion: version.AppVersion,
	})
	r.handler.SubscribeEvents(r.bus)

	r.listener, err = network.NewListener(network.Options{
		TokenMode:         srv.TokenMode,
		OutboundQueueSize: srv.OutboundQueueSize,
		HandshakesPerSec:  srv.HandshakesPerSec,
		HandshakeBurst:    srv.HandshakeBurst,
		LimiterCacheSize:  srv.LimiterCacheSize,
		ResendInterval:    time.Duration(srv.ResendIntervalMS) * time.Millisecond,
		MaxResends:        srv.MaxResends,
		PingInterval:      time.Duration(srv.PingIntervalSec) * time.Second,
	}, r.handler, m, util.ComponentLogger("network"))
	if err != nil {
		r.store.Close()
		return nil, err
	}

	r.api = api.NewServer(cfg, api.Deps{
		Clients:    r.registry,
		Games:      r.games,
		Kicker:     r.handler,
		Teleporter: r.handler,
		Compat:     r.resolver,
		Moderation: r.store,
		Metrics:    promhttp.Handler(),
		Events:     r.bus,
		Logger:     util.ComponentLogger("api"),
	})

	r.scheduler = scheduler.NewScheduler(cfg, scheduler.Deps{
		Peers:   r.listener,
		Games:   r.games,
		Clients: r.registry,
		Reports: r.store,
		Events:  r.bus,
	}, util.ComponentLogger("scheduler"))

	return r, nil
}

func (r *relay) close() {
	r.bus.Stop()
	if err := r.store.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close moderation store")
	}
}

// newResolver builds the compatibility table from the built-in groups plus
// the configured extras and labels.
func newResolver(cc config.CompatibilityConfig, logger zerolog.Logger) (*compat.Resolver, error) {
	groups := append([][]version.GameVersion{}, compat.DefaultGroups...)
	for i, extra := range cc.ExtraGroups {
		var group []version.GameVersion
		for _, s := range extra {
			v, err := version.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("compatibility.extra_groups[%d]: %w", i, err)
			}
			group = append(group, v)
		}
		groups = append(groups, group)
	}

	resolver, err := compat.NewResolver(logger, groups...)
	if err != nil {
		return nil, fmt.Errorf("invalid compatibility table: %w", err)
	}
	for s, label := range cc.Labels {
		v, err := version.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("compatibility.labels: %w", err)
		}
		resolver.SetLabel(v, label)
	}
	return resolver, nil
}

// startWithRetry retries startFn on bind errors at a fixed 3s interval.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return nil
		}
		if lastErr = startFn(ctx); lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
