package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/airlock-project/airlock/internal/client"
	"github.com/airlock-project/airlock/internal/compat"
	"github.com/airlock-project/airlock/internal/config"
	"github.com/airlock-project/airlock/internal/db"
	"github.com/airlock-project/airlock/internal/events"
	"github.com/airlock-project/airlock/internal/game"
	"github.com/airlock-project/airlock/internal/protocol"
	"github.com/airlock-project/airlock/internal/util"
	"github.com/airlock-project/airlock/internal/version"
)

// Clients is the read side of the client registry.
type Clients interface {
	All() []*client.Client
	Count() int
}

// Games lists open sessions.
type Games interface {
	Infos() []game.Info
	Count() int
}

// Kicker removes a client by id.
type Kicker interface {
	Kick(ctx context.Context, id int32, by string) error
}

// Teleporter moves a client's player.
type Teleporter interface {
	Teleport(ctx context.Context, id int32, pos protocol.Vector2, by string) error
}

// Compat is the runtime-mutable compatibility table.
type Compat interface {
	Snapshot() []compat.Snapshot
	Groups() []*compat.Group
	AddGroup(versions ...version.GameVersion) (*compat.Group, error)
	AddVersionToGroup(g *compat.Group, v version.GameVersion) error
	RemoveVersion(v version.GameVersion) bool
	SupportedRange() string
}

// Moderation is the report and ban store.
type Moderation interface {
	ListReports(ctx context.Context, f db.ReportFilter) ([]db.Report, error)
	ListBans(ctx context.Context) ([]db.Ban, error)
	AddBan(ctx context.Context, b db.Ban) error
	RemoveBan(ctx context.Context, subject string) error
}

// Deps are the components the API exposes. Teleporter, Moderation and
// Metrics may be nil.
type Deps struct {
	Clients    Clients
	Games      Games
	Kicker     Kicker
	Teleporter Teleporter
	Compat     Compat
	Moderation Moderation
	Metrics    http.Handler
	Events     events.Emitter
	Logger     zerolog.Logger
}

// Server is the admin REST API.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server and builds its routes.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if cfg.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}

	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	if apiCfg.TLSEnabled {
		cert, err := loadCertificate(apiCfg, s.cfg.GetServer().PublicIP)
		if err != nil {
			ln.Close()
			return err
		}
		ln = tls.NewListener(ln, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	}

	s.logger.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// loadCertificate loads the configured key pair, generating a self-signed
// one first when the files do not exist.
func loadCertificate(apiCfg config.APIConfig, hosts ...string) (tls.Certificate, error) {
	certFile, keyFile := apiCfg.TLSCertFile, apiCfg.TLSKeyFile
	if certFile == "" || keyFile == "" {
		certFile, keyFile = "config/api.crt", "config/api.key"
	}
	if !util.FileExists(certFile) || !util.FileExists(keyFile) {
		if err := util.GenerateSelfSignedCert(certFile, keyFile, hosts...); err != nil {
			return tls.Certificate{}, err
		}
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load API certificate: %w", err)
	}
	return cert, nil
}

func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	limiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(limiter.Middleware())

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
		public.GET("/versions", s.handleVersions)
	}

	admin := router.Group("/api/admin")
	admin.Use(RequireToken(s.cfg))
	{
		admin.GET("/clients", s.handleListClients)
		admin.POST("/clients/:id/kick", s.handleKickClient)
		admin.POST("/clients/:id/teleport", s.handleTeleportClient)
		admin.GET("/games", s.handleListGames)

		admin.POST("/compat/groups", s.handleAddGroup)
		admin.POST("/compat/groups/:index/versions", s.handleAddVersion)
		admin.DELETE("/compat/versions/:version", s.handleRemoveVersion)

		admin.GET("/reports", s.handleListReports)
		admin.GET("/bans", s.handleListBans)
		admin.POST("/bans", s.handleAddBan)
		admin.DELETE("/bans/:subject", s.handleRemoveBan)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return router
}
