// Package config handles configuration loading, validation, and persistence
// for the Airlock relay server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/airlock-project/airlock/internal/util"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultGamePort   = 22023
	DefaultAPIPort    = 22080
)

// Config is the root configuration structure for Airlock.
type Config struct {
	mu   sync.RWMutex
	path string

	Server        ServerConfig        `json:"server"`
	Compatibility CompatibilityConfig `json:"compatibility"`
	AntiCheat     AntiCheatConfig     `json:"anticheat"`
	Game          GameConfig          `json:"game"`
	API           APIConfig           `json:"api"`
	MQTT          MQTTConfig          `json:"mqtt"`
	Notify        NotifyConfig        `json:"notify"`
	Database      DatabaseConfig      `json:"database"`
	Logging       LoggingConfig       `json:"logging"`
	Timers        TimerConfig         `json:"timers"`
}

// ServerConfig holds the game listener settings.
type ServerConfig struct {
	Name       string `json:"name"`
	ListenIP   string `json:"listen_ip"`
	ListenPort int    `json:"listen_port"`
	PublicIP   string `json:"public_ip"`
	// TokenMode switches the handshake discriminator to a matchmaker token string.
	TokenMode bool `json:"token_mode"`

	MaxConnections    int     `json:"max_connections"`
	OutboundQueueSize int     `json:"outbound_queue_size"`
	HandshakesPerSec  float64 `json:"handshakes_per_sec"`
	HandshakeBurst    int     `json:"handshake_burst"`
	LimiterCacheSize  int     `json:"limiter_cache_size"`
	ResendIntervalMS  int     `json:"resend_interval_ms"`
	MaxResends        int     `json:"max_resends"`
	PingIntervalSec   int     `json:"ping_interval_sec"`
}

// CompatibilityConfig controls which client versions may connect.
type CompatibilityConfig struct {
	// AllowFutureGameVersions admits clients newer than every known version.
	AllowFutureGameVersions bool `json:"allow_future_game_versions"`
	// ExtraGroups are appended to the built-in table, as dotted version strings.
	ExtraGroups [][]string `json:"extra_groups"`
	// Labels names versions that are not in the built-in table.
	Labels map[string]string `json:"labels"`
}

// AntiCheatConfig holds the cheat reporter settings.
type AntiCheatConfig struct {
	Enabled bool `json:"enabled"`
	// DisconnectThreshold is the number of reports after which a client is removed.
	DisconnectThreshold int  `json:"disconnect_threshold"`
	ForbidAmongUsMenu   bool `json:"forbid_among_us_menu"`
	PersistReports      bool `json:"persist_reports"`
}

// GameConfig holds game session settings.
type GameConfig struct {
	MaxPlayers    int    `json:"max_players"`
	GeometryFile  string `json:"geometry_file"`
	GameCodesFile string `json:"game_codes_file"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AdminToken     string   `json:"admin_token"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// NotifyConfig holds Discord webhook alert settings.
type NotifyConfig struct {
	DiscordWebhookURL string `json:"discord_webhook_url"`
	// DisconnectsOnly limits cheat alerts to reports that removed the client.
	DisconnectsOnly bool `json:"disconnects_only"`
	// PerMinute caps webhook posts; Discord allows 30 per minute per webhook.
	PerMinute int `json:"per_minute"`
}

// DatabaseConfig holds moderation store settings.
type DatabaseConfig struct {
	Path                string `json:"path"`
	ReportRetentionDays int    `json:"report_retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
	File       bool   `json:"file"`
}

// LogConfig converts the section to the logger's settings.
func (l LoggingConfig) LogConfig() util.LogConfig {
	return util.LogConfig{
		Level:      l.Level,
		Directory:  l.Directory,
		MaxBackups: l.MaxBackups,
		Console:    l.Console,
		File:       l.File,
	}
}

// TimerConfig holds background task intervals.
type TimerConfig struct {
	StaleConnectionSec    int `json:"stale_connection_sec"`
	SweepInterval         int `json:"sweep_interval_sec"`
	ReportCleanupInterval int `json:"report_cleanup_interval_sec"`
	HeartbeatInterval     int `json:"heartbeat_interval_sec"`
	EmptyGameTimeoutSec   int `json:"empty_game_timeout_sec"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:              "Airlock",
			ListenIP:          "0.0.0.0",
			ListenPort:        DefaultGamePort,
			PublicIP:          "127.0.0.1",
			MaxConnections:    4096,
			OutboundQueueSize: 256,
			HandshakesPerSec:  2,
			HandshakeBurst:    5,
			LimiterCacheSize:  8192,
			ResendIntervalMS:  300,
			MaxResends:        10,
			PingIntervalSec:   1,
		},
		Compatibility: CompatibilityConfig{
			Labels: map[string]string{},
		},
		AntiCheat: AntiCheatConfig{
			Enabled:             true,
			DisconnectThreshold: 1,
			ForbidAmongUsMenu:   true,
			PersistReports:      true,
		},
		Game: GameConfig{
			MaxPlayers: 15,
		},
		API: APIConfig{
			Enabled:      true,
			Port:         DefaultAPIPort,
			RateLimitRPS: 100,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Port:        1883,
			TopicPrefix: "airlock",
		},
		Notify: NotifyConfig{
			DisconnectsOnly: true,
			PerMinute:       20,
		},
		Database: DatabaseConfig{
			Path:                "data/airlock.db",
			ReportRetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 7,
			Console:    true,
			File:       true,
		},
		Timers: TimerConfig{
			StaleConnectionSec:    30,
			SweepInterval:         10,
			ReportCleanupInterval: 3600,
			HeartbeatInterval:     60,
			EmptyGameTimeoutSec:   300,
		},
	}
}

// Load reads configuration from config.json in configDir.
func Load(configDir string) (*Config, error) {
	return LoadFile(filepath.Join(configDir, DefaultConfigFile))
}

// LoadFile reads configuration from a JSON file, creating it with defaults
// when missing.
func LoadFile(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json lists options added since it was written.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the server section.
func (c *Config) GetServer() ServerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// GetCompatibility returns a copy of the compatibility section.
func (c *Config) GetCompatibility() CompatibilityConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Compatibility
}

// GetAntiCheat returns a copy of the anticheat section.
func (c *Config) GetAntiCheat() AntiCheatConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.AntiCheat
}

// SetAntiCheat replaces the anticheat section.
func (c *Config) SetAntiCheat(ac AntiCheatConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AntiCheat = ac
}

// GetGame returns a copy of the game section.
func (c *Config) GetGame() GameConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Game
}

// GetAPI returns a copy of the API section.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT section.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetNotify returns a copy of the notify section.
func (c *Config) GetNotify() NotifyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Notify
}

// GetDatabase returns a copy of the database section.
func (c *Config) GetDatabase() DatabaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Database
}

// GetLogging returns a copy of the logging section.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// GetTimers returns a copy of the timer section.
func (c *Config) GetTimers() TimerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Timers
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API.Enabled && c.API.AdminToken == ""
}
