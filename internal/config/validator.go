package config

import (
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/airlock-project/airlock/internal/version"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateServer(&cfg.Server, result)
	validateCompatibility(&cfg.Compatibility, result)
	validateAntiCheat(&cfg.AntiCheat, result)
	validateGame(&cfg.Game, result)
	validateAPI(&cfg.API, cfg.Server.ListenPort, result)
	validateMQTT(&cfg.MQTT, result)
	validateNotify(&cfg.Notify, result)
	validateTimers(&cfg.Timers, result)

	return result
}

func validateServer(data *ServerConfig, result *ValidationResult) {
	if strings.TrimSpace(data.Name) == "" {
		result.AddError("server.name", "server name is required")
	}
	if net.ParseIP(data.ListenIP) == nil {
		result.AddError("server.listen_ip", fmt.Sprintf("invalid listen address: %q", data.ListenIP))
	}
	if data.PublicIP != "" && net.ParseIP(data.PublicIP) == nil {
		result.AddError("server.public_ip", fmt.Sprintf("invalid public address: %q", data.PublicIP))
	}
	validatePort(data.ListenPort, "server.listen_port", result)

	if data.OutboundQueueSize < 16 {
		result.AddError("server.outbound_queue_size", "outbound queue must hold at least 16 packets")
	}
	if data.HandshakesPerSec <= 0 {
		result.AddWarning("server.handshakes_per_sec", "handshake rate limiting is disabled")
	}
	if data.LimiterCacheSize < 1 {
		result.AddError("server.limiter_cache_size", "limiter cache must hold at least one address")
	}
	if data.ResendIntervalMS < 50 {
		result.AddWarning("server.resend_interval_ms", "resend interval below 50ms may flood slow clients")
	}
	if data.MaxResends < 1 {
		result.AddError("server.max_resends", "at least one resend is required")
	}
}

func validateCompatibility(data *CompatibilityConfig, result *ValidationResult) {
	for i, group := range data.ExtraGroups {
		if len(group) == 0 {
			result.AddError(fmt.Sprintf("compatibility.extra_groups[%d]", i), "group must contain at least one version")
		}
		for _, v := range group {
			if _, err := version.Parse(v); err != nil {
				result.AddError(fmt.Sprintf("compatibility.extra_groups[%d]", i), err.Error())
			}
		}
	}
	for v := range data.Labels {
		if _, err := version.Parse(v); err != nil {
			result.AddError("compatibility.labels", err.Error())
		}
	}
	if data.AllowFutureGameVersions {
		result.AddWarning("compatibility.allow_future_game_versions",
			"clients newer than the server may desynchronise lobbies")
	}
}

func validateAntiCheat(data *AntiCheatConfig, result *ValidationResult) {
	if data.Enabled && data.DisconnectThreshold < 1 {
		result.AddError("anticheat.disconnect_threshold", "threshold must be at least 1")
	}
	if !data.Enabled {
		result.AddWarning("anticheat.enabled", "cheat reports will be logged but never disconnect")
	}
}

func validateGame(data *GameConfig, result *ValidationResult) {
	if data.MaxPlayers < 4 || data.MaxPlayers > 127 {
		result.AddError("game.max_players", fmt.Sprintf("max players must be 4-127, got %d", data.MaxPlayers))
	}
	if data.GeometryFile != "" {
		if _, err := os.Stat(data.GeometryFile); os.IsNotExist(err) {
			result.AddError("game.geometry_file", fmt.Sprintf("file does not exist: %s", data.GeometryFile))
		}
	}
	if data.GameCodesFile != "" {
		if _, err := os.Stat(data.GameCodesFile); os.IsNotExist(err) {
			result.AddWarning("game.game_codes_file",
				fmt.Sprintf("file does not exist, random codes will be used: %s", data.GameCodesFile))
		}
	}
}

func validateAPI(data *APIConfig, gamePort int, result *ValidationResult) {
	if !data.Enabled {
		return
	}
	validatePort(data.Port, "api.port", result)
	if data.Port == gamePort {
		result.AddError("api.port", "port conflict detected: API and game listener share a port")
	}
	if strings.TrimSpace(data.AdminToken) == "" {
		result.AddWarning("api.admin_token", "admin routes are disabled until a token is set")
	} else if len(data.AdminToken) < 16 {
		result.AddWarning("api.admin_token", "admin token is shorter than 16 characters")
	}
	if data.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if data.TLSEnabled && (data.TLSCertFile == "") != (data.TLSKeyFile == "") {
		result.AddError("api.tls_cert_file", "TLS certificate and key must be set together")
	}
}

func validateMQTT(data *MQTTConfig, result *ValidationResult) {
	if !data.Enabled {
		return
	}
	if strings.TrimSpace(data.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if data.Port < 1 || data.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
	if data.UseTLS && data.CertFile != "" && data.KeyFile == "" {
		result.AddError("mqtt.key_file", "client certificate requires a key file")
	}
}

func validateNotify(data *NotifyConfig, result *ValidationResult) {
	if data.DiscordWebhookURL == "" {
		return
	}
	if !strings.HasPrefix(data.DiscordWebhookURL, "https://") {
		result.AddError("notify.discord_webhook_url", "webhook URL must use https")
	}
	if data.PerMinute < 1 || data.PerMinute > 30 {
		result.AddWarning("notify.per_minute", "per_minute outside 1-30, Discord may reject posts")
	}
}

func validateTimers(timers *TimerConfig, result *ValidationResult) {
	if timers.StaleConnectionSec < 5 {
		result.AddWarning("timers.stale_connection_sec",
			"stale timeout below 5s will drop clients on brief network stalls")
	}
	if timers.SweepInterval < 1 {
		result.AddError("timers.sweep_interval_sec", "sweep interval must be at least 1s")
	}
	if timers.HeartbeatInterval < 10 {
		result.AddWarning("timers.heartbeat_interval_sec",
			"heartbeat interval less than 10s may cause excessive traffic")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsUDPPortAvailable checks if a UDP port is available for binding.
func IsUDPPortAvailable(ip string, port int) bool {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
