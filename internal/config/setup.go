package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/airlock-project/airlock/internal/util"
)

// RunSetupWizard walks the operator through first-run configuration, reading
// answers from in, then validates and saves cfg.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	w := &wizard{reader: bufio.NewReader(in), out: out}

	fmt.Fprintln(out, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(out, "║          Airlock - First Run Setup           ║")
	fmt.Fprintln(out, "╚══════════════════════════════════════════════╝")

	cfg.mu.Lock()
	fmt.Fprintln(out, "\n── Server Identity ──")
	cfg.Server.Name = w.str("Server name", cfg.Server.Name)
	cfg.Server.PublicIP = w.str("Public IP address (blank to auto-detect)", "")
	if cfg.Server.PublicIP == "" {
		if ip, err := util.GetPublicIP(); err == nil {
			cfg.Server.PublicIP = ip
			fmt.Fprintf(out, "    Detected %s\n", ip)
		}
	}
	cfg.Server.ListenPort = w.integer("Game port (UDP)", cfg.Server.ListenPort)
	cfg.Server.MaxConnections = w.integer("Maximum connections", cfg.Server.MaxConnections)

	fmt.Fprintln(out, "\n── Anti-cheat ──")
	cfg.AntiCheat.Enabled = w.boolean("Enable cheat reporting", cfg.AntiCheat.Enabled)
	cfg.AntiCheat.DisconnectThreshold = w.integer("Reports before disconnect", cfg.AntiCheat.DisconnectThreshold)
	cfg.AntiCheat.ForbidAmongUsMenu = w.boolean("Disconnect AUM users", cfg.AntiCheat.ForbidAmongUsMenu)

	fmt.Fprintln(out, "\n── Admin API ──")
	cfg.API.Enabled = w.boolean("Enable REST API", cfg.API.Enabled)
	if cfg.API.Enabled {
		cfg.API.Port = w.integer("REST API port (TCP)", cfg.API.Port)
		cfg.API.AdminToken = w.str("Admin token (blank to generate)", cfg.API.AdminToken)
		if cfg.API.AdminToken == "" {
			cfg.API.AdminToken = uuid.NewString()
			fmt.Fprintf(out, "    Generated admin token: %s\n", cfg.API.AdminToken)
		}
	}

	fmt.Fprintln(out, "\n── MQTT Telemetry ──")
	cfg.MQTT.Enabled = w.boolean("Enable MQTT telemetry", cfg.MQTT.Enabled)
	if cfg.MQTT.Enabled {
		cfg.MQTT.BrokerURL = w.str("Broker host", cfg.MQTT.BrokerURL)
		cfg.MQTT.Port = w.integer("Broker port", cfg.MQTT.Port)
		cfg.MQTT.UseTLS = w.boolean("Use TLS", cfg.MQTT.UseTLS)
	}
	cfg.mu.Unlock()

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, warning := range result.Warnings {
		log.Warn().Str("field", warning.Field).Msg(warning.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to %s\n\n", cfg.Path())
	return nil
}

type wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

func (w *wizard) line() string {
	input, _ := w.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (w *wizard) str(prompt, def string) string {
	if def != "" {
		fmt.Fprintf(w.out, "  %s [%s]: ", prompt, def)
	} else {
		fmt.Fprintf(w.out, "  %s: ", prompt)
	}
	if input := w.line(); input != "" {
		return input
	}
	return def
}

func (w *wizard) integer(prompt string, def int) int {
	fmt.Fprintf(w.out, "  %s [%d]: ", prompt, def)
	input := w.line()
	if input == "" {
		return def
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(w.out, "    Invalid number, using default: %d\n", def)
		return def
	}
	return val
}

func (w *wizard) boolean(prompt string, def bool) bool {
	defStr := "no"
	if def {
		defStr = "yes"
	}
	fmt.Fprintf(w.out, "  %s [%s]: ", prompt, defStr)
	switch strings.ToLower(w.line()) {
	case "":
		return def
	case "yes", "y", "true", "1":
		return true
	default:
		return false
	}
}
