package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	result := Validate(DefaultConfig())
	if !result.IsValid() {
		t.Fatalf("default config has errors: %v", result.Errors)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GetServer().ListenPort != DefaultGamePort {
		t.Errorf("ListenPort = %d, want %d", cfg.GetServer().ListenPort, DefaultGamePort)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	partial := `{"server": {"name": "Test Relay", "listen_port": 22100}, "anticheat": {"enabled": false}}`
	if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	srv := cfg.GetServer()
	if srv.Name != "Test Relay" || srv.ListenPort != 22100 {
		t.Errorf("server = %+v, want overlaid name and port", srv)
	}
	if srv.OutboundQueueSize != 256 {
		t.Errorf("OutboundQueueSize = %d, want default 256", srv.OutboundQueueSize)
	}
	ac := cfg.GetAntiCheat()
	if ac.Enabled {
		t.Error("anticheat.enabled overlay lost")
	}
	if ac.DisconnectThreshold != 1 {
		t.Errorf("DisconnectThreshold = %d, want default 1", ac.DisconnectThreshold)
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile() accepted malformed JSON")
	}
}

func TestValidateCatchesErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "bad_port", mutate: func(c *Config) { c.Server.ListenPort = 70000 }, field: "server.listen_port"},
		{name: "bad_listen_ip", mutate: func(c *Config) { c.Server.ListenIP = "not-an-ip" }, field: "server.listen_ip"},
		{name: "port_conflict", mutate: func(c *Config) { c.API.Port = c.Server.ListenPort }, field: "api.port"},
		{name: "bad_extra_group", mutate: func(c *Config) { c.Compatibility.ExtraGroups = [][]string{{"2024.x"}} }, field: "compatibility.extra_groups[0]"},
		{name: "zero_threshold", mutate: func(c *Config) { c.AntiCheat.DisconnectThreshold = 0 }, field: "anticheat.disconnect_threshold"},
		{name: "tiny_queue", mutate: func(c *Config) { c.Server.OutboundQueueSize = 1 }, field: "server.outbound_queue_size"},
		{name: "missing_geometry", mutate: func(c *Config) { c.Game.GeometryFile = "/nonexistent/maps.yaml" }, field: "game.geometry_file"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			result := Validate(cfg)
			found := false
			for _, e := range result.Errors {
				if e.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want one for %s", result.Errors, tc.field)
			}
		})
	}
}

func TestLogConfigConversion(t *testing.T) {
	lc := DefaultConfig().GetLogging().LogConfig()
	if lc.Level != "info" || !lc.File || !lc.Console {
		t.Errorf("LogConfig() = %+v", lc)
	}
}

func TestSetupWizard(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	input := strings.Join([]string{
		"Test Relay",  // name
		"203.0.113.5", // public ip
		"",            // game port
		"lots",        // max connections, invalid
		"n",           // anticheat
		"3",           // threshold
		"y",           // forbid AUM
		"y",           // api
		"",            // api port
		"",            // admin token, generated
		"no",          // mqtt
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunSetupWizard() error = %v\n%s", err, out.String())
	}

	srv := cfg.GetServer()
	if srv.Name != "Test Relay" || srv.PublicIP != "203.0.113.5" || srv.ListenPort != DefaultGamePort {
		t.Errorf("server = %+v", srv)
	}
	if srv.MaxConnections != DefaultConfig().Server.MaxConnections {
		t.Errorf("MaxConnections = %d, want default after invalid input", srv.MaxConnections)
	}
	ac := cfg.GetAntiCheat()
	if ac.Enabled || ac.DisconnectThreshold != 3 || !ac.ForbidAmongUsMenu {
		t.Errorf("anticheat = %+v", ac)
	}
	if len(cfg.GetAPI().AdminToken) != 36 {
		t.Errorf("admin token %q was not generated", cfg.GetAPI().AdminToken)
	}
	if cfg.IsFirstRun() {
		t.Error("config still reports first run after setup")
	}

	saved, err := LoadFile(cfg.Path())
	if err != nil {
		t.Fatal(err)
	}
	if saved.GetServer().Name != "Test Relay" {
		t.Errorf("saved name = %q", saved.GetServer().Name)
	}
}

func TestSetupWizardRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.path = filepath.Join(t.TempDir(), DefaultConfigFile)

	input := "Relay\n203.0.113.5\n70000\n\n\n\n\nn\nn\n"
	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(input), &out); err == nil {
		t.Fatal("RunSetupWizard() accepted an out-of-range port")
	}
	if !strings.Contains(out.String(), "server.listen_port") {
		t.Errorf("output does not name the bad field:\n%s", out.String())
	}
	if _, err := os.Stat(cfg.Path()); !os.IsNotExist(err) {
		t.Error("invalid configuration was saved")
	}
}
