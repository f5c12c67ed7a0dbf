package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "gorelay.yaml", `
server:
  name: irc.example.org
  listen: ":7000"
  websocket_listen: ":7001"
limits:
  send_queue: 32
  ping_interval: 30s
admin:
  operators:
    - name: root
      secret_hash: "$2a$10$abcdefghijklmnopqrstuv"
      role: admin
    - name: helper
      secret_hash: "$2a$10$abcdefghijklmnopqrstuv"
      role: moderator
channels:
  - name: "#ops"
    topic: Operators only
  - name: lobby
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Name != "irc.example.org" || cfg.Server.Listen != ":7000" || cfg.Server.WebSocketListen != ":7001" {
		t.Errorf("server section not applied: %+v", cfg.Server)
	}
	if cfg.Server.Network != "gorelay" {
		t.Errorf("unset field lost its default: network = %q", cfg.Server.Network)
	}
	if cfg.Limits.SendQueue != 32 || cfg.Limits.PingInterval != 30*time.Second {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Limits.MaxLineLength != 512 {
		t.Errorf("MaxLineLength = %d, want default 512", cfg.Limits.MaxLineLength)
	}

	wantOps := []model.Operator{
		{Name: "root", SecretHash: "$2a$10$abcdefghijklmnopqrstuv", Role: model.RoleAdmin},
		{Name: "helper", SecretHash: "$2a$10$abcdefghijklmnopqrstuv", Role: model.RoleModerator},
	}
	if diff := cmp.Diff(wantOps, cfg.Admin.Operators); diff != "" {
		t.Errorf("operators mismatch (-want +got):\n%s", diff)
	}
	wantChans := []ChannelConfig{{Name: "#ops", Topic: "Operators only"}, {Name: "lobby"}}
	if diff := cmp.Diff(wantChans, cfg.Channels); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "gorelay.toml", `
[server]
name = "irc.toml.test"

[limits]
flood_rate = 2.5
flood_burst = 4
write_timeout = "3s"

[storage]
database = ""

[[channels]]
name = "#toml"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Name != "irc.toml.test" {
		t.Errorf("Name = %q", cfg.Server.Name)
	}
	if cfg.Limits.FloodRate != 2.5 || cfg.Limits.FloodBurst != 4 || cfg.Limits.WriteTimeout != 3*time.Second {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if cfg.Storage.Database != "" {
		t.Errorf("Database = %q, want empty", cfg.Storage.Database)
	}
	if diff := cmp.Diff([]ChannelConfig{{Name: "#toml"}}, cfg.Channels); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"GORELAY_SERVER_NAME":     "irc.env.test",
		"GORELAY_SEND_QUEUE":      "8",
		"GORELAY_FLOOD_RATE":      "0.5",
		"GORELAY_PING_INTERVAL":   "15s",
		"GORELAY_ADMIN_CONSOLE":   "true",
		"GORELAY_ADMIN_LISTEN":    "",
		"GORELAY_MAX_NICK_LENGTH": "not-a-number",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	ApplyEnv(&cfg, lookup)

	if cfg.Server.Name != "irc.env.test" {
		t.Errorf("Name = %q", cfg.Server.Name)
	}
	if cfg.Limits.SendQueue != 8 || cfg.Limits.FloodRate != 0.5 || cfg.Limits.PingInterval != 15*time.Second {
		t.Errorf("limits = %+v", cfg.Limits)
	}
	if !cfg.Admin.Console || cfg.Admin.Listen != "" {
		t.Errorf("admin = %+v", cfg.Admin)
	}
	if cfg.Limits.MaxNickLength != model.DefaultMaxNickLength {
		t.Errorf("bad value was applied: MaxNickLength = %d", cfg.Limits.MaxNickLength)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty listen", func(c *Config) { c.Server.Listen = "" }},
		{"space in server name", func(c *Config) { c.Server.Name = "my server" }},
		{"zero send queue", func(c *Config) { c.Limits.SendQueue = 0 }},
		{"tiny line length", func(c *Config) { c.Limits.MaxLineLength = 10 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad channel", func(c *Config) { c.Channels = []ChannelConfig{{Name: "#a b"}} }},
		{"operator without hash", func(c *Config) {
			c.Admin.Operators = []model.Operator{{Name: "root"}}
		}},
		{"duplicate operator", func(c *Config) {
			op := model.Operator{Name: "root", SecretHash: "x", Role: model.RoleAdmin}
			c.Admin.Operators = []model.Operator{op, op}
		}},
		{"websocket path", func(c *Config) { c.Server.WebSocketPath = "irc" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() = nil, want error")
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file err = %v, want ErrNotExist", err)
	}
	path := writeFile(t, "bad.yaml", "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
	path = writeFile(t, "role.yaml", "admin:\n  operators:\n    - name: x\n      secret_hash: y\n      role: root\n")
	if _, err := Load(path); !errors.Is(err, model.ErrInvalidRole) {
		t.Errorf("unknown role err = %v, want ErrInvalidRole", err)
	}
}
