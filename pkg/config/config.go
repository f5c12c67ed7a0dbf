// Package config loads gorelay's configuration.
//
// Values are layered: Default(), then a YAML or TOML file (picked by
// extension), then GORELAY_* environment variables named in the `env` struct
// tags. The result is checked with go-playground/validator before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gorelay/pkg/logging"
	"github.com/NicolasHaas/gorelay/pkg/model"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig    `yaml:"server" toml:"server"`
	Limits   LimitsConfig    `yaml:"limits" toml:"limits"`
	Admin    AdminConfig     `yaml:"admin" toml:"admin"`
	Storage  StorageConfig   `yaml:"storage" toml:"storage"`
	Channels []ChannelConfig `yaml:"channels" toml:"channels" validate:"dive"`
	Log      LogConfig       `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Name            string `yaml:"name" toml:"name" env:"GORELAY_SERVER_NAME" validate:"required"`
	Network         string `yaml:"network" toml:"network" env:"GORELAY_NETWORK" validate:"required"`
	Listen          string `yaml:"listen" toml:"listen" env:"GORELAY_LISTEN" validate:"required"`
	TLSListen       string `yaml:"tls_listen" toml:"tls_listen" env:"GORELAY_TLS_LISTEN"`
	WebSocketListen string `yaml:"websocket_listen" toml:"websocket_listen" env:"GORELAY_WEBSOCKET_LISTEN"`
	WebSocketPath   string `yaml:"websocket_path" toml:"websocket_path" env:"GORELAY_WEBSOCKET_PATH" validate:"required,startswith=/"`
	CertFile        string `yaml:"cert_file" toml:"cert_file" env:"GORELAY_CERT_FILE"`
	KeyFile         string `yaml:"key_file" toml:"key_file" env:"GORELAY_KEY_FILE"`
	DataDir         string `yaml:"data_dir" toml:"data_dir" env:"GORELAY_DATA_DIR"`
	MOTD            string `yaml:"motd" toml:"motd" env:"GORELAY_MOTD"`
}

type LimitsConfig struct {
	MaxNickLength        int           `yaml:"max_nick_length" toml:"max_nick_length" env:"GORELAY_MAX_NICK_LENGTH" validate:"min=1,max=64"`
	MaxChannelNameLength int           `yaml:"max_channel_name_length" toml:"max_channel_name_length" env:"GORELAY_MAX_CHANNEL_NAME_LENGTH" validate:"min=2,max=200"`
	MaxLineLength        int           `yaml:"max_line_length" toml:"max_line_length" env:"GORELAY_MAX_LINE_LENGTH" validate:"min=64,max=65536"`
	SendQueue            int           `yaml:"send_queue" toml:"send_queue" env:"GORELAY_SEND_QUEUE" validate:"min=1"`
	FloodRate            float64       `yaml:"flood_rate" toml:"flood_rate" env:"GORELAY_FLOOD_RATE" validate:"gte=0"`
	FloodBurst           int           `yaml:"flood_burst" toml:"flood_burst" env:"GORELAY_FLOOD_BURST" validate:"gte=0"`
	PingInterval         time.Duration `yaml:"ping_interval" toml:"ping_interval" env:"GORELAY_PING_INTERVAL" validate:"gte=0"`
	PingTimeout          time.Duration `yaml:"ping_timeout" toml:"ping_timeout" env:"GORELAY_PING_TIMEOUT" validate:"gte=0"`
	WriteTimeout         time.Duration `yaml:"write_timeout" toml:"write_timeout" env:"GORELAY_WRITE_TIMEOUT" validate:"gte=0"`
	RegistrationTimeout  time.Duration `yaml:"registration_timeout" toml:"registration_timeout" env:"GORELAY_REGISTRATION_TIMEOUT" validate:"gte=0"`
}

type AdminConfig struct {
	// Listen is the admin HTTP API address. Empty disables the API.
	Listen        string           `yaml:"listen" toml:"listen" env:"GORELAY_ADMIN_LISTEN"`
	Console       bool             `yaml:"console" toml:"console" env:"GORELAY_ADMIN_CONSOLE"`
	Operators     []model.Operator `yaml:"operators" toml:"operators" validate:"dive"`
	ShutdownGrace time.Duration    `yaml:"shutdown_grace" toml:"shutdown_grace" env:"GORELAY_SHUTDOWN_GRACE" validate:"gte=0"`
}

type StorageConfig struct {
	// Database is the SQLite ban database. Empty keeps bans in memory only.
	Database   string `yaml:"database" toml:"database" env:"GORELAY_DATABASE"`
	AuditLog   string `yaml:"audit_log" toml:"audit_log" env:"GORELAY_AUDIT_LOG"`
	AuditQueue int    `yaml:"audit_queue" toml:"audit_queue" env:"GORELAY_AUDIT_QUEUE" validate:"gte=0"`
}

// ChannelConfig is a channel created at startup.
type ChannelConfig struct {
	Name  string `yaml:"name" toml:"name" validate:"required"`
	Topic string `yaml:"topic,omitempty" toml:"topic"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"GORELAY_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"GORELAY_LOG_FORMAT" validate:"omitempty,oneof=text json"`
}

// Default returns a config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:          "irc.gorelay.local",
			Network:       "gorelay",
			Listen:        ":6667",
			WebSocketPath: "/irc",
			DataDir:       ".",
			MOTD:          "Welcome to gorelay.\nBe excellent to each other.",
		},
		Limits: LimitsConfig{
			MaxNickLength:        model.DefaultMaxNickLength,
			MaxChannelNameLength: model.DefaultMaxChannelNameLen,
			MaxLineLength:        512,
			SendQueue:            256,
			FloodRate:            5,
			FloodBurst:           10,
			PingInterval:         90 * time.Second,
			PingTimeout:          60 * time.Second,
			WriteTimeout:         10 * time.Second,
			RegistrationTimeout:  60 * time.Second,
		},
		Admin: AdminConfig{
			Listen:        "127.0.0.1:6680",
			ShutdownGrace: 5 * time.Second,
		},
		Storage: StorageConfig{
			Database:   "gorelay.db",
			AuditLog:   "audit.log",
			AuditQueue: logging.DefaultAuditQueue,
		},
		Channels: []ChannelConfig{
			{Name: "#main"},
			{Name: "#general"},
			{Name: "#help"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the optional file at path and the
// environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
		if err != nil {
			return nil, fmt.Errorf("config: read: %w", err)
		}
		if err := Decode(&cfg, data, filepath.Ext(path)); err != nil {
			return nil, err
		}
	}
	ApplyEnv(&cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode merges data into cfg. ext selects the format: ".toml" is TOML,
// anything else is YAML.
func Decode(cfg *Config, data []byte, ext string) error {
	var err error
	switch strings.ToLower(ext) {
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("config: parse: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints plus the rules that need domain code.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := logging.Validate(c.Log.Level); err != nil {
		return fmt.Errorf("config: log: %w", err)
	}
	var errs []error
	if strings.ContainsAny(c.Server.Name, " \t") {
		errs = append(errs, fmt.Errorf("server name %q contains whitespace", c.Server.Name))
	}
	for _, ch := range c.Channels {
		name := model.NormalizeChannelName(ch.Name)
		if err := model.ValidateChannelName(name, c.Limits.MaxChannelNameLength); err != nil {
			errs = append(errs, fmt.Errorf("channel %q: %w", ch.Name, err))
		}
	}
	seen := make(map[string]bool, len(c.Admin.Operators))
	for _, op := range c.Admin.Operators {
		if seen[op.Name] {
			errs = append(errs, fmt.Errorf("operator %q defined twice", op.Name))
		}
		seen[op.Name] = true
		if !op.Role.Valid() {
			errs = append(errs, fmt.Errorf("operator %q: %w", op.Name, model.ErrInvalidRole))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields carrying an `env` tag with values returned by
// lookup. Unparseable values are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	applyEnvRecursive(reflect.ValueOf(cfg).Elem(), lookup)
}

var durationType = reflect.TypeOf(time.Duration(0))

func applyEnvRecursive(v reflect.Value, lookup func(string) (string, bool)) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if field.PkgPath != "" {
			continue
		}
		if name := field.Tag.Get("env"); name != "" {
			if raw, ok := lookup(name); ok {
				setFromEnv(fv, strings.TrimSpace(raw))
			}
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			applyEnvRecursive(fv, lookup)
		}
	}
}

func setFromEnv(fv reflect.Value, raw string) {
	if fv.Type() == durationType {
		if d, err := time.ParseDuration(raw); err == nil {
			fv.SetInt(int64(d))
		}
		return
	}
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)
	case reflect.Int, reflect.Int64:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			fv.SetInt(n)
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			fv.SetFloat(f)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(raw); err == nil {
			fv.SetBool(b)
		}
	}
}
