// Package config loads the settings for a virtual CAN controller and its
// backend connection from YAML or TOML files.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tinyrange/vcan/internal/channel"
	"github.com/tinyrange/vcan/internal/devices/vcan"
)

// Config is the top-level configuration file.
type Config struct {
	Device  DeviceConfig  `yaml:"device" toml:"device"`
	Backend BackendConfig `yaml:"backend" toml:"backend"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Trace   TraceConfig   `yaml:"trace" toml:"trace"`
}

// DeviceConfig selects the device type and where it is mapped.
type DeviceConfig struct {
	Type string `yaml:"type" toml:"type"`
	Name string `yaml:"name" toml:"name"`
	Base uint64 `yaml:"base" toml:"base"`
}

// BackendConfig describes how to reach the backend process.
type BackendConfig struct {
	Network      string   `yaml:"network" toml:"network"` // unix, tcp or serial
	Address      string   `yaml:"address" toml:"address"`
	Baud         int      `yaml:"baud" toml:"baud"`
	ReadTimeout  Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout" toml:"write_timeout"`
	DialAttempts uint     `yaml:"dial_attempts" toml:"dial_attempts"`
	DialDelay    Duration `yaml:"dial_delay" toml:"dial_delay"`

	// LogTraffic logs every channel transfer at debug level.
	LogTraffic bool `yaml:"log_traffic" toml:"log_traffic"`
}

// LogConfig controls diagnostics output.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// TraceConfig enables access tracing.
type TraceConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Duration wraps time.Duration for YAML and TOML unmarshaling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Device: DeviceConfig{
			Type: vcan.TypeName,
			Name: "can1",
			Base: vcan.DefaultBase,
		},
		Backend: BackendConfig{
			Network:      "unix",
			Address:      filepath.Join(os.TempDir(), "vcan-backend.sock"),
			Baud:         115200,
			DialAttempts: 50,
			DialDelay:    Duration(100 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path on top of Default. Files ending in .toml are parsed as
// TOML, everything else as YAML.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.Device.Type == "" {
		return fmt.Errorf("device.type is empty")
	}
	if c.Device.Base > 0xffff_ffff {
		return fmt.Errorf("device.base 0x%x does not fit a 32-bit bus", c.Device.Base)
	}
	switch c.Backend.Network {
	case "unix", "tcp", "tcp4", "tcp6", "serial":
	default:
		return fmt.Errorf("backend.network %q is not supported", c.Backend.Network)
	}
	if c.Backend.Address == "" {
		return fmt.Errorf("backend.address is empty")
	}
	if c.Backend.ReadTimeout < 0 || c.Backend.WriteTimeout < 0 {
		return fmt.Errorf("backend timeouts must not be negative")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not supported", c.Log.Format)
	}
	return nil
}

// DialConfig converts the backend settings for channel.Connect.
func (b BackendConfig) DialConfig(logger *slog.Logger) channel.DialConfig {
	return channel.DialConfig{
		Options: channel.Options{
			ReadTimeout:  b.ReadTimeout.Duration(),
			WriteTimeout: b.WriteTimeout.Duration(),
		},
		Attempts: b.DialAttempts,
		Delay:    b.DialDelay.Duration(),
		Baud:     b.Baud,
		Logger:   logger,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log.level %q is not supported", s)
}

// NewLogger builds the logger described by c.
func NewLogger(w io.Writer, c LogConfig) *slog.Logger {
	level, err := ParseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
