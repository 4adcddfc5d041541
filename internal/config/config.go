// Package config handles configuration parsing for sdb.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/acolita/sdb/internal/ports"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the first port tried for sessions and the port discovery datagrams are sent to.
const DefaultPort = 6899

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/sdb/config.yaml or ~/.config/sdb/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "sdb", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Display   DisplayConfig   `yaml:"display"`
	Client    ClientConfig    `yaml:"client"`
	Engine    EngineConfig    `yaml:"engine"`
	Recording RecordingConfig `yaml:"recording"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines where debug sessions listen and where they are announced.
type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	SearchLimit int    `yaml:"search_limit"` // ports tried after Port
	NotifyHost  string `yaml:"notify_host"`  // receives the UDP discovery datagram
	Notify      bool   `yaml:"notify"`
	WorkerID    string `yaml:"worker_id"` // e.g. "gw3"; the trailing number skews the port search
}

// DisplayConfig defines how command output is rendered.
type DisplayConfig struct {
	ContextLines int    `yaml:"context_lines"`
	Colorize     bool   `yaml:"colorize"`
	Style        string `yaml:"style"` // chroma style name
}

// ClientConfig defines terminal client settings.
type ClientConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	HistorySize    int           `yaml:"history_size"`
	Prompt         string        `yaml:"prompt"`
}

// EngineConfig defines how the debuggee is launched.
type EngineConfig struct {
	DlvPath    string `yaml:"dlv_path"`
	BuildFlags string `yaml:"build_flags"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // strip terminal control sequences from logged values
}

// RecordingConfig defines session transcript recording settings.
type RecordingConfig struct {
	Enabled bool   `yaml:"enabled"` // enable session recording
	Path    string `yaml:"path"`    // directory to store recordings
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        DefaultPort,
			SearchLimit: 100,
			NotifyHost:  "127.0.0.1",
			Notify:      true,
		},
		Display: DisplayConfig{
			ContextLines: 60,
			Colorize:     true,
			Style:        "friendly",
		},
		Client: ClientConfig{
			ConnectTimeout: 2 * time.Second,
			HistorySize:    500,
			Prompt:         "(sdb) ",
		},
		Engine: EngineConfig{
			DlvPath: "dlv",
		},
		Logging: LoggingConfig{
			Level:    "warn",
			Sanitize: true,
		},
	}
}

// Load loads configuration from a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
// A missing file yields the defaults.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides configuration from SDB_* environment variables.
// lookup is usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SDB_HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("SDB_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SDB_PORT: invalid port %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SDB_NOTIFY_HOST"); ok && v != "" {
		c.Server.NotifyHost = v
	}
	if v, ok := lookup("SDB_WORKER_ID"); ok {
		c.Server.WorkerID = v
	}
	if v, ok := lookup("SDB_CONTEXT_LINES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SDB_CONTEXT_LINES: invalid line count %q: %w", v, err)
		}
		c.Display.ContextLines = n
	}
	if v, ok := lookup("SDB_COLORIZE"); ok && v != "" {
		on, err := parseToggle(v)
		if err != nil {
			return fmt.Errorf("SDB_COLORIZE: %w", err)
		}
		c.Display.Colorize = on
	}
	return nil
}

func parseToggle(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "on":
		return true, nil
	case "0", "f", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid toggle %q", v)
}

// Validate validates the configuration, filling in defaults for zero values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.SearchLimit <= 0 {
		c.Server.SearchLimit = 100
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Display.ContextLines < 0 {
		return fmt.Errorf("display.context_lines %d must not be negative", c.Display.ContextLines)
	}
	if c.Display.ContextLines == 0 {
		c.Display.ContextLines = 60
	}
	if c.Display.Style == "" {
		c.Display.Style = "friendly"
	}
	if c.Client.ConnectTimeout <= 0 {
		c.Client.ConnectTimeout = 2 * time.Second
	}
	if c.Client.HistorySize <= 0 {
		c.Client.HistorySize = 500
	}
	if c.Engine.DlvPath == "" {
		c.Engine.DlvPath = "dlv"
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a logging.level value to a slog.Level. An empty value means warn.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("logging.level %q: want debug, info, warn or error", level)
}

// Write encodes the configuration as YAML to w.
func Write(w io.Writer, cfg *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// Save writes the configuration to a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Save(cfg *Config, path string, fsys ...ports.FileSystem) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if len(fsys) > 0 && fsys[0] != nil {
		return fsys[0].WriteFile(path, data, 0644)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
