package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/cileserver/internal/logging"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultPort           = 9090
	DefaultRoot           = "local/share"
	DefaultBufferSize     = 4096
	DefaultTimeout        = "30s"
	DefaultIdleTimeout    = "5m"
	DefaultMaxConnections = 64
	DefaultMaxDrain       = 1 << 20
	DefaultAdminAddr      = "127.0.0.1:9091"
	DefaultLogLevel       = "info"

	minBufferSize = 16
)

// ServerConfig is the cileserver file format. Durations are Go duration
// strings; AdminAddr empty disables the admin HTTP surface and AdminToken
// empty leaves it open.
type ServerConfig struct {
	Port           int    `toml:"port"`
	Root           string `toml:"root"`
	BufferSize     int    `toml:"buffer_size"`
	ReadTimeout    string `toml:"read_timeout"`
	WriteTimeout   string `toml:"write_timeout"`
	IdleTimeout    string `toml:"idle_timeout"`
	MaxConnections int    `toml:"max_connections"`
	MaxDrain       int64  `toml:"max_drain"`
	AdminAddr      string `toml:"admin_addr"`
	AdminToken     string `toml:"admin_token"`
	LogLevel       string `toml:"log_level"`
}

// DefaultServerConfig is what the server runs with when no file exists.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           DefaultPort,
		Root:           DefaultRoot,
		BufferSize:     DefaultBufferSize,
		ReadTimeout:    DefaultTimeout,
		WriteTimeout:   DefaultTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		MaxConnections: DefaultMaxConnections,
		MaxDrain:       DefaultMaxDrain,
		AdminAddr:      DefaultAdminAddr,
		LogLevel:       DefaultLogLevel,
	}
}

// LoadServerConfig reads path over the defaults and validates the result.
// Keys missing from the file keep their default; admin_addr = "" is honored.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	cfg.Root = strings.TrimSpace(cfg.Root)
	cfg.LogLevel = strings.TrimSpace(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("server config port out of range: %d", cfg.Port)
	}
	if cfg.Root == "" {
		return fmt.Errorf("server config missing root")
	}
	if cfg.BufferSize < minBufferSize {
		return fmt.Errorf("server config buffer_size must be >= %d: %d", minBufferSize, cfg.BufferSize)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("server config max_connections must be positive: %d", cfg.MaxConnections)
	}
	if cfg.MaxDrain <= 0 {
		return fmt.Errorf("server config max_drain must be positive: %d", cfg.MaxDrain)
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("server config log_level unknown: %q", cfg.LogLevel)
	}
	if _, _, _, err := cfg.Timeouts(); err != nil {
		return err
	}
	return nil
}

// Timeouts returns the parsed read, write and idle timeouts. Zero disables
// one. Idle bounds the wait for the first byte of the next request.
func (c ServerConfig) Timeouts() (read, write, idle time.Duration, err error) {
	if read, err = parseTimeout("read_timeout", c.ReadTimeout); err != nil {
		return 0, 0, 0, err
	}
	if write, err = parseTimeout("write_timeout", c.WriteTimeout); err != nil {
		return 0, 0, 0, err
	}
	if idle, err = parseTimeout("idle_timeout", c.IdleTimeout); err != nil {
		return 0, 0, 0, err
	}
	return read, write, idle, nil
}

// Addr is the protocol listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func parseTimeout(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("server config %s invalid: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("server config %s must not be negative: %s", key, raw)
	}
	return d, nil
}
