package main

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/cileserver/internal/protocol/session"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 9090
)

type clientConfig struct {
	Host    string
	Port    int
	Session session.Config
}

type fileConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	BufferSize      int    `toml:"buffer_size"`
	Timeout         string `toml:"timeout"`
	ConnectAttempts int    `toml:"connect_attempts"`
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Host:    defaultHost,
		Port:    defaultPort,
		Session: session.DefaultConfig(),
	}
}

func (c clientConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// loadClientConfig applies the keys present in path over the defaults.
func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("host") {
		if host := strings.TrimSpace(raw.Host); host != "" {
			cfg.Host = host
		}
	}

	if meta.IsDefined("port") {
		if raw.Port <= 0 || raw.Port > 65535 {
			return clientConfig{}, fmt.Errorf("port out of range: %d", raw.Port)
		}
		cfg.Port = raw.Port
	}

	if meta.IsDefined("buffer_size") {
		if raw.BufferSize < session.MinBufferSize {
			return clientConfig{}, fmt.Errorf("buffer_size must be >= %d: %d", session.MinBufferSize, raw.BufferSize)
		}
		cfg.Session.BufferSize = raw.BufferSize
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Session.ReadTimeout = d
		cfg.Session.WriteTimeout = d
		cfg.Session.ConnectTimeout = d
	}

	if meta.IsDefined("connect_attempts") {
		cfg.Session.ConnectAttempts = raw.ConnectAttempts
	}

	return cfg, nil
}
