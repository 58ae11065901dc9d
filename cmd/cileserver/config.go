package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/cileserver/internal/config"
	"github.com/danmuck/cileserver/internal/protocol/session"
	"github.com/danmuck/cileserver/internal/server"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "config/cileserver.toml"

// loadConfig reads path. A missing file at the default path falls back to
// built-in defaults; a missing file the operator named is an error.
func loadConfig(path string, explicit bool) (config.ServerConfig, bool, error) {
	cfg, err := config.LoadServerConfig(path)
	if err == nil {
		return cfg, true, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", path).Msg("cileserver config not found, using defaults")
		return config.DefaultServerConfig(), false, nil
	}
	return config.ServerConfig{}, false, err
}

func serverConfig(cfg config.ServerConfig) (server.Config, error) {
	read, write, idle, err := cfg.Timeouts()
	if err != nil {
		return server.Config{}, fmt.Errorf("timeouts: %w", err)
	}
	sess := session.DefaultConfig()
	sess.BufferSize = cfg.BufferSize
	sess.ReadTimeout = read
	sess.WriteTimeout = write
	sess.IdleTimeout = idle
	sess.MaxDrain = cfg.MaxDrain
	return server.Config{
		Session:        sess,
		MaxConnections: cfg.MaxConnections,
	}, nil
}
