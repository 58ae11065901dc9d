package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/cileserver/internal/auth"
	"github.com/danmuck/cileserver/internal/backend"
	"github.com/danmuck/cileserver/internal/config"
	"github.com/danmuck/cileserver/internal/logging"
	"github.com/danmuck/cileserver/internal/observability"
	"github.com/danmuck/cileserver/internal/server"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const usageText = `Usage: cileserver [OPTIONS] [CONFIG_PATH]
Options:
  -p, --port PORT      Port to listen on (default: from config or %d)
  -c, --config PATH    Path to config file (default: %s)
  -h, --help           Display this help message
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cileserver", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var port int
	var configPath string
	fs.IntVar(&port, "p", 0, "")
	fs.IntVar(&port, "port", 0, "")
	fs.StringVar(&configPath, "c", defaultConfigPath, "")
	fs.StringVar(&configPath, "config", defaultConfigPath, "")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stdout, usageText, config.DefaultPort, defaultConfigPath)
			return 0
		}
		fmt.Fprintf(stderr, "cileserver: %v\n", err)
		return 1
	}
	explicit := false
	portSet := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "c", "config":
			explicit = true
		case "p", "port":
			portSet = true
		}
	})
	if rest := fs.Args(); len(rest) > 0 {
		configPath = rest[len(rest)-1]
		explicit = true
	}

	logging.ConfigureRuntime()

	cfg, fromFile, err := loadConfig(configPath, explicit)
	if err != nil {
		log.Error().Err(err).Msg("cileserver failed to load configuration")
		return 1
	}
	if portSet {
		cfg.Port = port
		if err := config.ValidateServerConfig(cfg); err != nil {
			log.Error().Err(err).Msg("cileserver invalid port")
			return 1
		}
	} else {
		log.Info().Int("port", cfg.Port).Msg("cileserver using port from configuration")
	}
	if !logging.SetLevel(cfg.LogLevel) {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("cileserver unknown log level, keeping default")
	}

	if err := serve(ctx, cfg, configPath, fromFile); err != nil {
		log.Error().Err(err).Msg("cileserver stopped with error")
		return 1
	}
	log.Info().Msg("cileserver shutdown complete")
	return 0
}

func serve(ctx context.Context, cfg config.ServerConfig, configPath string, watch bool) error {
	store, err := backend.NewOS(cfg.Root)
	if err != nil {
		return err
	}
	srvCfg, err := serverConfig(cfg)
	if err != nil {
		return err
	}
	srv := server.New(store, srvCfg)
	log.Info().Str("root", cfg.Root).Int("buffer_size", cfg.BufferSize).Msg("cileserver serving")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Addr())
	})

	if cfg.AdminAddr != "" {
		adminCfg := observability.AdminConfig{
			Name:  "cileserver",
			Stats: func() any { return srv.Stats() },
			Ready: srv.Ready,
		}
		if cfg.AdminToken != "" {
			adminCfg.Token = auth.StaticToken{Token: cfg.AdminToken}
		}
		router := observability.NewAdminRouter(adminCfg)
		g.Go(func() error {
			return observability.ServeAdmin(gctx, cfg.AdminAddr, router)
		})
	}

	if watch {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next config.ServerConfig) {
				if !logging.SetLevel(next.LogLevel) {
					log.Warn().Str("log_level", next.LogLevel).Msg("cileserver unknown log level on reload")
				}
				read, write, idle, err := next.Timeouts()
				if err != nil {
					return
				}
				srv.SetTimeouts(read, write, idle)
			})
		})
	}

	return g.Wait()
}
