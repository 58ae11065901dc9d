package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch reloads the server config whenever path changes and hands each valid
// result to onChange. Invalid edits are logged and skipped. The parent
// directory is watched so editors that replace the file are still seen.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func(ServerConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch failed (%s): %w", path, err)
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("config watch failed (%s): %w", path, err)
	}
	log.Debug().Str("path", target).Msg("config.Watch started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadServerConfig(target)
			if err != nil {
				log.Warn().Err(err).Str("path", target).Msg("config.Watch reload rejected")
				continue
			}
			log.Info().Str("path", target).Msg("config.Watch reloaded")
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config.Watch error")
		}
	}
}
