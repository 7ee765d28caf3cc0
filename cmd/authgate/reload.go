package main

import (
	"context"

	"github.com/gale320/authgate/internal/config"
	"github.com/gale320/authgate/internal/observability"
)

// startConfigWatcher begins watching the configuration file and applies
// reloadable settings to the running server. Listener and backend changes
// still require a restart.
func startConfigWatcher(ctx context.Context, path string, app *application, logger observability.Logger) (*config.Watcher, error) {
	watcher, err := config.NewWatcher(path,
		func(cfg *config.Config) {
			mechanisms, err := buildMechanisms(cfg, logger)
			if err != nil {
				logger.Error("reload rejected, mechanism chain invalid",
					observability.Error(err))
				return
			}
			app.server.Reload(cfg, mechanisms)
		},
		config.WithWatcherLogger(logger),
		config.WithErrorCallback(func(err error) {
			logger.Error("configuration reload failed", observability.Error(err))
		}),
	)
	if err != nil {
		return nil, err
	}

	if err := watcher.Start(ctx); err != nil {
		return nil, err
	}

	return watcher, nil
}
