package app

import (
	"context"
	"errors"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"queuewatch/internal/config"
	"queuewatch/internal/server"
	"queuewatch/pkg/logging"
)

// shutdownTimeout bounds the HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// Run starts the metrics server, the config watcher and the supervisor and
// blocks until ctx is cancelled.
//
// Behavior:
//   - Serves /metrics, /health and /status when metrics are enabled
//   - Reloads the engine tunables when the config file changes
//   - Notifies systemd (READY=1, STOPPING=1) when run under a unit with
//     Type=notify; outside systemd the notifications are no-ops
func (a *Application) Run(ctx context.Context) error {
	s := a.services
	if len(s.Monitors) == 0 {
		return errors.New("no partitions configured")
	}

	var httpServer *server.HTTPServer
	if s.Config.Metrics.Enabled {
		httpServer = server.NewHTTPServer(s.Config.Metrics.ListenAddress, s.Registry, s.Status)
		if err := httpServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logging.Warn("App", "HTTP server shutdown: %v", err)
			}
		}()
	}

	if watcher := a.startWatcher(); watcher != nil {
		defer watcher.Stop()
	}

	notify(daemon.SdNotifyReady)
	logging.Info("App", "queuewatch running with %d monitors. Press Ctrl+C to stop.", len(s.Monitors))

	err := s.Supervisor.Run(ctx)

	notify(daemon.SdNotifyStopping)
	logging.Info("App", "Shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// startWatcher watches the config file for tunable changes. Failures only
// disable hot reload.
func (a *Application) startWatcher() *config.Watcher {
	path := a.config.ConfigPath
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return nil
		}
		path = defaultPath
	}

	watcher, err := config.NewWatcher(config.WatcherConfig{
		Path:     path,
		Lookup:   a.lookup,
		OnChange: a.services.ApplyConfig,
	})
	if err != nil {
		logging.Warn("App", "Config hot reload disabled: %v", err)
		return nil
	}
	if err := watcher.Start(); err != nil {
		logging.Warn("App", "Config hot reload disabled: %v", err)
		return nil
	}
	return watcher
}

func notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Debug("App", "sd_notify %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("App", "sd_notify %q sent", state)
	}
}
