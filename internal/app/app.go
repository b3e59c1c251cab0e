// Package app is the composition root: it builds the collaborators from
// config, wires the synchronizer and coordinator together, and serves the
// debug endpoint until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"mortalpath/client/internal/api"
	"mortalpath/client/internal/archive"
	"mortalpath/client/internal/coordinator"
	"mortalpath/client/internal/gateway"
	"mortalpath/client/internal/telemetry"
	"mortalpath/client/internal/world"
)

// logNotifier surfaces auxiliary server notifications on the operational
// log; a headless client has no UI to raise them in.
type logNotifier struct {
	logger telemetry.Logger
}

func (n logNotifier) ConfigRequired(message string) {
	n.logger.Printf("server requires configuration: %s", message)
}

func (n logNotifier) Toast(message string) {
	n.logger.Printf("server notice: %s", message)
}

func (n logNotifier) LocaleChanged(locale string) {
	n.logger.Printf("server locale changed to %s", locale)
}

// Run wires the client and blocks until ctx is cancelled or the debug
// server fails.
func Run(ctx context.Context, cfg Config, logger telemetry.Logger) error {
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}
	counters := telemetry.NewCounters()

	client := api.New(api.Config{BaseURL: cfg.ServerURL})

	var store *archive.Store
	if cfg.ArchivePath != "" {
		opened, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			return fmt.Errorf("open event archive: %w", err)
		}
		store = opened
		defer func() {
			if cerr := store.Close(); cerr != nil {
				logger.Printf("failed to close event archive: %v", cerr)
			}
		}()
	}

	syncCfg := world.SynchronizerConfig{
		State:     client,
		Maps:      client,
		Events:    client,
		Phenomena: client,
		Logger:    logger,
		Metrics:   counters,
		PageSize:  cfg.EventPageSize,
	}
	if store != nil {
		syncCfg.Sink = store
	}
	sync := world.NewSynchronizer(syncCfg)

	channel := gateway.New(gateway.Config{
		URL:       cfg.SocketURL,
		BaseDelay: cfg.ReconnectBase,
		MaxDelay:  cfg.ReconnectMax,
		Reconnect: true,
		Logger:    logger,
		Metrics:   counters,
	})

	coord := coordinator.New(coordinator.Config{
		Channel:  channel,
		Sync:     sync,
		Notifier: logNotifier{logger: logger},
		Logger:   logger,
		Metrics:  counters,
	})

	coord.Init(ctx)
	defer coord.Disconnect()

	go sync.Initialize(ctx)

	srv := &http.Server{
		Addr:    cfg.DebugAddr,
		Handler: newDebugRouter(sync, coord, counters, store),
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("debug endpoint listening on %s", cfg.DebugAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("debug server shutdown: %v", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("debug server failed: %w", err)
	}
}
