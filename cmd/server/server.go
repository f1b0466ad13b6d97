package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/melody-api/internal/config"
	"github.com/phrazzld/melody-api/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

// serve builds the application, listens on the configured port and blocks
// until ctx is done and shutdown has completed.
func serve(ctx context.Context, cfg *config.Config, loader *config.Loader, log *slog.Logger) error {
	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn("ignoring invalid config change", "error", err)
			return
		}
		if err := logger.SetLevel(next.Server.LogLevel); err != nil {
			log.Warn("failed to apply log level", "level", next.Server.LogLevel, "error", err)
			return
		}
		log.Info("config reloaded", "log_level", next.Server.LogLevel)
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return errors.Join(fmt.Errorf("failed to listen on port %d: %w", cfg.Server.Port, err), app.close())
	}
	return app.Run(ctx, ln)
}

// Run starts the task runner, the progress broadcaster and the HTTP server
// on ln. When ctx is done, or any of them fails, everything is shut down in
// order: the HTTP server stops accepting requests, the runner fails the
// tasks still in flight, the broadcaster delivers their final updates and
// closes its subscriptions, and the stores are closed.
func (app *application) Run(ctx context.Context, ln net.Listener) error {
	if err := app.start(ctx); err != nil {
		_ = ln.Close()
		return errors.Join(err, app.close())
	}

	server := &http.Server{
		Handler:           app.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	castCtx, stopCast := context.WithCancel(context.Background())
	defer stopCast()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("starting server", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return app.broadcaster.Run(castCtx)
	})

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down server")
		return app.shutdown(server, stopCast)
	})

	err := g.Wait()
	if cerr := app.close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	if err != nil {
		return err
	}

	app.logger.Info("server shutdown completed")
	return nil
}

// shutdown stops the HTTP server, the runner, the broadcaster and the sweep
// within the configured timeout and aggregates their failures.
func (app *application) shutdown(server *http.Server, stopBroadcast context.CancelFunc) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	var result *multierror.Error

	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := app.runner.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("task runner shutdown: %w", err))
	}

	// Let one more tick report the tasks failed by the runner shutdown.
	select {
	case <-time.After(app.config.Task.BroadcastInterval):
	case <-ctx.Done():
	}
	stopBroadcast()

	if app.sweeper != nil {
		if err := app.sweeper.Stop(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("retention sweeper shutdown: %w", err))
		}
	}

	return result.ErrorOrNil()
}
