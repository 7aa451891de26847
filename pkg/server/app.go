package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"AstroCal/pkg/config"
	xhttp "AstroCal/pkg/http"
	applogger "AstroCal/pkg/logger"
)

// Worker is a background component with a non-blocking Start, such as the
// Kafka consumer or the Redis job queue.
type Worker interface {
	Start() error
	Stop(ctx context.Context) error
}

type namedCloser struct {
	name string
	c    io.Closer
}

// App encapsulates the application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	httpServer *xhttp.Server
	workers    []Worker
	closers    []namedCloser
}

func New(cfg *config.Config, l *applogger.Logger, srv *xhttp.Server) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, httpServer: srv}
}

// AddWorker registers a worker started with the app and stopped before closers run.
func (a *App) AddWorker(w Worker) { a.workers = append(a.workers, w) }

// AddCloser registers a resource closed on shutdown, in registration order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, namedCloser{name: name, c: c})
	}
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext starts the application and blocks until ctx is done.
func (a *App) RunContext(ctx context.Context) error {
	for i, w := range a.workers {
		if err := w.Start(); err != nil {
			a.l.Error("worker start error", applogger.Error(err))
			_ = a.shutdown(a.workers[:i])
			return fmt.Errorf("start worker: %w", err)
		}
	}
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.l.Error("http server start error", applogger.Error(err))
			_ = a.shutdown(a.workers)
			return err
		}
	}
	a.l.Info("astrocal started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("storage", a.cfg.Storage.Type),
		applogger.Bool("kafka", a.cfg.Kafka.Enabled),
		applogger.Bool("queue", a.cfg.Queue.Enabled),
	)

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.shutdown(a.workers)
}

// shutdown stops the HTTP server and workers, flushes the log collector,
// then closes resources.
func (a *App) shutdown(workers []Worker) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	for _, w := range workers {
		if err := w.Stop(ctx); err != nil {
			a.l.Warn("worker stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.RemoveCollector()
	for _, nc := range a.closers {
		if err := nc.c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", nc.name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", nc.name, err))
		}
	}
	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
