package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahmethakanbesel/histdata/internal/config"
	"github.com/ahmethakanbesel/histdata/internal/persist"
	"github.com/ahmethakanbesel/histdata/internal/platform/sqlite"
	runrepo "github.com/ahmethakanbesel/histdata/internal/repository/run"
	"github.com/ahmethakanbesel/histdata/internal/run"
	"github.com/ahmethakanbesel/histdata/internal/server"
)

func serveCmd(args []string, stderr io.Writer) error {
	s := newSettings("serve", stderr)
	bind(s, "port", "p", s.fs.StringVarP, func(c *config.Config) *string { return &c.Port }, "HTTP listen port")
	bind(s, "run-concurrency", "", s.fs.IntVarP, func(c *config.Config) *int { return &c.RunConcurrency }, "runs executed at the same time")

	cfg, err := s.load(args)
	if err != nil {
		return err
	}
	slog.SetDefault(newLogger(stderr, cfg.LogLevel, cfg.LogFormat))

	pipe, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	format, err := persist.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}

	// Root context: cancelled on SIGINT/SIGTERM so in-flight runs stop
	// promptly during graceful shutdown.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		return err
	}
	defer func() { _ = db.Close() }()

	runRepo := runrepo.NewRepository(db.DB)
	runSvc := run.NewService(runRepo, pipe, run.WithDefaults(format, cfg.Output.Destination))

	// Worker pool: picks up pending runs in the background
	pool := run.NewWorkerPool(runRepo, runSvc, cfg.RunConcurrency, run.WithPoolLogger(slog.Default().With("component", "runs")))
	runSvc.SetNotify(pool.Notify)
	poolDone := make(chan struct{})
	go func() {
		pool.Run(rootCtx)
		close(poolDone)
	}()

	// Re-queue runs interrupted by a previous shutdown.
	if err := runSvc.RecoverStaleRuns(rootCtx); err != nil {
		slog.Error("failed to recover stale runs", "error", err)
	}
	pool.Notify()

	srv := server.New(rootCtx, cfg.Port, pipe.Catalog(), runSvc)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("server started", "port", cfg.Port, "mode", cfg.Session.Mode, "workers", cfg.Workers)

	var startErr error
	select {
	case <-rootCtx.Done():
	case startErr = <-serveErr:
		slog.Error("server error", "error", startErr)
	}

	// Cancel the root context first so in-flight runs begin winding down.
	stop()
	<-poolDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("server stopped")
	return startErr
}
