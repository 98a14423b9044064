package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/datapulse/datapulse/internal/broker"
	"github.com/datapulse/datapulse/internal/config"
	"github.com/datapulse/datapulse/internal/dashboard"
	"github.com/datapulse/datapulse/internal/db"
	"github.com/datapulse/datapulse/internal/export"
	"github.com/datapulse/datapulse/internal/inference"
	"github.com/datapulse/datapulse/internal/logging"
	"github.com/datapulse/datapulse/internal/query"
	"github.com/datapulse/datapulse/internal/registry"
	"github.com/datapulse/datapulse/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.RunMigrations(conn, cfg.MigrationsPath); err != nil {
		return err
	}

	reg, err := registry.New(ctx, conn)
	if err != nil {
		return err
	}

	inf := inference.New(inference.Options{
		ChunkSize:              cfg.ChunkSize,
		ExactDistinctThreshold: cfg.ExactDistinctThreshold,
		MostCommonValues:       cfg.MostCommonValues,
		SkipMalformed:          cfg.SkipMalformed,
	})

	engine := query.New(conn, reg, query.Options{
		Timeout:   cfg.QueryTimeout,
		CacheTTL:  cfg.CacheTTL,
		CacheSize: cfg.CacheSize,
	})
	reg.Watch(engine)

	hub := broker.New(engine, reg, broker.Options{OutboundQueueSize: cfg.OutboundQueueSize})
	reg.Watch(hub)

	dashboards := dashboard.New(conn, reg)
	exporter := export.New(conn, reg)

	srv := server.New(cfg, reg, inf, engine, hub, dashboards, exporter)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr())
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	slog.Info("server stopped")
	return nil
}
