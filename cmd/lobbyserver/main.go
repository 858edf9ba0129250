package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/JohnImril/hellgate-ws/internal/config"
	"github.com/JohnImril/hellgate-ws/internal/directory"
	"github.com/JohnImril/hellgate-ws/internal/gateway"
	"github.com/JohnImril/hellgate-ws/internal/room"
	"github.com/JohnImril/hellgate-ws/internal/storage"
)

const ConfigPath = "config/lobbyserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config FIRST to determine log level
	cfgPath := ConfigPath
	if p := os.Getenv("HELLGATE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadLobbyServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("hellgate lobby server starting", "log_level", cfg.LogLevel)

	// Pick the directory's backing store
	var store storage.Store
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := storage.NewPostgres(ctx, cfg.Storage.Database.DSN())
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pg.Close()
		slog.Info("database connected")

		if err := storage.RunMigrations(ctx, cfg.Storage.Database.DSN()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("database migrations applied")
		store = pg
	case "memory", "":
		slog.Warn("using in-memory game directory, state is lost on restart")
		store = storage.NewMemory()
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	dir := directory.New(store)
	dirServer := directory.NewServer(cfg, dir)
	dirClient := directory.NewClient(cfg.DirectoryEndpoint)

	registry := room.NewRegistry(dirClient,
		room.WithSendQueueSize(cfg.SendQueueSize),
		room.WithWriteTimeout(cfg.WriteTimeout),
	)
	roomServer := room.NewServer(cfg, registry)
	gatewayServer := gateway.NewServer(cfg, dirClient)

	// Run all three servers in parallel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting directory server")
		if err := dirServer.Run(gctx); err != nil {
			return fmt.Errorf("directory server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting room server")
		if err := roomServer.Run(gctx); err != nil {
			return fmt.Errorf("room server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting gateway")
		if err := gatewayServer.Run(gctx); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
