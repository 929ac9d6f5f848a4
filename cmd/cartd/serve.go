package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/cart-sync/internal/adapter/handler"
	"github.com/rl1809/cart-sync/internal/adapter/storage"
	"github.com/rl1809/cart-sync/internal/config"
	"github.com/rl1809/cart-sync/internal/core/domain"
	"github.com/rl1809/cart-sync/internal/core/service"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cart engine behind a local HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&cfg.LocalStore, "local", cfg.LocalStore, "local store (sqlite|redis)")
	cmd.Flags().IntVar(&cfg.SyncWorkers, "workers", cfg.SyncWorkers, "remote sync workers")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	local, closeLocal, err := openLocalStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocal()
	logger.Info("local store ready", zap.String("kind", cfg.LocalStore))

	remote, closeRemote, err := openRemote(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRemote()
	logger.Info("remote backend ready", zap.String("kind", cfg.RemoteBackend))

	gateway := storage.NewBreakerGateway(remote, storage.BreakerSettings{
		MaxFailures: uint32(cfg.BreakerFailures),
		OpenTimeout: cfg.BreakerOpen,
	}, logger)

	engine := service.NewCartEngine(local, gateway,
		service.WithLogger(logger),
		service.WithSyncWorkers(cfg.SyncWorkers),
		service.WithSyncQueueSize(cfg.SyncQueueSize),
		service.WithRemoteTimeout(cfg.RemoteTimeout),
	)
	monitor := service.NewIdentityMonitor(engine, logger)
	monitor.Observe(ctx, domain.GuestOwner)

	stopFeed := func() {}
	if cfg.SessionChannel != "" {
		stopFeed, err = runSessionFeed(ctx, cfg, monitor, logger)
		if err != nil {
			engine.Close()
			return err
		}
	}
	coordinator := service.NewOrderCoordinator(engine, remote, logger)

	httpHandler := handler.NewHTTPHandler(engine, monitor, coordinator, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-serverErr:
		stopFeed()
		engine.Close()
		return err
	}

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	stopFeed()
	engine.Close()
	logger.Info("sync workers stopped")
	return nil
}

// runSessionFeed feeds identity events published by the auth service into the monitor.
func runSessionFeed(ctx context.Context, cfg *config.Config, monitor *service.IdentityMonitor, logger *zap.Logger) (func(), error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	feed, err := storage.NewRedisSessionFeed(ctx, rdb, cfg.SessionChannel, logger)
	if err != nil {
		rdb.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		monitor.Run(ctx, feed)
	}()
	logger.Info("listening for session events", zap.String("channel", cfg.SessionChannel))

	return func() {
		feed.Close()
		<-done
		rdb.Close()
	}, nil
}
