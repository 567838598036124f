package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TrackDeal/cache"
	"TrackDeal/config"
	"TrackDeal/core/auth"
	"TrackDeal/core/deal"
	"TrackDeal/db"
	"TrackDeal/logger"
	"TrackDeal/repository"
	"TrackDeal/storage"

	"github.com/gorilla/mux"
)

// NewRouter builds the HTTP surface over an engine. allowedOrigins lists
// the cross-site origins that may open the deal event stream.
func NewRouter(engine *deal.Engine, resolver auth.Resolver, hub *EventHub, allowedOrigins []string) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(accessLogMiddleware)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "subscribers": hub.Subscribers()})
	}).Methods(http.MethodGet)

	RegisterDealRoutes(router, NewDealHandler(engine, resolver, hub, allowedOrigins), AuthMiddleware(resolver))
	return router
}

// BuildEngine wires the engine's storage, locking and template
// dependencies from config. The returned cleanup closes what it opened.
func BuildEngine(ctx context.Context, cfg *config.Config, notifier deal.Notifier) (*deal.Engine, func(), error) {
	gdb, err := db.ConnectGormDB(cfg)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(gdb); err != nil {
			logger.Warn("failed to close database", logger.ErrorField(err))
		}
	}
	if err := db.AutoMigrate(gdb); err != nil {
		cleanup()
		return nil, nil, err
	}

	blobs, err := storage.NewMinioStore(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize MinIO: %w", err)
	}

	var locker cache.Locker = cache.NewLocalLocker()
	if cfg.RedisEnabled {
		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		locker = cache.NewRedisLocker(client)
		dbCleanup := cleanup
		cleanup = func() {
			_ = client.Close()
			dbCleanup()
		}
		logger.Info("Successfully connected to Redis")
	} else {
		logger.Warn("Redis disabled, contract signing locks are process-local")
	}

	templates, err := deal.NewTemplateStore(cfg.ContractTemplatePath)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.ContractTemplatePath != "" {
		if err := templates.Watch(ctx); err != nil {
			logger.Warn("template hot reload disabled", logger.ErrorField(err))
		}
	}

	opts := []deal.Option{
		deal.WithTemplates(templates),
		deal.WithSigningSecret(cfg.SigningSecret),
		deal.WithRetryLimit(cfg.VersionRetryLimit),
		deal.WithLockTTL(cfg.SignLockTTL),
		deal.WithDownloadURLTTL(cfg.DownloadURLTTL),
	}
	if notifier != nil {
		opts = append(opts, deal.WithNotifier(notifier))
	}
	engine, err := deal.New(repository.NewStore(gdb), blobs, locker, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return engine, cleanup, nil
}

// Start initializes and runs the HTTP server until SIGINT or SIGTERM.
func Start(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewEventHub()
	go hub.Run()
	defer hub.Stop()

	engine, cleanup, err := BuildEngine(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer cleanup()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(engine, auth.NewJWTResolver(cfg.JWTSecret), hub, cfg.AllowedOrigins),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Shutting down server...")

	// 5秒超时优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
