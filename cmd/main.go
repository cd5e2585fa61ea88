package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"merch-store/internal/api"
	"merch-store/internal/config"
	"merch-store/internal/db"
	"merch-store/internal/logger"
	"merch-store/internal/middleware"
	"merch-store/internal/service"
	"merch-store/pkg"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(zapLogger)
	appLogger := pkg.NewZapLogger(zapLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to open store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	catalogService := service.NewCatalogService(store, appLogger)
	items := service.DefaultCatalog
	if cfg.CatalogFile != "" {
		items, err = service.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			appLogger.Error("Failed to load catalog", zap.String("file", cfg.CatalogFile), zap.Error(err))
			os.Exit(1)
		}
	}
	if _, err := catalogService.Bootstrap(ctx, items); err != nil {
		appLogger.Error("Failed to bootstrap catalog", zap.Error(err))
		os.Exit(1)
	}

	authService := service.NewAuthService(store, appLogger, cfg.JWTSecret, cfg.TokenTTL, service.WithHashCost(cfg.BcryptCost))
	handlers := &api.Handlers{
		AuthService:   authService,
		LedgerService: service.NewLedgerService(store, appLogger),
		QueryService:  service.NewQueryService(store, appLogger),
		Logger:        appLogger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(handlers, api.RouterConfig{
		Auth:           authService,
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, appLogger),
		RequestTimeout: cfg.RequestTimeout,
		AccessLog:      zapLogger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", zap.String("port", cfg.ServerPort), zap.String("storage", cfg.Storage))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("Failed to run server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log pkg.Logger) (db.Store, error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("Using in-memory storage; data is lost on exit")
		return db.NewMemory(), nil
	}

	dbConn, err := db.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, dbConn); err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	retry := db.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.TxMaxRetries
	return db.NewPostgres(dbConn, retry), nil
}
