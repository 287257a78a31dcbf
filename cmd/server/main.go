package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"eventvax.app/relay/common/id"
	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/common/otel"
	"eventvax.app/relay/core/config"
	"eventvax.app/relay/core/db"
	"eventvax.app/relay/internal/http/handler"
	"eventvax.app/relay/internal/http/middleware"
	httprouter "eventvax.app/relay/internal/http/router"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/service"
	"eventvax.app/relay/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		// slog is not configured until OTel is up
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "poap intake api starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.SnowflakeNode); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	if cfg.DBAutoMigrate {
		if err := database.Migrate(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	checks := map[string]handler.Pinger{"database": database}

	var (
		redisClient *redis.Client
		publisher   = queue.NewNoopStatusPublisher()
	)
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		slog.InfoContext(ctx, "redis connected", "status_stream", cfg.Redis.StatusStream)

		publisher = queue.NewRedisStatusPublisher(redisClient, cfg.Redis.StatusStream, slog.Default())
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	} else {
		slog.InfoContext(ctx, "redis disabled, status streaming is off")
	}

	stores := store.NewStores(database.Queries())

	services := service.NewServices(service.ServicesConfig{
		Stores:    stores,
		TxRunner:  service.NewTxRunner(database),
		Publisher: publisher,
		Logger:    slog.Default(),
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services, httprouter.RouterConfig{
		Health:       handler.NewHealthHandler(checks),
		StatusStream: handler.NewStatusStreamHandler(redisClient, cfg.Redis.StatusStream),
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No write timeout: the status stream holds connections open.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, services *service.Services, routes httprouter.RouterConfig) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(cfg.TraceHeaderKey))

	httprouter.SetupRoutes(router, services, routes)

	return router
}

const banner = `
██████╗  ██████╗  █████╗ ██████╗     ██╗███╗   ██╗████████╗ █████╗ ██╗  ██╗███████╗
██╔══██╗██╔═══██╗██╔══██╗██╔══██╗    ██║████╗  ██║╚══██╔══╝██╔══██╗██║ ██╔╝██╔════╝
██████╔╝██║   ██║███████║██████╔╝    ██║██╔██╗ ██║   ██║   ███████║█████╔╝ █████╗
██╔═══╝ ██║   ██║██╔══██║██╔═══╝     ██║██║╚██╗██║   ██║   ██╔══██║██╔═██╗ ██╔══╝
██║     ╚██████╔╝██║  ██║██║         ██║██║ ╚████║   ██║   ██║  ██║██║  ██╗███████╗
╚═╝      ╚═════╝ ╚═╝  ╚═╝╚═╝         ╚═╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝
`
