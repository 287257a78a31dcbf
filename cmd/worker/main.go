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
	"golang.org/x/sync/errgroup"

	"eventvax.app/relay/common/id"
	"eventvax.app/relay/common/logger"
	"eventvax.app/relay/common/otel"
	"eventvax.app/relay/core/config"
	"eventvax.app/relay/core/db"
	"eventvax.app/relay/internal/chain"
	"eventvax.app/relay/internal/http/handler"
	"eventvax.app/relay/internal/http/middleware"
	httprouter "eventvax.app/relay/internal/http/router"
	"eventvax.app/relay/internal/queue"
	"eventvax.app/relay/internal/service"
	"eventvax.app/relay/internal/store"
	"eventvax.app/relay/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "poap relayer starting",
		"env", cfg.Env,
		"chain_id", cfg.Chain.ChainID,
		"contract", cfg.Chain.ContractAddress,
		"metadata_mode", cfg.Chain.MetadataMode)

	if err := id.Init(cfg.SnowflakeNode); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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
		slog.InfoContext(ctx, "redis connected", "intake_stream", cfg.Redis.IntakeStream)

		publisher = queue.NewRedisStatusPublisher(redisClient, cfg.Redis.StatusStream, slog.Default())
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	stores := store.NewStores(database.Queries())
	requests := stores.IssuanceRequests()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runMetricsServer(gCtx, cfg, checks)
	})

	ledger, err := chain.Dial(ctx, cfg.Chain, slog.Default())
	switch {
	case errors.Is(err, chain.ErrSignerNotConfigured):
		slog.WarnContext(ctx, "RELAYER_PRIVATE_KEY not set, relayer disabled; requests will stay pending")
	case chain.IsConfigurationError(err):
		slog.ErrorContext(ctx, "invalid relayer signer configuration", "error", err)
		os.Exit(1)
	case err != nil:
		slog.ErrorContext(ctx, "failed to initialize chain client", "error", err)
		os.Exit(1)
	default:
		defer ledger.Close()
		preflight(ctx, ledger)

		processor := worker.NewProcessor(worker.ProcessorConfig{
			Chain:      ledger,
			Requests:   requests,
			Publisher:  publisher,
			Hasher:     chain.NewMetadataHasher(cfg.Chain.MetadataMode, time.Now),
			MaxRetries: cfg.Relayer.MaxRetries,
			Logger:     slog.Default(),
		})

		relayer := worker.New(requests, processor, worker.Config{
			Interval:     cfg.Relayer.Interval,
			RequestDelay: cfg.Relayer.RequestDelay,
			BatchSize:    cfg.Relayer.BatchSize,
			MaxRetries:   cfg.Relayer.MaxRetries,
		})

		reclaimer := worker.NewReclaimer(requests, processor, relayer, worker.ReclaimerConfig{
			Interval:  cfg.Relayer.ReclaimEvery,
			MinIdle:   cfg.Relayer.ReclaimMinIdle,
			BatchSize: cfg.Relayer.BatchSize,
		})

		g.Go(func() error {
			return relayer.Run(gCtx)
		})
		g.Go(func() error {
			reclaimer.Run(gCtx)
			return nil
		})
	}

	if redisClient != nil {
		runners, err := setupIntake(ctx, cfg, redisClient, stores, database, publisher)
		if err != nil {
			slog.ErrorContext(ctx, "failed to start stream intake", "error", err)
			os.Exit(1)
		}
		for _, run := range runners {
			g.Go(func() error {
				return run(gCtx)
			})
		}
	}

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			slog.InfoContext(ctx, "received signal, shutting down", "signal", sig.String())
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(ctx, "worker initialized and running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.ErrorContext(context.Background(), "worker exited with error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

// preflight warns when the relayer account cannot award tokens. Awards would
// revert and burn every request's retries.
func preflight(ctx context.Context, ledger chain.Client) {
	ok, err := ledger.HasIssuerRole(ctx)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "issuer role check failed", "error", err, "relayer", ledger.Address())
	case !ok:
		slog.WarnContext(ctx, "relayer account lacks the VERIFIER role; awards will revert", "relayer", ledger.Address())
	default:
		slog.InfoContext(ctx, "relayer account holds the VERIFIER role", "relayer", ledger.Address())
	}
}

// setupIntake wires the intake stream consumer and its reclaimer. The returned
// functions run until their context is cancelled.
func setupIntake(ctx context.Context, cfg config.Config, client *redis.Client, stores *store.Stores, database *db.DB, publisher queue.StatusPublisher) ([]func(context.Context) error, error) {
	consumer, err := queue.NewRedisConsumer(ctx, client, queue.ConsumerConfig{
		Stream:       cfg.Redis.IntakeStream,
		Group:        cfg.Redis.IntakeGroup,
		Consumer:     cfg.Redis.Consumer,
		DLQStream:    cfg.Redis.DLQStream,
		BatchSize:    10,
		Block:        5 * time.Second,
		MaxAttempts:  3,
		RequeueDelay: time.Second,
	})
	if err != nil {
		return nil, err
	}

	services := service.NewServices(service.ServicesConfig{
		Stores:    stores,
		TxRunner:  service.NewTxRunner(database),
		Publisher: publisher,
		Logger:    slog.Default(),
	})

	intake := worker.NewIntakeWorker(consumer, services.Issuance(), worker.IntakeConfig{
		MaxAttempts: consumer.Config().MaxAttempts,
	})

	streamReclaimer := worker.NewStreamReclaimer(client, worker.StreamReclaimerConfig{
		Stream:    cfg.Redis.IntakeStream,
		Group:     cfg.Redis.IntakeGroup,
		Consumer:  cfg.Redis.Consumer + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	}, consumer, intake.ProcessMessage)

	return []func(context.Context) error{
		intake.Run,
		func(ctx context.Context) error {
			streamReclaimer.Run(ctx)
			return nil
		},
	}, nil
}

func runMetricsServer(ctx context.Context, cfg config.Config, checks map[string]handler.Pinger) error {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(""))
	router.GET("/health", handler.NewHealthHandler(checks).Health)
	router.GET("/metrics", gin.WrapH(httprouter.MetricsHandler()))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "metrics server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

const banner = `
██████╗  ██████╗  █████╗ ██████╗     ██████╗ ███████╗██╗      █████╗ ██╗   ██╗███████╗██████╗
██╔══██╗██╔═══██╗██╔══██╗██╔══██╗    ██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝██╔════╝██╔══██╗
██████╔╝██║   ██║███████║██████╔╝    ██████╔╝█████╗  ██║     ███████║ ╚████╔╝ █████╗  ██████╔╝
██╔═══╝ ██║   ██║██╔══██║██╔═══╝     ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝  ██╔══╝  ██╔══██╗
██║     ╚██████╔╝██║  ██║██║         ██║  ██║███████╗███████╗██║  ██║   ██║   ███████╗██║  ██║
╚═╝      ╚═════╝ ╚═╝  ╚═╝╚═╝         ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝
`
