package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-pipeline/internal/infra/cache"
	"github.com/xavierca1/lead-pipeline/internal/infra/database"
	"github.com/xavierca1/lead-pipeline/internal/infra/http/handlers"
	"github.com/xavierca1/lead-pipeline/internal/infra/http/middleware"
	"github.com/xavierca1/lead-pipeline/internal/infra/mail"
	"github.com/xavierca1/lead-pipeline/internal/infra/queue"
	"github.com/xavierca1/lead-pipeline/internal/infra/realtime"
	"github.com/xavierca1/lead-pipeline/internal/infra/worker"
	"github.com/xavierca1/lead-pipeline/internal/usecase"
	"github.com/xavierca1/lead-pipeline/internal/validation"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, change feed and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), serveMigrate)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending migrations before serving")
}

func openDB() (*sql.DB, error) {
	return database.NewDBConnection(cfg.Database.URL, database.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime.Std(),
	})
}

func runServe(parent context.Context, migrate bool) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("database connected")

	if migrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	// Cache: Redis when configured and reachable, otherwise none.
	var (
		readCache cache.Cache = cache.NewNoop()
		redisPing handlers.Pinger
	)
	if cfg.Redis.Addr != "" {
		rc := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rc.Ping(pingCtx)
		pingCancel()
		if err != nil {
			logger.Warn("redis unreachable, caching disabled", zap.Error(err))
			rc.Close()
		} else {
			defer rc.Close()
			readCache = rc
			redisPing = rc
			logger.Info("redis cache enabled", zap.String("addr", cfg.Redis.Addr))
		}
	}

	var wg sync.WaitGroup

	// Messaging: stage-change events and the deal-won mailer.
	var (
		producer queue.QueueProducerInterface
		rabbit   *queue.RabbitMQ
	)
	if cfg.RabbitMQ.URL != "" {
		rabbit, err = queue.NewRabbitMQ(cfg.RabbitMQ.URL)
		if err != nil {
			return err
		}
		defer rabbit.Close()
		producer = queue.NewProducer(rabbit.Ch)

		if cfg.MailEnabled() {
			sender := mail.NewEmailSender(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.User, cfg.Mail.Password, cfg.Mail.From, cfg.Mail.Recipients)
			stageWorker := queue.NewWorker(rabbit.Ch, sender, logger)
			startWorker(ctx, &wg, "stage-changes", func(ctx context.Context) {
				if err := stageWorker.Start(ctx, queue.QueueName); err != nil {
					logger.Error("stage worker failed", zap.Error(err))
				}
			})
		} else {
			logger.Warn("mail not configured, deal-won notifications stay queued")
		}
	} else {
		logger.Warn("RABBITMQ_URL not set, stage-change events are not published")
	}

	// Change feed.
	hub := realtime.NewHub(realtime.NewListener(cfg.Database.URL, logger), logger)
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer hub.Close()

	validate := validation.New()
	leadRepo := database.NewLeadRepository(db)
	contactRepo := database.NewContactRepository(db)
	propertyRepo := database.NewPropertyRepository(db)

	pipeline := usecase.NewPipelineSynchronizer(leadRepo, hub, producer, logger)
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	defer pipeline.Close()

	contacts := usecase.NewContactService(contactRepo, leadRepo, readCache, cfg.Redis.CacheTTL.Std(), validate, logger)
	if err := contacts.Watch(hub); err != nil {
		return err
	}
	defer contacts.Close()

	properties := usecase.NewPropertyService(propertyRepo, readCache, cfg.Redis.CacheTTL.Std(), validate, logger)
	if err := properties.Watch(hub); err != nil {
		return err
	}
	defer properties.Close()

	if interval := cfg.Pipeline.ResyncInterval.Std(); interval > 0 {
		resync := worker.NewResyncWorker(pipeline, interval, logger)
		startWorker(ctx, &wg, "resync", resync.Start)
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitWindow.Std())
	defer limiter.Stop()

	health := handlers.NewHealthHandler(db, nil, redisPing, Version)
	if rabbit != nil {
		health.RabbitMQ = rabbit.Conn
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Pipeline:       handlers.NewPipelineHandler(pipeline, usecase.NewDragController(pipeline, logger), validate),
		Contacts:       handlers.NewContactHandler(contacts),
		Properties:     handlers.NewPropertyHandler(properties),
		Dashboard:      handlers.NewDashboardHandler(usecase.NewDashboardService(pipeline)),
		Health:         health,
		RateLimiter:    limiter,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		Logger:         logger.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr), zap.String("version", Version))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

// startWorker runs fn in a goroutine tracked by wg.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("worker started", zap.String("worker", name))
		fn(ctx)
		logger.Info("worker stopped", zap.String("worker", name))
	}()
}
