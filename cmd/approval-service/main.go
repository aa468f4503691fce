// cmd/approval-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"approval-notify/internal/api"
	"approval-notify/internal/approval"
	"approval-notify/internal/common/auth"
	"approval-notify/internal/common/aws"
	"approval-notify/internal/common/config"
	"approval-notify/internal/common/database"
	"approval-notify/internal/common/logger"
	"approval-notify/internal/common/observability"
	"approval-notify/internal/delivery"
	"approval-notify/internal/models"
	"approval-notify/internal/notification"
	"approval-notify/internal/notification/templates"
	"approval-notify/internal/realtime"
	sn "approval-notify/internal/workers/application/send-notification"
	es "approval-notify/internal/workers/communication/email-send"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func loadTemplates(cfg *config.Config) (*templates.Resolver, error) {
	if cfg.Notifications.CatalogPath != "" {
		return templates.Load(cfg.Notifications.CatalogPath)
	}
	return templates.Default()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file (defaults to configs/config.yaml lookup)")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	noWorkers := pflag.Bool("no-workers", false, "serve HTTP without running the delivery pool")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog, err := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting approval service...",
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	// --- Init SQL store with retry ---
	var db *database.SQLClient
	err = retryWithBackoff(func() error {
		var err error
		db, err = database.Open(cfg.Database)
		if err != nil {
			return err
		}
		return db.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "Database connection")
	if err != nil {
		zapLog.Fatal("database failed after retries", zap.Error(err))
	}
	defer db.Close()
	zapLog.Info("Database connected successfully", zap.String("driver", cfg.Database.Driver))

	if err := db.Migrate(ctx, log); err != nil {
		zapLog.Fatal("migrations failed", zap.Error(err))
	}
	if *migrateOnly {
		zapLog.Info("Migrations applied, exiting")
		return
	}

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	obs := observability.New(cfg.App.Name, log)
	defer obs.Shutdown()

	resolver, err := loadTemplates(cfg)
	if err != nil {
		zapLog.Fatal("template catalog invalid", zap.Error(err))
	}
	zapLog.Info("Template catalog loaded", zap.String("catalogVersion", resolver.Version()))

	// --- Channels ---
	emailCfg := es.FromAppConfig(cfg)
	if err := emailCfg.Validate(); err != nil {
		zapLog.Fatal("email channel config invalid", zap.Error(err))
	}
	sender, err := es.NewSender(ctx, emailCfg, log)
	if err != nil {
		zapLog.Fatal("email sender init failed", zap.Error(err))
	}
	emailService := es.NewService(es.ServiceDependencies{Logger: log, Sender: sender}, emailCfg)
	defer emailService.Close()

	var sms sn.SMSService
	if cfg.Notifications.SMS.Enabled && cfg.Integrations.AWS.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, cfg.Integrations.AWS.Region, cfg.Integrations.AWS.SNS.DefaultSMSSenderID)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		sms = client
	}

	hub := realtime.NewHub(realtime.NewRedisBroker(redis.Client), log)

	workerCfg := config.GetWorkerConfig(cfg, config.DeliveryWorker)
	queue := delivery.NewQueue(redis.Client, delivery.QueueConfig{
		KeyPrefix:         cfg.Delivery.KeyPrefix,
		BackoffBase:       config.GetDuration(cfg.Delivery.BackoffBase),
		VisibilityTimeout: config.GetDuration(cfg.Delivery.VisibilityTimeout),
		Retention:         cfg.Delivery.Retention,
		MaxAttempts:       workerCfg.MaxRetries,
	})

	// --- Notification pipeline ---
	accounts := approval.NewStore(db)
	notifications := notification.NewService(notification.ServiceDependencies{
		Store:     notification.NewStore(db),
		Directory: accounts,
		Resolver:  resolver,
		Pusher:    hub,
		Queue:     queue,
		Email:     emailService,
		Logger:    log,
	}, notification.Options{
		EmailEnabled: cfg.Notifications.Email.Enabled,
		SMSEnabled:   sms != nil,
		SMSThreshold: models.Priority(cfg.Notifications.SMS.PriorityThreshold),
		MaxAttempts:  workerCfg.MaxRetries,
	})
	dispatcher := notification.NewDispatcher(notifications,
		cfg.Notifications.DispatchBuffer,
		cfg.Notifications.DispatchWorkers,
		config.GetDuration(workerCfg.Timeout),
		log,
	)

	machine := approval.NewMachine(accounts, dispatcher, approval.Options{
		HeadDesignations:   cfg.Approval.HeadDesignations,
		DHSingleTransition: cfg.Approval.DHSingleTransition,
		RejectionFinalizes: cfg.Approval.RejectionFinalizes,
	}, log)

	// --- Delivery workers ---
	var pool *delivery.Pool
	if workerCfg.Enabled && !*noWorkers {
		handler := sn.NewHandler(sn.LoadConfig(cfg), emailService, sms, log)
		pool = delivery.NewPool(queue, handler, obs, delivery.PoolConfig{
			Workers:          workerCfg.MaxJobsActive,
			JobTimeout:       config.GetDuration(workerCfg.Timeout),
			PollInterval:     config.GetDuration(cfg.Delivery.PollInterval),
			MaintenanceEvery: config.GetDuration(cfg.Delivery.MaintenanceEvery),
		}, log)
		pool.Start(ctx)
		zapLog.Info("Delivery workers started",
			zap.Int("workers", workerCfg.MaxJobsActive),
			zap.String("provider", emailService.Provider()),
		)
	}

	// --- HTTP server ---
	server := api.NewServer(api.Dependencies{
		Approvals:     machine,
		Notifications: notifications,
		Dispatcher:    dispatcher,
		Hub:           hub,
		Tokens:        auth.NewTokenService(cfg.Auth),
		Delivery:      queue,
		Checks: map[string]api.Check{
			"database": db.Ping,
			"redis":    redis.Ping,
		},
		Logger: log,
	}, api.Options{
		PingInterval: config.GetDuration(cfg.HTTP.PingInterval),
		Version:      cfg.App.Version,
	})

	// Realtime streams end when their request context does, so shutdown cancels the base context.
	baseCtx, cancelBase := context.WithCancel(ctx)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           server.Handler(),
		ReadHeaderTimeout: config.GetDuration(cfg.HTTP.ReadTimeout),
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	httpServer.RegisterOnShutdown(cancelBase)
	go func() {
		zapLog.Info("HTTP server listening", zap.String("address", cfg.HTTP.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, draining...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.HTTP.ShutdownTimeout))
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("HTTP server shutdown incomplete", zap.Error(err))
	}

	dispatcher.Close()
	if pool != nil {
		if err := pool.Stop(shutdownCtx); err != nil {
			zapLog.Error("Delivery workers did not stop in time", zap.Error(err))
		}
	}

	zapLog.Info("Approval service stopped gracefully")
}
