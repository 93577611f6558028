package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/siteprobe/siteprobe-be/internal/config"
	"github.com/siteprobe/siteprobe-be/internal/worker"
	"github.com/siteprobe/siteprobe-be/internal/worker/scanner"
	"github.com/siteprobe/siteprobe-be/internal/worker/storage"
	"github.com/siteprobe/siteprobe-be/shared/logger"
	"github.com/siteprobe/siteprobe-be/shared/postgresql"
	"github.com/siteprobe/siteprobe-be/shared/rabbitmq"
)

// brokerRetryInterval is the delay between broker connection attempts at
// startup. A worker is long-lived, so it keeps retrying until the broker
// comes back instead of giving up.
const brokerRetryInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Shutdown on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ worker client. Workers connect eagerly and keep
	// retrying: there is no request to fail fast for.
	rabbitClient, err := connectBroker(ctx, &cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return err
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Create worker instance
	browserScanner := scanner.NewBrowserScanner(&scanner.Config{
		Headless:     cfg.Scanner.Headless,
		NoSandbox:    cfg.Scanner.ChromeNoSandbox,
		NavigateWait: cfg.Scanner.NavigateWait,
	}, appLogger.Logger)

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Storage:           storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Scanner:           browserScanner,
		RabbitClient:      rabbitClient,
		QueueName:         cfg.RabbitMQ.Queue.Name,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		StaleAfter:        cfg.Worker.StaleAfter,
		StaleCheckEvery:   cfg.Worker.StaleCheckEvery,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// connectBroker dials the broker, retrying until it succeeds or shutdown is
// requested.
func connectBroker(ctx context.Context, cfg *config.RabbitMQConfig, appLogger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		URL:                cfg.URL,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		Heartbeat:          cfg.Heartbeat,
	}

	for {
		client, err := rabbitmq.NewClient(rabbitConfig, rabbitmq.RoleWorker, appLogger)
		if err == nil {
			return client, nil
		}

		appLogger.Error("Broker connection failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", brokerRetryInterval),
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("shutdown requested before broker connection: %w", err)
		case <-time.After(brokerRetryInterval):
		}
	}
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}
