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

	"github.com/cuongbtq/voice-journal/internal/blobstore"
	"github.com/cuongbtq/voice-journal/internal/config"
	"github.com/cuongbtq/voice-journal/internal/queue"
	"github.com/cuongbtq/voice-journal/internal/storage"
	"github.com/cuongbtq/voice-journal/internal/stt"
	"github.com/cuongbtq/voice-journal/internal/worker"
	"github.com/cuongbtq/voice-journal/shared/logger"
	"github.com/cuongbtq/voice-journal/shared/postgresql"
	"github.com/cuongbtq/voice-journal/shared/rabbitmq"
	"github.com/joho/godotenv"
)

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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbConfig := postgresConfig(&cfg.Database)
	if cfg.Database.MigrateOnStart {
		if err := storage.Migrate(dbConfig.URL(), appLogger.Logger); err != nil {
			return err
		}
	}

	dbClient, err := postgresql.NewClient(dbConfig, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	blobs, err := initBlobStore(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	q := queue.New(queueConfig(&cfg.Queue), queue.Dependencies{
		Store:       storage.NewStorage(dbClient.GetDB(), appLogger.Logger),
		Blobs:       blobs,
		Transcriber: stt.NewClient(sttConfig(&cfg.STT), appLogger.Logger),
		Logger:      appLogger.Logger,
	})

	workerCfg := &worker.Config{
		Logger:        appLogger.Logger,
		Processor:     q,
		WorkerID:      cfg.Worker.ID,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		BatchSize:     q.Config().BatchSize,
		PassTimeout:   cfg.Worker.PassTimeout,
		SweepSchedule: cfg.Worker.SweepSchedule,
	}

	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
		workerCfg.Source = rabbitClient
	} else {
		appLogger.Warn("RabbitMQ disabled, relying on the periodic sweep only")
	}

	workerInstance, err := worker.NewWorker(workerCfg)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = time.RFC3339
	}
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   timeFormat,
	})
}

func postgresConfig(cfg *config.DatabaseConfig) *postgresql.Config {
	return &postgresql.Config{
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
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

func initBlobStore(cfg *config.StorageConfig) (blobstore.Store, error) {
	if cfg.Driver == config.StorageDriverLocal {
		return blobstore.NewLocal(cfg.LocalDir)
	}
	return blobstore.NewS3(blobstore.S3Config{
		Region:          cfg.S3.Region,
		Bucket:          cfg.S3.Bucket,
		Prefix:          cfg.S3.Prefix,
		Endpoint:        cfg.S3.Endpoint,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	})
}

func queueConfig(cfg *config.QueueConfig) queue.Config {
	return queue.Config{
		BatchSize:         cfg.BatchSize,
		Concurrency:       cfg.Concurrency,
		MaxAttempts:       cfg.MaxAttempts,
		TranscribeTimeout: cfg.TranscribeTimeout,
		RetryBackoff:      cfg.RetryBackoff,
		MaxRetryBackoff:   cfg.MaxRetryBackoff,
		ProcessingLease:   cfg.ProcessingLease,
	}
}

func sttConfig(cfg *config.STTConfig) stt.Config {
	return stt.Config{
		BaseURL:  cfg.BaseURL,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Language: cfg.Language,
		Timeout:  cfg.Timeout,
	}
}
