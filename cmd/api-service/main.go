package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/voice-journal/internal/api/handler"
	"github.com/cuongbtq/voice-journal/internal/api/router"
	"github.com/cuongbtq/voice-journal/internal/auth"
	"github.com/cuongbtq/voice-journal/internal/blobstore"
	"github.com/cuongbtq/voice-journal/internal/config"
	"github.com/cuongbtq/voice-journal/internal/dispatch"
	"github.com/cuongbtq/voice-journal/internal/queue"
	"github.com/cuongbtq/voice-journal/internal/storage"
	"github.com/cuongbtq/voice-journal/internal/stt"
	"github.com/cuongbtq/voice-journal/shared/logger"
	"github.com/cuongbtq/voice-journal/shared/postgresql"
	"github.com/cuongbtq/voice-journal/shared/rabbitmq"
	"github.com/gin-gonic/gin"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
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

	// Cancelled on return so the JWKS refresher stops
	authCtx, cancelAuth := context.WithCancel(context.Background())
	defer cancelAuth()

	verifier, err := auth.NewVerifier(authCtx, authConfig(&cfg.Auth), appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	var publisher *dispatch.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		appLogger.Info("RabbitMQ connection established")
		publisher = dispatch.NewPublisher(rabbitClient, cfg.RabbitMQ.Publish.Timeout, appLogger.Logger)
	}

	var runner *dispatch.Runner
	if cfg.Dispatch.Inline {
		runner = dispatch.NewRunner(q, dispatch.RunnerConfig{
			PassTimeout: cfg.Dispatch.PassTimeout,
			MaxInFlight: cfg.Dispatch.MaxInFlight,
			BatchSize:   q.Config().BatchSize,
		}, appLogger.Logger)
	}

	triggers := dispatchChain(runner, publisher)
	if len(triggers) == 0 {
		appLogger.Warn("No dispatch configured, jobs wait for a worker sweep")
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:         appLogger.Logger,
		Queue:          q,
		Trigger:        triggers,
		Blobs:          blobs,
		Verifier:       verifier,
		HealthCheck:    dbClient.HealthCheck,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		ServiceName:    cfg.App.Name,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Bool("inline_dispatch", cfg.Dispatch.Inline),
		slog.Bool("rabbitmq", cfg.RabbitMQ.Enabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	if runner != nil {
		waitForPasses(ctx, runner, appLogger.Logger)
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// dispatchChain orders the in-process runner ahead of the publisher, whose
// publish blocks for up to its timeout
func dispatchChain(runner *dispatch.Runner, publisher *dispatch.Publisher) dispatch.Chain {
	var chain dispatch.Chain
	if runner != nil {
		chain = append(chain, runner)
	}
	if publisher != nil {
		chain = append(chain, publisher)
	}
	return chain
}

// waitForPasses lets detached batch passes finish until ctx expires
func waitForPasses(ctx context.Context, runner *dispatch.Runner, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		runner.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Batch passes still running at shutdown, leaving them to the stale sweep")
	}
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

func authConfig(cfg *config.AuthConfig) auth.Config {
	return auth.Config{
		JWTSecret:       cfg.JWTSecret,
		JWKSURL:         cfg.JWKSURL,
		Issuer:          cfg.Issuer,
		Audience:        cfg.Audience,
		Leeway:          cfg.Leeway,
		RefreshInterval: cfg.RefreshInterval,
		ClientTimeout:   cfg.ClientTimeout,
	}
}
