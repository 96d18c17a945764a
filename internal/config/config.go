package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Storage drivers
const (
	StorageDriverS3    = "s3"
	StorageDriverLocal = "local"
)

// Environment variables that override secrets from the YAML file
const (
	EnvDatabasePassword = "DATABASE_PASSWORD"
	EnvRabbitMQPassword = "RABBITMQ_PASSWORD"
	EnvAuthJWTSecret    = "AUTH_JWT_SECRET"
	EnvSTTAPIKey        = "STT_API_KEY"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Worker   WorkerConfig   `yaml:"worker"`
	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	STT      STTConfig      `yaml:"stt"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	MigrateOnStart  bool          `yaml:"migrate_on_start"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// When disabled the API does not publish wake-ups and the worker runs on its sweep alone.
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      AMQPQueueConfig  `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// AMQPQueueConfig holds RabbitMQ queue configuration
type AMQPQueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// QueueConfig holds transcription queue tuning
type QueueConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	Concurrency       int           `yaml:"concurrency"`
	MaxAttempts       int           `yaml:"max_attempts"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	MaxRetryBackoff   time.Duration `yaml:"max_retry_backoff"`
	ProcessingLease   time.Duration `yaml:"processing_lease"`
}

// DispatchConfig controls what the API does after enqueueing a job
type DispatchConfig struct {
	// Inline runs a batch pass inside the API process
	Inline      bool          `yaml:"inline"`
	MaxInFlight int           `yaml:"max_in_flight"`
	PassTimeout time.Duration `yaml:"pass_timeout"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	PassTimeout     time.Duration `yaml:"pass_timeout"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer token verification. Either JWKSURL or JWTSecret is required.
type AuthConfig struct {
	JWTSecret       string        `yaml:"jwt_secret"`
	JWKSURL         string        `yaml:"jwks_url"`
	Issuer          string        `yaml:"issuer"`
	Audience        string        `yaml:"audience"`
	Leeway          time.Duration `yaml:"leeway"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	ClientTimeout   time.Duration `yaml:"client_timeout"`
}

// StorageConfig selects and configures the audio blob store
type StorageConfig struct {
	Driver         string   `yaml:"driver"`
	LocalDir       string   `yaml:"local_dir"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes"`
	S3             S3Config `yaml:"s3"`
}

// S3Config holds S3 bucket settings
type S3Config struct {
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// STTConfig configures the speech-to-text service
type STTConfig struct {
	BaseURL  string        `yaml:"base_url"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Load reads and parses the configuration file, applies environment
// overrides for secrets and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overrides secrets with values from the environment when set
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		EnvDatabasePassword: &c.Database.Password,
		EnvRabbitMQPassword: &c.RabbitMQ.Password,
		EnvAuthJWTSecret:    &c.Auth.JWTSecret,
		EnvSTTAPIKey:        &c.STT.APIKey,
	}
	for env, field := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*field = v
		}
	}
}

// ApplyDefaults fills unset values
func (c *Config) ApplyDefaults() {
	if c.Queue.BatchSize <= 0 {
		c.Queue.BatchSize = 5
	}
	if c.Queue.Concurrency <= 0 || c.Queue.Concurrency > c.Queue.BatchSize {
		c.Queue.Concurrency = c.Queue.BatchSize
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.TranscribeTimeout <= 0 {
		c.Queue.TranscribeTimeout = 60 * time.Second
	}
	if c.Queue.ProcessingLease <= 0 {
		c.Queue.ProcessingLease = 10 * time.Minute
	}

	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Worker.SweepSchedule == "" {
		c.Worker.SweepSchedule = "@every 30s"
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverS3
	}

	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func validPort(port int) bool {
	return port >= MinPort && port <= MaxPort
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return errors.New("database host is required")
	}

	if !validPort(c.Database.Port) {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return errors.New("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if !c.RabbitMQ.Enabled {
		return nil
	}

	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is required")
	}

	if !validPort(c.RabbitMQ.Port) {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return errors.New("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return errors.New("rabbitmq queue name is required")
	}

	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case StorageDriverS3:
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage s3 bucket is required")
		}
	case StorageDriverLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage local_dir is required")
		}
	default:
		return fmt.Errorf("unknown storage driver: %q (must be %q or %q)", c.Storage.Driver, StorageDriverS3, StorageDriverLocal)
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.RetryBackoff < 0 || c.Queue.MaxRetryBackoff < 0 {
		return errors.New("queue retry backoff must not be negative")
	}
	return nil
}

func (c *Config) validateSTT() error {
	if c.STT.BaseURL == "" {
		return errors.New("stt base_url is required")
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if !validPort(c.Server.Port) {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return errors.New("auth jwks_url or jwt_secret is required")
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	// Inline processing transcribes inside the API process
	if c.Dispatch.Inline {
		if err := c.validateSTT(); err != nil {
			return err
		}
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateSTT(); err != nil {
		return err
	}

	if _, err := cron.ParseStandard(c.Worker.SweepSchedule); err != nil {
		return fmt.Errorf("invalid worker sweep_schedule %q: %w", c.Worker.SweepSchedule, err)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	return c.validateQueue()
}
