package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConnected is returned when the client has no open channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// URI returns the AMQP connection URI for the config
func (c *Config) URI() string {
	vhost := strings.TrimPrefix(c.VHost, "/")
	if vhost == "" {
		vhost = "/"
	}
	uri := amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}
	return uri.String()
}

// Client represents a RabbitMQ client
type Client struct {
	config  *Config
	logger  *slog.Logger
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient connects to RabbitMQ and declares the wake-up topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.String("host", c.config.Host),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		conn, err = amqp.DialConfig(c.config.URI(), amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declare(channel, c.config); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// declare declares exchange, queue, and bindings
func declare(channel *amqp.Channel, cfg *Config) error {
	err := channel.ExchangeDeclare(
		cfg.ExchangeName,       // name
		cfg.ExchangeType,       // type
		cfg.ExchangeDurable,    // durable
		cfg.ExchangeAutoDelete, // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		cfg.QueueName,       // name
		cfg.QueueDurable,    // durable
		cfg.QueueAutoDelete, // auto-delete
		cfg.QueueExclusive,  // exclusive
		false,               // no-wait
		nil,                 // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		cfg.QueueName,    // queue name
		cfg.RoutingKey,   // routing key
		cfg.ExchangeName, // exchange
		false,            // no-wait
		nil,              // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

func (c *Client) currentChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel == nil || c.channel.IsClosed() {
		return nil, ErrNotConnected
	}
	return c.channel, nil
}

func (c *Client) publish(ctx context.Context, channel *amqp.Channel, body []byte, contentType string) error {
	return channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// PublishWithRetry publishes a message with exponential backoff between attempts.
// The wait between attempts is abandoned when ctx is done.
func (c *Client) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}

	maxRetries := c.config.PublishRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	delay := c.config.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 1 {
		backoffMult = 2.0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.publish(ctx, channel, body, contentType)
		if lastErr == nil {
			c.logger.Debug("Message published to RabbitMQ",
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(body)),
			)
			return nil
		}

		if attempt == maxRetries {
			break
		}

		c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("failed to publish message: %w", ctx.Err())
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * backoffMult)
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume sets the prefetch window and starts a manual-ack consumer on the queue
func (c *Client) Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error) {
	channel, err := c.currentChannel()
	if err != nil {
		return nil, err
	}

	if prefetchCount > 0 {
		if err := channel.Qos(prefetchCount, 0, false); err != nil {
			return nil, fmt.Errorf("failed to set QoS: %w", err)
		}
	}

	deliveries, err := channel.Consume(
		c.config.QueueName, // queue
		consumerTag,        // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetchCount),
	)

	return deliveries, nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.mu.Lock()
	channel, conn := c.channel, c.conn
	c.channel, c.conn = nil, nil
	c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}
