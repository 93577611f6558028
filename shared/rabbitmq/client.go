package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrEndpointRequired is returned when a client is built without a broker URL.
var ErrEndpointRequired = errors.New("rabbitmq endpoint URL is required")

// ErrNotConnected is returned by commands issued against a client whose
// connection could not be established.
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Observer receives connection-level errors. It is registered at
// construction so tests can substitute a capturing observer.
type Observer func(op string, err error)

// Config holds RabbitMQ client configuration.
type Config struct {
	// URL is the broker endpoint DSN (amqp:// or amqps://). Required.
	// Plaintext endpoints of TLS-only managed providers are upgraded, see
	// NormalizeEndpoint.
	URL string

	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	Heartbeat          time.Duration

	// OnConnectionError observes connection-level transport errors.
	// When nil the client logs the error message and carries on.
	OnConnectionError Observer
}

// Client is a role-tagged RabbitMQ client. A producer client connects lazily
// on first command and is safe for concurrent use from many in-flight
// request handlers; a worker client connects eagerly at construction.
type Client struct {
	config   *Config
	policy   Policy
	role     Role
	logger   *slog.Logger
	observer Observer

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
}

// NewClient creates a RabbitMQ client for the given role. A missing endpoint
// URL is a configuration error surfaced immediately regardless of role.
func NewClient(config *Config, role Role, logger *slog.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, ErrEndpointRequired
	}

	client := &Client{
		config:   config,
		policy:   PolicyForRole(role),
		role:     role,
		logger:   logger.With(slog.String("broker_role", string(role))),
		observer: config.OnConnectionError,
	}
	if client.observer == nil {
		client.observer = client.logObserver
	}

	if client.policy.LazyConnect {
		return client, nil
	}

	if err := client.ensureConnected(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// logObserver is the default connection observer: message only, never fatal.
func (c *Client) logObserver(op string, err error) {
	c.logger.Error("RabbitMQ connection error",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// Connect dials the broker if there is no live connection. Publish and
// Inspect dial on demand; long-lived consumers call Connect to re-establish
// the connection and channel after a transport loss before re-registering.
func (c *Client) Connect() error {
	return c.ensureConnected()
}

// ensureConnected dials the broker if there is no live connection. Safe for
// concurrent callers; at most one connection is held per client.
func (c *Client) ensureConnected() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && c.conn != nil && !c.conn.IsClosed() {
		return nil
	}

	return c.connectLocked()
}

// connectLocked establishes the connection, channel and topology.
// Callers must hold c.mu.
func (c *Client) connectLocked() error {
	endpoint, upgraded := NormalizeEndpoint(c.config.URL)
	if upgraded {
		c.logger.Info("Upgraded broker endpoint to TLS scheme")
	}

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(c.policy.ConnectTimeout),
	}

	c.logger.Info("Connecting to RabbitMQ",
		slog.Duration("connect_timeout", c.policy.ConnectTimeout),
	)

	conn, err := amqp.DialConfig(endpoint, amqpConfig)
	if err != nil {
		c.observer("connect", err)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	// Confirm mode so Publish can report durable acceptance.
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := c.setup(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	if !c.policy.SkipReadinessCheck {
		if _, err := channel.QueueDeclarePassive(
			c.config.QueueName,
			c.config.QueueDurable,
			c.config.QueueAutoDelete,
			c.config.QueueExclusive,
			false,
			nil,
		); err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("broker readiness check failed: %w", err)
		}
	}

	c.conn = conn
	c.channel = channel
	c.connected = true

	// Transport errors are observed, never fatal. The next command redials.
	closeChan := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.monitor(closeChan)

	c.logger.Info("RabbitMQ client connected",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// setup declares the exchange, queue, and binding.
func (c *Client) setup(channel *amqp.Channel) error {
	err := channel.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.ExchangeDurable,
		c.config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.QueueDurable,
		c.config.QueueAutoDelete,
		c.config.QueueExclusive,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = channel.QueueBind(
		c.config.QueueName,
		c.config.RoutingKey,
		c.config.ExchangeName,
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// monitor drains connection close notifications into the observer.
func (c *Client) monitor(closeChan <-chan *amqp.Error) {
	amqpErr, ok := <-closeChan
	if !ok || amqpErr == nil {
		return
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.observer("connection-closed", amqpErr)
}

// Publish publishes a persistent message and waits for the broker confirm.
// Attempts are bounded by the role policy; producers fail after a single
// retry, workers keep retrying until ctx is canceled.
func (c *Client) Publish(ctx context.Context, body []byte, contentType string, messageID string) error {
	var lastErr error

	for attempt := 0; c.policy.Unbounded() || attempt <= c.policy.MaxCommandRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.policy.RetryBackoff):
			}
		}

		if err := c.ensureConnected(); err != nil {
			lastErr = err
			continue
		}

		if err := c.publishOnce(ctx, body, contentType, messageID); err != nil {
			lastErr = err
			c.observer("publish", err)
			continue
		}

		if attempt > 0 {
			c.logger.Info("Message published after retry",
				slog.Int("attempt", attempt+1),
				slog.String("message_id", messageID),
			)
		}
		return nil
	}

	return fmt.Errorf("failed to publish message after %d attempts: %w",
		c.policy.MaxCommandRetries+1, lastErr)
}

// publishOnce performs one publish attempt bounded by the command timeout.
func (c *Client) publishOnce(ctx context.Context, body []byte, contentType string, messageID string) error {
	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return ErrNotConnected
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.policy.CommandTimeout)
	defer cancel()

	confirm, err := channel.PublishWithDeferredConfirmWithContext(
		cmdCtx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			MessageId:    messageID,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(cmdCtx)
	if err != nil {
		return fmt.Errorf("publish confirm wait failed: %w", err)
	}
	if !acked {
		return errors.New("broker rejected message")
	}

	return nil
}

// QueueState is a snapshot of broker-reported queue metrics.
type QueueState struct {
	Queue     string
	Depth     int
	Consumers int
}

// Inspect reports the queue's current depth and consumer count. Used by the
// diagnostic surface only, never by the submission path.
func (c *Client) Inspect(ctx context.Context) (*QueueState, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	if channel == nil {
		return nil, ErrNotConnected
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.policy.CommandTimeout)
	defer cancel()

	// The passive declare has no context variant; bound it so a wedged
	// connection cannot stall the diagnostic surface past the command timeout.
	q, err := declareWithContext(cmdCtx, func() (amqp.Queue, error) {
		return channel.QueueDeclarePassive(
			c.config.QueueName,
			c.config.QueueDurable,
			c.config.QueueAutoDelete,
			c.config.QueueExclusive,
			false,
			nil,
		)
	})
	if err != nil {
		c.observer("inspect", err)
		return nil, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return &QueueState{
		Queue:     q.Name,
		Depth:     q.Messages,
		Consumers: q.Consumers,
	}, nil
}

// declareWithContext runs a declare call on its own goroutine and abandons
// it once the context is done. The abandoned goroutine exits when the
// underlying channel call unblocks.
func declareWithContext(ctx context.Context, declare func() (amqp.Queue, error)) (amqp.Queue, error) {
	type declareResult struct {
		queue amqp.Queue
		err   error
	}

	resultChan := make(chan declareResult, 1)
	go func() {
		q, err := declare()
		resultChan <- declareResult{queue: q, err: err}
	}()

	select {
	case <-ctx.Done():
		return amqp.Queue{}, ctx.Err()
	case res := <-resultChan:
		return res.queue, res.err
	}
}

// Consume starts consuming messages from the queue with manual
// acknowledgment. Worker role only.
func (c *Client) Consume(consumerTag string) (<-chan amqp.Delivery, error) {
	if err := c.ensureConnected(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()

	messages, err := channel.Consume(
		c.config.QueueName,
		consumerTag,
		false, // auto-ack off: unacked deliveries are requeued on consumer death
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Role returns the client's role.
func (c *Client) Role() Role {
	return c.role
}

// IsConnected returns the connection status without dialing.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.conn != nil && !c.conn.IsClosed()
}

// GetChannel returns the channel for ack/nack operations.
func (c *Client) GetChannel() *amqp.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Close closes the RabbitMQ connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")
	c.connected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.String("error", err.Error()),
			)
		}
		c.channel = nil
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.String("error", err.Error()),
			)
			c.conn = nil
			return err
		}
		c.conn = nil
	}

	return nil
}
