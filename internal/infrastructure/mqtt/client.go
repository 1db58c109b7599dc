package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as the broker transport of a device session.
//
// Each Connect builds a fresh paho client. Reconnection is left to the
// caller, which is notified through the connection-lost handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   pahomqtt.Client
	clientMu sync.RWMutex

	cfg      config.MQTTConfig
	host     string
	clientID string

	// subscriptions tracks the topics subscribed on the current connection.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	onConnectionLost func(err error)
	will             *will
	callbackMu       sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's router goroutine, one message at a time and in
// arrival order. They should not block for extended periods.
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
type MessageHandler = func(topic string, payload []byte) error

// New creates a disconnected client for the broker and device named in cfg.
// The device id is used as the MQTT client id.
func New(cfg *config.Config) *Client {
	return &Client{
		cfg:           cfg.MQTT,
		host:          cfg.Host,
		clientID:      cfg.ID,
		subscriptions: make(map[string]subscription),
	}
}

// Connect establishes a connection to the broker.
//
// It blocks until the broker accepts the connection, the configured connect
// timeout expires, or ctx is cancelled. Calling Connect on a connected client
// is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.IsConnected() {
		return nil
	}

	opts := c.buildClientOptions()
	c.configureWill(opts)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()

	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.subMu.Lock()
	c.subscriptions = make(map[string]subscription)
	c.subMu.Unlock()

	c.clientMu.Lock()
	c.client = client
	c.clientMu.Unlock()

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// handleConnectionLost is called by paho when an established connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.callbackMu.RLock()
	callback := c.onConnectionLost
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// Disconnect closes the connection after a short quiesce period for pending
// publishes. The connection-lost handler is not invoked. Safe to call on a
// client that never connected.
func (c *Client) Disconnect() {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.clientMu.RLock()
	client := c.client
	c.clientMu.RUnlock()

	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && client != nil && client.IsConnected()
}

// SetConnectionLostHandler sets a callback invoked when an established
// connection drops unexpectedly.
func (c *Client) SetConnectionLostHandler(callback func(err error)) {
	c.callbackMu.Lock()
	c.onConnectionLost = callback
	c.callbackMu.Unlock()
}

// SetWill registers a Last Will published by the broker if the connection
// drops without a clean disconnect. build runs on every Connect.
func (c *Client) SetWill(topic string, build func() ([]byte, error)) {
	c.callbackMu.Lock()
	c.will = &will{topic: topic, build: build}
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Client) qos() byte {
	return byte(c.cfg.QoS)
}

// pahoClient returns the live paho client, or ErrNotConnected.
func (c *Client) pahoClient() (pahomqtt.Client, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client, nil
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.deliver(handler, msg.Topic(), msg.Payload())
	}
}

// deliver invokes handler, logging returned errors and recovered panics.
func (c *Client) deliver(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Error("MQTT handler panic recovered",
					"topic", topic,
					"panic", r,
				)
			}
		}
	}()

	if err := handler(topic, payload); err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT handler returned error",
				"topic", topic,
				"error", err,
			)
		}
	}
}
