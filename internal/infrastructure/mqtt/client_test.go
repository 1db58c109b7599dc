package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
)

// testConfig returns a device configuration pointing at a local broker.
func testConfig(clientID string) *config.Config {
	cfg := config.Default()
	cfg.ID = clientID
	cfg.Host = "127.0.0.1"
	cfg.MQTT.ConnectTimeout = 2 * time.Second
	return cfg
}

// requireBroker skips the test unless a broker listens on 127.0.0.1:1883.
func requireBroker(t *testing.T) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", "127.0.0.1:1883", 200*time.Millisecond)
	if err != nil {
		t.Skip("no MQTT broker on 127.0.0.1:1883")
	}
	conn.Close()
}

// connectedClient connects to the local broker, skipping if none is running.
func connectedClient(t *testing.T, clientID string) *Client {
	t.Helper()
	requireBroker(t)

	c := New(testConfig(clientID))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	t.Cleanup(c.Disconnect)
	return c
}

// recordingLogger captures log calls.
type recordingLogger struct {
	mu    sync.Mutex
	errs  []string
	warns []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig("scanner1")
	cfg.Host = "broker.local"
	cfg.MQTT.Port = 1884
	cfg.MQTT.KeepAlive = 30 * time.Second
	cfg.MQTT.Auth.Username = "device"
	cfg.MQTT.Auth.Password = "secret"

	opts := New(cfg).buildClientOptions()

	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://broker.local:1884", opts.Servers[0].String())
	assert.Equal(t, "scanner1", opts.ClientID)
	assert.Equal(t, "device", opts.Username)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, int64(30), opts.KeepAlive)
	assert.Equal(t, 2*time.Second, opts.ConnectTimeout)
	assert.False(t, opts.AutoReconnect)
	assert.False(t, opts.ConnectRetry)
	assert.True(t, opts.CleanSession)
	assert.True(t, opts.Order)
	assert.Nil(t, opts.TLSConfig)
}

func TestBuildClientOptions_Defaults(t *testing.T) {
	cfg := testConfig("scanner1")
	cfg.MQTT.KeepAlive = 0
	cfg.MQTT.ConnectTimeout = 0
	cfg.MQTT.TLS = true

	opts := New(cfg).buildClientOptions()

	assert.Equal(t, "ssl://127.0.0.1:1883", opts.Servers[0].String())
	assert.Equal(t, int64(60), opts.KeepAlive)
	assert.Equal(t, defaultConnectTimeout, opts.ConnectTimeout)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, uint16(tlsMinVersion), opts.TLSConfig.MinVersion)
}

func TestConfigureWill(t *testing.T) {
	c := New(testConfig("scanner1"))
	calls := 0
	c.SetWill(TopicConnection, func() ([]byte, error) {
		calls++
		return []byte(fmt.Sprintf(`{"n":%d}`, calls)), nil
	})

	first := c.buildClientOptions()
	c.configureWill(first)
	second := c.buildClientOptions()
	c.configureWill(second)

	assert.True(t, first.WillEnabled)
	assert.Equal(t, TopicConnection, first.WillTopic)
	assert.Equal(t, `{"n":1}`, string(first.WillPayload))
	assert.False(t, first.WillRetained)
	assert.Equal(t, `{"n":2}`, string(second.WillPayload), "will payload is rebuilt per connection")
}

func TestConfigureWill_BuildFailure(t *testing.T) {
	c := New(testConfig("scanner1"))
	logger := &recordingLogger{}
	c.SetLogger(logger)
	c.SetWill(TopicConnection, func() ([]byte, error) {
		return nil, errors.New("encode failed")
	})

	opts := c.buildClientOptions()
	c.configureWill(opts)

	assert.False(t, opts.WillEnabled)
	assert.Len(t, logger.warns, 1)
}

func TestConfigureWill_NotSet(t *testing.T) {
	c := New(testConfig("scanner1"))
	opts := c.buildClientOptions()
	c.configureWill(opts)
	assert.False(t, opts.WillEnabled)
}

// =============================================================================
// Handler wrapping
// =============================================================================

func TestDeliver_RecoversPanic(t *testing.T) {
	c := New(testConfig("scanner1"))
	logger := &recordingLogger{}
	c.SetLogger(logger)

	assert.NotPanics(t, func() {
		c.deliver(func(string, []byte) error { panic("boom") }, "test", nil)
	})
	assert.Equal(t, []string{"MQTT handler panic recovered"}, logger.errs)
}

func TestDeliver_LogsHandlerError(t *testing.T) {
	c := New(testConfig("scanner1"))
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var gotTopic string
	var gotPayload []byte
	c.deliver(func(topic string, payload []byte) error {
		gotTopic, gotPayload = topic, payload
		return errors.New("rejected")
	}, "test", []byte("42"))

	assert.Equal(t, "test", gotTopic)
	assert.Equal(t, []byte("42"), gotPayload)
	assert.Equal(t, []string{"MQTT handler returned error"}, logger.warns)
}

func TestDeliver_WithoutLogger(t *testing.T) {
	c := New(testConfig("scanner1"))
	assert.NotPanics(t, func() {
		c.deliver(func(string, []byte) error { panic("boom") }, "test", nil)
		c.deliver(func(string, []byte) error { return errors.New("x") }, "test", nil)
	})
}

// =============================================================================
// Disconnected behaviour
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := New(testConfig("scanner1"))

	assert.False(t, c.IsConnected())
	assert.ErrorIs(t, c.Publish(TopicStatus, []byte("{}")), ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe("test", func(string, []byte) error { return nil }), ErrNotConnected)
	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)
	assert.NotPanics(t, c.Disconnect)
}

func TestPublish_Validation(t *testing.T) {
	c := New(testConfig("scanner1"))

	assert.ErrorIs(t, c.Publish("", nil), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("status/#", nil), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish(TopicStatus, make([]byte, maxPayloadSize+1)), ErrPublishFailed)
}

func TestSubscribe_Validation(t *testing.T) {
	c := New(testConfig("scanner1"))

	assert.ErrorIs(t, c.Subscribe("", func(string, []byte) error { return nil }), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("test", nil), ErrSubscribeFailed)
}

func TestHealthCheck_Cancelled(t *testing.T) {
	c := New(testConfig("scanner1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.HealthCheck(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnect_BrokerRefused(t *testing.T) {
	cfg := testConfig("scanner1")
	cfg.MQTT.Port = 19998

	err := New(cfg).Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestConnect_ContextCancelled(t *testing.T) {
	// 192.0.2.0/24 is reserved for documentation and never routes.
	cfg := testConfig("scanner1")
	cfg.Host = "192.0.2.1"
	cfg.MQTT.ConnectTimeout = 30 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := New(cfg).Connect(ctx)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// =============================================================================
// Broker tests (skipped without a local broker)
// =============================================================================

func TestConnect(t *testing.T) {
	c := connectedClient(t, "sciler-test-connect")

	assert.True(t, c.IsConnected())
	assert.NoError(t, c.HealthCheck(context.Background()))
	assert.NoError(t, c.Connect(context.Background()), "second Connect is a no-op")

	c.Disconnect()
	assert.False(t, c.IsConnected())
}

func TestPublishSubscribeRoundtrip(t *testing.T) {
	c := connectedClient(t, "sciler-test-roundtrip")
	topic := "sciler/test/roundtrip"

	received := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(topic, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}))
	assert.True(t, c.HasSubscription(topic))
	assert.Equal(t, 1, c.SubscriptionCount())

	require.NoError(t, c.Publish(topic, []byte(`{"code":42}`)))

	select {
	case got := <-received:
		assert.JSONEq(t, `{"code":42}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestSubscribe_OrderPreserved(t *testing.T) {
	c := connectedClient(t, "sciler-test-order")
	topic := "sciler/test/order"

	const n = 20
	received := make(chan string, n)
	require.NoError(t, c.Subscribe(topic, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, c.Publish(topic, []byte(fmt.Sprint(i))))
	}

	for i := 0; i < n; i++ {
		select {
		case got := <-received:
			assert.Equal(t, fmt.Sprint(i), got)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d not received", i)
		}
	}
}

func TestSubscriptionsResetOnReconnect(t *testing.T) {
	c := connectedClient(t, "sciler-test-resub")
	require.NoError(t, c.Subscribe("sciler/test/resub", func(string, []byte) error { return nil }))
	require.Equal(t, 1, c.SubscriptionCount())

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 0, c.SubscriptionCount())
}
