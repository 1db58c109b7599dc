package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout applies when the configured timeout is zero.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive applies when the configured keepalive is zero.
	defaultKeepAlive = 60 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// will is the Last Will and Testament registered with every connection.
type will struct {
	topic string
	build func() ([]byte, error)
}

// buildClientOptions creates paho options for one connection attempt.
//
// Reconnection is disabled on the paho side: the session drives its own
// backoff and announces every reconnect, so paho must report a lost
// connection instead of silently recovering.
func (c *Client) buildClientOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if c.cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, c.host, c.cfg.Port))

	opts.SetClientID(c.clientID)

	if c.cfg.Auth.Username != "" {
		opts.SetUsername(c.cfg.Auth.Username)
		opts.SetPassword(c.cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Inbound messages are dispatched in arrival order.
	opts.SetOrderMatters(true)

	connectTimeout := c.cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := c.cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if c.cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// configureWill registers the Last Will on opts. The payload is built per
// connection, so its timestamp is the connect time of that connection; the
// broker publishes it unchanged when the connection is lost. A build failure
// leaves the connection without a will.
func (c *Client) configureWill(opts *pahomqtt.ClientOptions) {
	c.callbackMu.RLock()
	w := c.will
	c.callbackMu.RUnlock()
	if w == nil {
		return
	}

	payload, err := w.build()
	if err != nil {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT last will not configured", "topic", w.topic, "error", err)
		}
		return
	}
	opts.SetBinaryWill(w.topic, payload, c.qos(), false)
}
