package mqtt

import (
	"fmt"
)

// Subscribe registers a handler for messages on topic at the configured QoS.
//
// Subscriptions belong to the current connection. After a reconnect the
// caller subscribes again.
//
// Example:
//
//	err := client.Subscribe(mqtt.Topics{}.Control(cfg.MQTT.ControlTopic),
//	    func(topic string, payload []byte) error {
//	        return sess.Deliver(topic, payload)
//	    })
func (c *Client) Subscribe(topic string, handler MessageHandler) error {
	if err := ValidateFilter(topic); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	client, err := c.pahoClient()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, c.qos(), c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %w after %v", ErrSubscribeFailed, ErrTimeout, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     c.qos(),
		handler: handler,
	}
	c.subMu.Unlock()

	return nil
}

// SubscriptionCount returns the number of subscriptions on the current connection.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the given topic.
//
// Note: This checks only the exact topic string, not pattern matching.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}
