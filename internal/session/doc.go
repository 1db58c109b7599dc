// Package session manages a device's connection to the broker.
//
// A Session moves through four states:
//
//	Disconnected -> Connecting -> Connected
//	                    |             |
//	                    v             v (connection lost)
//	                  Failed      Disconnected -> Connecting ...
//	                    | (backoff)
//	                    v
//	                Connecting
//
// After every successful connect it publishes {"connection": true} on the
// connection topic and then subscribes to the control topic. A lost
// connection is announced once with {"connection": false} before the state
// becomes Disconnected. Reconnects use exponential backoff with jitter.
//
// Goroutines:
//   - Start's goroutine owns publishing. It drains the status queue filled
//     by StatusChanged, so N status changes produce N status envelopes in order.
//   - A dispatcher goroutine decodes inbound messages and calls the adapter,
//     one message at a time in arrival order. Malformed messages are logged
//     and dropped.
//
// Usage:
//
//	sess := session.New(session.OptionsFromConfig(cfg), mqtt.New(cfg), scanner)
//	scanner.SetNotifier(sess)
//	if err := sess.Start(ctx); err != nil {
//	    return err
//	}
package session
