// Package mqtt provides the broker transport for a sciler device.
//
// This package manages:
//   - Connecting to the broker with the device id as client id
//   - Publishing envelopes on the connection and status topics
//   - Subscribing to the instruction topic
//   - Last Will and Testament (LWT) announcing an unexpected disconnect
//   - Reporting lost connections to the owner
//
// # Reconnection
//
// paho's own auto-reconnect is switched off. The session in
// internal/session owns the retry policy, so every reconnect is announced
// on the connection topic and subscriptions are recreated explicitly.
//
// # Security Considerations
//
//   - TLS is enabled with mqtt.tls=true (minimum TLS 1.2)
//   - Credentials are best supplied via SCILER_MQTT_USERNAME/PASSWORD
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client := mqtt.New(cfg)
//	client.SetLogger(log)
//	client.SetConnectionLostHandler(func(err error) { ... })
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Disconnect()
//
//	err := client.Publish(mqtt.Topics{}.Status(), data)
package mqtt
