// Package logging provides structured logging for the device daemon.
//
// It wraps log/slog so every component logs the same way: JSON for
// deployed devices, text when running on a workbench, and a fixed set of
// default fields (service, version, device) on every entry.
//
// Configuration comes from the logging section of the device file:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version).With("device", cfg.ID)
//	logger.Info("connected", "broker", cfg.BrokerAddress())
//
// Broker credentials must never be logged.
package logging
