// Package config handles loading and validating device configuration.
//
// This package manages:
//   - Loading configuration from YAML or JSON files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Broker credentials and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/scanner.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.ID, cfg.BrokerAddress())
//
// The info key is kept as opaque data; nothing in this module inspects it.
package config
