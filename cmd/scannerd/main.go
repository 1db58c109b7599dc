// scannerd connects a barcode scanner prop to the escape room back-end.
//
// It reads scanned codes from stdin or a supervised reader command, keeps the
// scanner status, announces the device on the MQTT broker, publishes status
// on every change and performs instructions the back-end sends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/sciler-device/internal/api"
	"github.com/nerrad567/sciler-device/internal/device/scanner"
	"github.com/nerrad567/sciler-device/internal/infrastructure/config"
	"github.com/nerrad567/sciler-device/internal/infrastructure/database"
	"github.com/nerrad567/sciler-device/internal/infrastructure/influxdb"
	"github.com/nerrad567/sciler-device/internal/infrastructure/logging"
	"github.com/nerrad567/sciler-device/internal/infrastructure/mqtt"
	"github.com/nerrad567/sciler-device/internal/journal"
	"github.com/nerrad567/sciler-device/internal/reader"
	"github.com/nerrad567/sciler-device/internal/session"
	"github.com/nerrad567/sciler-device/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/scanner.yaml"

// retentionInterval is how often old journal entries are pruned.
const retentionInterval = time.Hour

func main() {
	configPath := flag.String("config", "", "path to the device configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the daemon together and blocks until ctx is cancelled or the
// broker session gives up.
func run(ctx context.Context, configFlag string) error {
	log := logging.Default()
	log.Info("starting scannerd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("device_id", cfg.ID)
	log.Info("configuration loaded", "path", configPath, "broker", cfg.BrokerAddress())

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	jr := journal.New(db.DB)
	jr.SetLogger(log)
	go jr.RunRetention(ctx, cfg.Database.Retention, retentionInterval)

	recorders := session.Recorders{jr}

	if influx := connectInflux(cfg.InfluxDB, log); influx != nil {
		defer influx.Close()
		recorders = append(recorders, influx)
	}

	scan := scanner.New()
	scan.SetLogger(log.With("component", "scanner"))

	transport := mqtt.New(cfg)
	transport.SetLogger(log.With("component", "mqtt"))

	sess := session.New(session.OptionsFromConfig(cfg), transport, scan)
	sess.SetLogger(log.With("component", "session"))
	transport.SetWill(mqtt.Topics{}.Connection(), sess.WillPayload)
	scan.SetNotifier(sess)

	src, err := reader.Open(ctx, cfg.Reader, log.With("component", "reader"))
	if err != nil {
		return fmt.Errorf("starting reader: %w", err)
	}
	defer src.Close()

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.With("component", "api"),
			Device:  cfg,
			Session: sess,
			Status:  scan,
			Journal: jr,
			Version: version,
		}
		if mgr := src.Manager(); mgr != nil {
			deps.Reader = mgr
		}

		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer srv.Close()

		recorders = append(recorders, srv.Hub())
		sess.SetOnStateChange(srv.Hub().StateChanged)
	}

	sess.SetRecorder(recorders)

	go func() {
		if err := scan.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("scanner input stopped", "error", err)
		}
	}()

	log.Info("initialisation complete")

	if err := sess.Start(ctx); err != nil {
		return fmt.Errorf("broker session: %w", err)
	}

	log.Info("scannerd stopped")
	return nil
}

// connectInflux returns nil when telemetry is disabled or unreachable; the
// device works without it.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	if !cfg.Enabled {
		log.Info("InfluxDB disabled")
		return nil
	}

	client, err := influxdb.Connect(cfg)
	if err != nil {
		log.Warn("InfluxDB unavailable, telemetry off", "url", cfg.URL, "error", err)
		return nil
	}
	client.SetOnError(func(err error) {
		log.Warn("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client
}

// getConfigPath prefers the -config flag, then SCILER_CONFIG.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("SCILER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
