// zigbridge - Zigbee to MQTT gateway
//
// zigbridge bridges a Zigbee network coordinator (reached over TCP or a
// unix socket) onto an MQTT bus: device state reports become per-attribute
// topics, set commands flow back to the radio, and an operator control
// surface manages pairing, naming and removal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/zigbridge/migrations"

	"github.com/nerrad567/zigbridge/internal/coordinator"
	"github.com/nerrad567/zigbridge/internal/device"
	"github.com/nerrad567/zigbridge/internal/infrastructure/config"
	"github.com/nerrad567/zigbridge/internal/infrastructure/database"
	"github.com/nerrad567/zigbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/zigbridge/internal/infrastructure/logging"
	"github.com/nerrad567/zigbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/zigbridge/internal/joinwindow"
	"github.com/nerrad567/zigbridge/internal/reconciler"
	"github.com/nerrad567/zigbridge/internal/relay"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting zigbridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry from the previous session's table
	deviceRepo := device.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(deviceRepo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.Stats().Total)

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional attribute history)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Connect the coordinator link. The framing variant comes straight
	// from config and a mismatch fails here, before anything else runs.
	coordClient, err := coordinator.Connect(ctx, coordinator.Config{
		Address:          cfg.Coordinator.Address,
		Variant:          cfg.Coordinator.Protocol,
		Firmware:         cfg.Coordinator.Firmware,
		ConnectTimeout:   cfg.ConnectTimeout(),
		ReconnectInitial: secondsOrZero(cfg.Coordinator.Reconnect.InitialDelay),
		ReconnectMax:     secondsOrZero(cfg.Coordinator.Reconnect.MaxDelay),
	})
	if err != nil {
		return fmt.Errorf("connecting to coordinator: %w", err)
	}
	defer func() {
		log.Info("closing coordinator link")
		if closeErr := coordClient.Close(); closeErr != nil {
			log.Error("error closing coordinator link", "error", closeErr)
		}
	}()
	coordClient.SetLogger(log)
	log.Info("coordinator connected",
		"address", cfg.Coordinator.Address,
		"protocol", cfg.Coordinator.Protocol,
	)

	// Pairing gate
	window := joinwindow.New()
	defer window.Close()

	// Reconciler: the single writer over the registry
	rec := reconciler.New(registry, window, coordClient, cfg.SilenceThreshold(), cfg.SweepInterval())
	rec.SetLogger(log)
	if influxClient != nil {
		rec.SetHistory(influxClient)
	}

	// Relay: reconciled changes out, commands and control requests in
	rel := relay.New(mqttClient, rec, window, cfg.MQTT.PublishRetries)
	rel.SetLogger(log)
	rec.SetOnChange(rel.HandleChange)
	rec.SetOnCommandFailure(rel.HandleCommandFailure)

	// Join window transitions drive the radio's permit-join state and the
	// gateway/join status topic.
	window.SetObserver(func(status joinwindow.Status) {
		rel.PublishJoinStatus(status)

		duration := status.Remaining
		if !status.Open {
			duration = 0
		}
		if pjErr := coordClient.SetPermitJoin(ctx, duration); pjErr != nil {
			log.Error("applying permit-join state", "open", status.Open, "error", pjErr)
		}
	})

	// Coordinator callbacks
	coordClient.SetOnEvent(rec.HandleEvent)
	coordClient.SetOnConnectivityLost(func(err error) {
		log.Warn("coordinator link lost", "error", err)
	})
	coordClient.SetOnConnectivityRestored(func() {
		log.Info("coordinator link restored")
		// Re-assert permit join: the radio may have restarted with the
		// window still open on our side.
		if window.IsOpen() {
			if pjErr := coordClient.SetPermitJoin(ctx, window.Remaining()); pjErr != nil {
				log.Error("re-asserting permit join", "error", pjErr)
			}
		}
	})

	// Start the pipeline. Shutdown order is the reverse: reconciler
	// drains first so its final changes still reach the relay, then the
	// relay flushes to the broker.
	rec.Start(ctx)
	if startErr := rel.Start(ctx); startErr != nil {
		rec.Stop()
		return fmt.Errorf("starting relay: %w", startErr)
	}
	defer rel.Stop()
	defer rec.Stop()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, coordClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ZIGBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ZIGBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// secondsOrZero converts a config seconds value to a Duration, leaving
// zero for the component default.
func secondsOrZero(seconds int) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, coordClient *coordinator.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := coordClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	return nil
}
