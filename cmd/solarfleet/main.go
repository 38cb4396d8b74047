// Solar Fleet Core - Solar Plant Fleet Administration
//
// This is the main entry point for the Solar Fleet Core service. It owns the
// fleet inventory (plants, device templates, devices and their hierarchy),
// provisions each plant's external messaging identity, and drains plant
// telemetry from the broker into storage.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/voltgrid/solarfleet-core/migrations"

	"github.com/voltgrid/solarfleet-core/internal/device"
	"github.com/voltgrid/solarfleet-core/internal/infrastructure/config"
	"github.com/voltgrid/solarfleet-core/internal/infrastructure/database"
	"github.com/voltgrid/solarfleet-core/internal/infrastructure/logging"
	"github.com/voltgrid/solarfleet-core/internal/infrastructure/mqtt"
	"github.com/voltgrid/solarfleet-core/internal/ingest"
	"github.com/voltgrid/solarfleet-core/internal/plant"
	"github.com/voltgrid/solarfleet-core/internal/provisioning"
	"github.com/voltgrid/solarfleet-core/internal/template"
	"github.com/voltgrid/solarfleet-core/internal/vault"
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
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown.
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
	log.Info("starting Solar Fleet Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories and the device registry
	plantRepo := plant.NewSQLiteRepository(db.DB)
	templateRepo := template.NewSQLiteRepository(db.DB)
	deviceRepo := device.NewSQLiteRepository(db.DB)

	registry := device.NewRegistry(deviceRepo, plantRepo, templateRepo)
	registry.SetLogger(log)
	log.Info("device registry initialised")

	// Credential vault and provisioning saga
	credVault, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		return fmt.Errorf("initialising vault: %w", err)
	}

	saga := provisioning.NewSaga(plantRepo, provisioning.NewSimulatedClient(), credVault, provisioning.Options{
		Enabled:    cfg.Provisioning.Enabled,
		Simulation: cfg.Provisioning.Simulation,
	})
	saga.SetLogger(log)
	log.Info("provisioning saga ready",
		"enabled", cfg.Provisioning.Enabled,
		"simulation", cfg.Provisioning.Simulation,
	)

	// Retry provisioning for plants a previous run left without a messaging
	// identity. A failed saga leaves the plant record unprovisioned, so the
	// next boot picks it up here.
	if err := provisionPending(ctx, log, plantRepo, saga); err != nil {
		return err
	}

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

	// Start telemetry intake (optional)
	if cfg.Ingest.Enabled {
		consumer := ingest.NewConsumer(db.DB, cfg.Ingest.TopicFilter)
		consumer.SetLogger(log)
		if startErr := consumer.Start(mqttClient); startErr != nil {
			return fmt.Errorf("starting ingest consumer: %w", startErr)
		}
		defer func() {
			log.Info("stopping ingest consumer")
			if stopErr := consumer.Stop(mqttClient); stopErr != nil {
				log.Error("error stopping ingest consumer", "error", stopErr)
			}
		}()
		log.Info("ingest consumer started", "filter", cfg.Ingest.TopicFilter)
	} else {
		log.Info("ingest disabled")
	}

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Ingest consumer (if enabled)
	// 2. MQTT
	// 3. Database

	log.Info("Solar Fleet Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SOLARFLEET_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SOLARFLEET_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// provisionPending runs the provisioning saga for every plant that has no
// messaging identity yet. Per-plant failures are logged and skipped so one
// broken plant cannot hold up startup; the saga leaves failed plants
// unprovisioned for the next attempt.
func provisionPending(ctx context.Context, log *logging.Logger, plants plant.Repository, saga *provisioning.Saga) error {
	all, err := plants.List(ctx)
	if err != nil {
		return fmt.Errorf("listing plants: %w", err)
	}
	for i := range all {
		p := &all[i]
		if p.Provisioned() {
			continue
		}
		if _, provErr := saga.Provision(ctx, p.ID); provErr != nil {
			log.Warn("provisioning deferred", "plant", p.Code, "error", provErr)
			continue
		}
		log.Info("plant provisioned on startup", "plant", p.Code)
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
