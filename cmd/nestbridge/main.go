// Nest Bridge - cloud thermostat and security integration
//
// This is the main entry point for the Nest bridge. It links a Nest
// account, discovers the account's structures and devices, mirrors their
// state onto the local MQTT bus, and validates operator commands before
// forwarding them to the vendor cloud.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/exking/udi-nest2-poly/migrations"

	"github.com/exking/udi-nest2-poly/internal/api"
	"github.com/exking/udi-nest2-poly/internal/auth"
	"github.com/exking/udi-nest2-poly/internal/bridge"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/config"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/database"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/logging"
	"github.com/exking/udi-nest2-poly/internal/infrastructure/mqtt"
	"github.com/exking/udi-nest2-poly/internal/nest"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Nest bridge",
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

	customData := database.NewCustomDataStore(db)
	nodeStore := database.NewNodeStore(db)

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

	// Credential store and authorization flow
	sessions := auth.NewSessionStore(auth.SessionStoreOptions{
		Data:           customData,
		CachePath:      cacheFilePath(cfg),
		ProfileVersion: cfg.Bridge.ProfileVersion,
		AuthURL:        cfg.Nest.AuthURL,
		Logger:         log,
	})

	flow, err := auth.NewFlow(auth.FlowOptions{
		Mode:            cfg.Bridge.Mode,
		CredentialsFile: cfg.Nest.CredentialsFile,
		ClientID:        cfg.OAuth.ClientID,
		ClientSecret:    cfg.OAuth.ClientSecret,
		Worker:          cfg.OAuth.Worker,
		LoginURL:        cfg.Nest.LoginURL,
		AuthURL:         cfg.Nest.AuthURL,
		PinProxyURL:     cfg.Nest.PinProxyURL,
		Logger:          log,
	})
	if err != nil {
		return fmt.Errorf("building authorization flow: %w", err)
	}

	// Vendor API surfaces share one snapshot store
	store := &nest.Store{}
	client := nest.NewClient(cfg.Nest.APIURL, sessions.Token, log)

	// WebSocket hub is created before the controller so driver updates
	// can reach live clients from the first discovery onward.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	controller := bridge.NewController(bridge.ControllerOptions{
		Config:   cfg,
		Logger:   log,
		Sessions: sessions,
		Flow:     flow,
		Client:   client,
		Store:    store,
		Bus:      mqttClient,
		Nodes:    nodeStore,
		Hub:      hub,
	})
	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge controller: %w", err)
	}
	defer func() {
		log.Info("stopping bridge controller")
		controller.Stop()
	}()

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Bridge:      controller,
		Version:     version,
		ExternalHub: hub,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown - or a wedged event stream, which only a process
	// restart can clear.
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-controller.Fatal():
		log.Error("unrecoverable bridge condition, exiting for restart", "error", err)
		return err
	}

	log.Info("Nest bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses NEST_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("NEST_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// cacheFilePath resolves the legacy token cache file location, defaulting
// to ~/.nest_poly.
func cacheFilePath(cfg *config.Config) string {
	if cfg.Nest.CacheFile != "" {
		return cfg.Nest.CacheFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".nest_poly")
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	return nil
}
