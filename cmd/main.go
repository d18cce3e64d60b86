package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	_ "time/tzdata"

	"plannedoutage/internal/api"
	"plannedoutage/internal/config"
	"plannedoutage/internal/ha"
	"plannedoutage/internal/metrics"
	"plannedoutage/internal/mqtt"
	_ "plannedoutage/internal/plugins/plannedoutage"
	"plannedoutage/internal/plugins/reset"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/state"
	pkgha "plannedoutage/pkg/ha"
	"plannedoutage/pkg/plugin"
	pkgstate "plannedoutage/pkg/state"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const defaultAPIPort = 8081

func main() {
	// Load environment variables first so LOG_LEVEL is honoured
	envErr := godotenv.Load()

	// Initialize logger
	logger, err := newLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		configDir = "./configs"
	}

	apiPort := defaultAPIPort
	if v := os.Getenv("API_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatal("Invalid API_PORT", zap.String("value", v), zap.Error(err))
		}
		apiPort = p
	}

	timezone := time.Local
	if tz := os.Getenv("TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Fatal("Invalid TIMEZONE", zap.String("value", tz), zap.Error(err))
		}
		timezone = loc
	}

	logger.Info("Starting Planned Outage Monitor",
		zap.String("url", haURL),
		zap.String("config_dir", configDir),
		zap.Bool("read_only", readOnly))

	loader := config.NewLoader(configDir, logger)
	if err := loader.LoadAll(); err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	cfg := loader.GetPlannedOutageConfig()

	// Create HA client
	client := ha.NewClient(haURL, haToken, logger)

	// Connect to Home Assistant
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	defer client.Disconnect()

	logger.Info("Connected to Home Assistant")

	stateManager := state.NewManager(client, logger, readOnly)
	m := metrics.New()
	shadowTracker := shadowstate.NewTracker()

	var publisher *mqtt.Publisher
	if cfg.MQTT != nil {
		publisher, err = mqtt.New(*cfg.MQTT, cfg.ICPNumber, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer publisher.Close()
		stateManager.AddSink(publisher)
	}

	haClient := pkgha.WrapClient(client)
	ctx := plugin.NewContext(haClient, pkgstate.WrapManager(stateManager), logger, readOnly, configDir, timezone, cfg)
	ctx.Metrics = m
	ctx.ShadowTracker = shadowTracker
	ctx.MQTT = publisher

	plugins, err := plugin.CreateAll(ctx)
	if err != nil {
		logger.Fatal("Failed to create plugins", zap.Error(err))
	}

	// Plugins register their sensors while being created, so sync after
	if err := stateManager.SyncFromHA(); err != nil {
		logger.Fatal("Failed to sync state from HA", zap.Error(err))
	}

	coordinator := reset.NewCoordinator(haClient, cfg.RefreshEntity, logger, readOnly, plugin.Resettables(plugins))
	plugins = append(plugins, coordinator)

	if err := plugin.StartAll(plugins); err != nil {
		logger.Fatal("Failed to start plugins", zap.Error(err))
	}
	defer plugin.StopAll(plugins)

	server := api.NewServer(pkgstate.WrapManager(stateManager), shadowTracker, m.Handler(), logger, apiPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start HTTP API server", zap.Error(err))
	}
	defer server.Stop()

	if readOnly {
		logger.Info("Running in READ-ONLY mode - no changes will be made to Home Assistant")
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.",
		zap.String("icp", cfg.ICPNumber),
		zap.Duration("scan_interval", cfg.ScanInterval.Duration))

	// Wait for shutdown signal
	<-sigChan

	logger.Info("Shutting down gracefully...")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
