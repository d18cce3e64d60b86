package plugin

import (
	"time"

	"plannedoutage/internal/clock"
	"plannedoutage/internal/config"
	"plannedoutage/internal/metrics"
	"plannedoutage/internal/mqtt"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/vector"
	pkgha "plannedoutage/pkg/ha"
	pkgstate "plannedoutage/pkg/state"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
// It wraps the core services needed by all plugins in a single struct
// for cleaner constructor signatures.
//
// Note: HAClient and StateManager use interface types from pkg/ha and pkg/state
// respectively, which allows external packages to work with these types.
// The actual implementations from internal/ha and internal/state satisfy
// these interfaces.
type Context struct {
	// HAClient provides access to Home Assistant for service calls
	// and entity state subscriptions.
	HAClient pkgha.Client

	// StateManager owns the entities published to Home Assistant.
	StateManager pkgstate.Manager

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates whether the application is in read-only mode.
	// When true, plugins should log what they would do but not make
	// actual changes to Home Assistant entities.
	ReadOnly bool

	// ConfigDir is the path to the configuration directory.
	ConfigDir string

	// Timezone is the configured local timezone.
	Timezone *time.Location

	// Config is the validated planned outage configuration.
	Config *config.PlannedOutageConfig

	// Clock schedules polls. Tests inject clock.MockClock.
	Clock clock.Clock

	// Metrics and ShadowTracker are optional; nil disables them.
	Metrics       *metrics.Metrics
	ShadowTracker *shadowstate.Tracker

	// MQTT is set when the mqtt block is configured.
	MQTT *mqtt.Publisher

	// Fetcher overrides the Vector API client. Nil builds one from Config.
	Fetcher vector.Fetcher
}

// NewContext creates a new plugin context with all required dependencies.
// Optional services are attached by setting the remaining fields.
func NewContext(
	haClient pkgha.Client,
	stateManager pkgstate.Manager,
	logger *zap.Logger,
	readOnly bool,
	configDir string,
	timezone *time.Location,
	cfg *config.PlannedOutageConfig,
) *Context {
	return &Context{
		HAClient:     haClient,
		StateManager: stateManager,
		Logger:       logger,
		ReadOnly:     readOnly,
		ConfigDir:    configDir,
		Timezone:     timezone,
		Config:       cfg,
		Clock:        clock.NewRealClock(),
	}
}
