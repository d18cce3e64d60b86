package testutil

import (
	"fmt"
	"time"

	"plannedoutage/internal/clock"
	"plannedoutage/internal/config"
	"plannedoutage/internal/ha"
	"plannedoutage/internal/metrics"
	_ "plannedoutage/internal/plugins/plannedoutage"
	"plannedoutage/internal/plugins/reset"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/state"
	pkgha "plannedoutage/pkg/ha"
	"plannedoutage/pkg/plugin"
	pkgstate "plannedoutage/pkg/state"

	"go.uber.org/zap"
)

const (
	// TestICP is the ICP number the harness configures
	TestICP = "0001234567AB123"

	// TestAPIKey is the key the mock outage API accepts
	TestAPIKey = "test-api-key"
)

// TestEnv provides a complete test environment: a mock Home Assistant, a mock
// outage API and the daemon's real components wired between them the same
// way cmd/main.go does it.
type TestEnv struct {
	// Public fields - exposed via pkg interfaces
	Server        *MockHAServer
	Vector        *MockVectorServer
	HAClient      pkgha.Client
	StateManager  pkgstate.Manager
	Logger        *zap.Logger
	Clock         *clock.MockClock
	Config        *config.PlannedOutageConfig
	Metrics       *metrics.Metrics
	ShadowTracker *shadowstate.Tracker
	Plugins       []plugin.Plugin

	// Internal references for cleanup and advanced usage
	internalClient *ha.Client
	started        bool
}

// Option adjusts the configuration before the plugins are created
type Option func(*config.PlannedOutageConfig)

// NewTestEnv creates a test environment with a connected client, registered
// plugins and a synced state manager. The plugins are not started yet; call
// Start once the mock servers hold the states a test needs.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv("localhost:18123", "test_token")
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//	env.Vector.SetOutages(outage)
//	env.Start()
func NewTestEnv(addr, token string, opts ...Option) (*TestEnv, error) {
	return newTestEnv(addr, token, false, opts...)
}

// NewReadOnlyTestEnv is NewTestEnv with writes to Home Assistant suppressed
func NewReadOnlyTestEnv(addr, token string, opts ...Option) (*TestEnv, error) {
	return newTestEnv(addr, token, true, opts...)
}

func newTestEnv(addr, token string, readOnly bool, opts ...Option) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	// Start mock HA server
	server := NewMockHAServer(addr, token)
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("failed to start mock server: %w", err)
	}
	server.InitializeStates()

	vectorServer := NewMockVectorServer(TestAPIKey)

	cfg := &config.PlannedOutageConfig{
		ICPNumber:      TestICP,
		APIKey:         TestAPIKey,
		Endpoint:       vectorServer.URL(),
		TimezoneGroup:  "UTC",
		ScanInterval:   config.Duration{Duration: config.DefaultScanInterval},
		RequestTimeout: config.Duration{Duration: 5 * time.Second},
		RefreshEntity:  config.DefaultRefreshEntity,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// Create and connect client
	client := ha.NewClient(server.URL(), token, logger)
	if err := client.Connect(); err != nil {
		vectorServer.Close()
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	stateManager := state.NewManager(client, logger, readOnly)
	env := &TestEnv{
		Server:         server,
		Vector:         vectorServer,
		HAClient:       pkgha.WrapClient(client),
		StateManager:   pkgstate.WrapManager(stateManager),
		Logger:         logger,
		Clock:          clock.NewMockClock(time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)),
		Config:         cfg,
		Metrics:        metrics.New(),
		ShadowTracker:  shadowstate.NewTracker(),
		internalClient: client,
	}

	ctx := plugin.NewContext(env.HAClient, env.StateManager, logger, readOnly, "", time.UTC, cfg)
	ctx.Clock = env.Clock
	ctx.Metrics = env.Metrics
	ctx.ShadowTracker = env.ShadowTracker

	plugins, err := plugin.CreateAll(ctx)
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to create plugins: %w", err)
	}

	// Plugins register their entities in their factories, so sync afterwards
	if err := stateManager.SyncFromHA(); err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to sync state: %w", err)
	}

	coordinator := reset.NewCoordinator(env.HAClient, cfg.RefreshEntity, logger, readOnly, plugin.Resettables(plugins))
	env.Plugins = append(plugins, coordinator)

	return env, nil
}

// Start starts every plugin, which triggers the first poll
func (e *TestEnv) Start() error {
	if err := plugin.StartAll(e.Plugins); err != nil {
		return err
	}
	e.started = true
	return nil
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.started {
		plugin.StopAll(e.Plugins)
		e.started = false
	}
	if e.internalClient != nil {
		e.internalClient.Disconnect()
	}
	if e.Vector != nil {
		e.Vector.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
// Useful for asserting that plugins made expected HA service calls.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearServiceCalls clears the recorded service calls.
func (e *TestEnv) ClearServiceCalls() {
	e.Server.ClearServiceCalls()
}

// WaitFor polls cond until it holds or timeout elapses
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
