// Package reset watches the refresh entity in Home Assistant and asks every
// resettable plugin to re-poll when it is pressed.
package reset

import (
	"fmt"
	"strings"
	"sync"

	pkgha "plannedoutage/pkg/ha"
	"plannedoutage/pkg/plugin"

	"go.uber.org/zap"
)

// Coordinator watches the refresh entity and orchestrates system-wide refreshes
type Coordinator struct {
	haClient     pkgha.Client
	entityID     string
	logger       *zap.Logger
	readOnly     bool
	plugins      []plugin.NamedResettable
	subscription pkgha.Subscription
	pending      sync.WaitGroup
}

// NewCoordinator creates a new refresh coordinator. entityID is usually an
// input_button; an input_boolean is also accepted and turned back off after
// each trigger.
func NewCoordinator(haClient pkgha.Client, entityID string, logger *zap.Logger, readOnly bool, plugins []plugin.NamedResettable) *Coordinator {
	return &Coordinator{
		haClient: haClient,
		entityID: entityID,
		logger:   logger.Named("reset"),
		readOnly: readOnly,
		plugins:  plugins,
	}
}

// Name implements plugin.Plugin
func (c *Coordinator) Name() string {
	return "reset"
}

// Start begins monitoring the refresh entity
func (c *Coordinator) Start() error {
	c.logger.Info("Starting Refresh Coordinator",
		zap.String("entity_id", c.entityID),
		zap.Int("plugin_count", len(c.plugins)),
		zap.Bool("read_only", c.readOnly))

	sub, err := c.haClient.SubscribeStateChanges(c.entityID, c.handleRefreshChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.entityID, err)
	}
	c.subscription = sub

	c.logger.Info("Refresh Coordinator started successfully")
	return nil
}

// Stop cleans up the coordinator
func (c *Coordinator) Stop() {
	if c.subscription != nil {
		if err := c.subscription.Unsubscribe(); err != nil {
			c.logger.Warn("Failed to unsubscribe from refresh entity", zap.Error(err))
		}
		c.subscription = nil
	}
	c.pending.Wait()
	c.logger.Info("Refresh Coordinator stopped")
}

// handleRefreshChange processes refresh entity changes
func (c *Coordinator) handleRefreshChange(entityID string, oldState, newState *pkgha.State) {
	if newState == nil {
		return
	}

	switch newState.State {
	case "unavailable", "unknown":
		return
	}

	if strings.HasPrefix(entityID, "input_boolean.") {
		// Only act when the boolean goes on
		if newState.State != "on" {
			return
		}
		c.logger.Info("Refresh triggered", zap.String("entity_id", entityID))
		// Handlers run on the HA read loop, which must stay free to deliver
		// the service call's response
		c.pending.Add(1)
		go func() {
			defer c.pending.Done()
			c.turnOff(entityID)
		}()
	} else {
		// A button press writes a new timestamp. A missing old state is the
		// entity being created, not pressed.
		if oldState == nil || oldState.State == newState.State {
			return
		}
		c.logger.Info("Refresh triggered", zap.String("entity_id", entityID))
	}

	c.executeReset()
}

// turnOff flips an input_boolean trigger back off to prevent loops
func (c *Coordinator) turnOff(entityID string) {
	if c.readOnly {
		c.logger.Info("READ-ONLY: Would turn refresh boolean off")
		return
	}
	err := c.haClient.CallService("input_boolean", "turn_off", map[string]interface{}{"entity_id": entityID})
	if err != nil {
		// Continue with the refresh anyway
		c.logger.Error("Failed to turn refresh boolean off", zap.Error(err))
	}
}

// executeReset calls Reset() on all plugins in order
func (c *Coordinator) executeReset() {
	c.logger.Info("Executing refresh on all plugins",
		zap.Int("plugin_count", len(c.plugins)))

	successCount := 0
	errorCount := 0

	for _, p := range c.plugins {
		if err := p.Plugin.Reset(); err != nil {
			c.logger.Error("Failed to reset plugin",
				zap.String("plugin", p.Name),
				zap.Error(err))
			errorCount++
			// Continue to reset other plugins
			continue
		}
		c.logger.Debug("Reset plugin", zap.String("plugin", p.Name))
		successCount++
	}

	c.logger.Info("Refresh complete",
		zap.Int("success", successCount),
		zap.Int("errors", errorCount),
		zap.Int("total", len(c.plugins)))
}
