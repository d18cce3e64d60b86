package plannedoutage

import (
	"fmt"

	"plannedoutage/internal/mqtt"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/vector"
	"plannedoutage/pkg/plugin"
)

// PluginName is the registry name of the planned outage plugin
const PluginName = "plannedoutage"

func init() {
	plugin.Register(plugin.PluginInfo{
		Name:        PluginName,
		Description: "Polls Vector's planned outage API and publishes outage start/end sensors",
		Priority:    plugin.PriorityDefault,
		Order:       50,
		Factory:     createPlugin,
	})
}

// createPlugin creates a new planned outage plugin instance from the plugin context.
func createPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx.Config == nil {
		return nil, fmt.Errorf("plannedoutage plugin requires configuration")
	}
	if ctx.HAClient == nil || ctx.StateManager == nil {
		return nil, fmt.Errorf("plannedoutage plugin requires a Home Assistant client and state manager")
	}

	cfg := ctx.Config
	fetcher := ctx.Fetcher
	if fetcher == nil {
		fetcher = vector.NewClient(vector.ClientConfig{
			Endpoint:      cfg.Endpoint,
			APIKey:        cfg.APIKey,
			TimezoneGroup: cfg.TimezoneGroup,
			Timeout:       cfg.RequestTimeout.Duration,
		}, ctx.Logger)
	}

	manager := NewManager(fetcher, ctx.HAClient, ctx.StateManager, cfg, ctx.Logger, ctx.ReadOnly)
	if ctx.Clock != nil {
		manager.SetClock(ctx.Clock)
	}
	manager.SetMetrics(ctx.Metrics)

	if ctx.MQTT != nil {
		for _, s := range manager.Sensors() {
			ctx.MQTT.AddEntity(mqtt.Entity{
				EntityID: s.EntityID(),
				Name:     s.Name(),
				UniqueID: s.UniqueID(),
				Icon:     s.Icon(),
			})
		}
	}

	p := &pluginAdapter{manager: manager}
	if ctx.ShadowTracker != nil {
		ctx.ShadowTracker.RegisterPluginProvider(PluginName, p.GetShadowState)
	}
	return p, nil
}

// pluginAdapter wraps the Manager to implement the plugin.Plugin interface.
type pluginAdapter struct {
	manager *Manager
}

func (p *pluginAdapter) Name() string {
	return PluginName
}

func (p *pluginAdapter) Start() error {
	return p.manager.Start()
}

func (p *pluginAdapter) Stop() {
	p.manager.Stop()
}

// Implement plugin.Resettable
func (p *pluginAdapter) Reset() error {
	return p.manager.Reset()
}

// Implement plugin.ShadowStateProvider
func (p *pluginAdapter) GetShadowState() shadowstate.PluginShadowState {
	return p.manager.GetShadowState()
}

// GetManager returns the underlying Manager instance.
func (p *pluginAdapter) GetManager() *Manager {
	return p.manager
}
