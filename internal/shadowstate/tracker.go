package shadowstate

import (
	"sync"
	"time"
)

// Tracker manages shadow state for all plugins
type Tracker struct {
	mu             sync.RWMutex
	pluginStates   map[string]PluginShadowState
	stateProviders map[string]func() PluginShadowState
}

// NewTracker creates a new shadow state tracker
func NewTracker() *Tracker {
	return &Tracker{
		pluginStates:   make(map[string]PluginShadowState),
		stateProviders: make(map[string]func() PluginShadowState),
	}
}

// RegisterPlugin registers a plugin's shadow state
func (t *Tracker) RegisterPlugin(pluginName string, state PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pluginStates[pluginName] = state
}

// RegisterPluginProvider registers a function that provides a plugin's shadow state dynamically
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stateProviders[pluginName] = provider
}

// GetPluginState retrieves a plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Check provider first (dynamic state)
	if provider, ok := t.stateProviders[pluginName]; ok {
		return provider(), true
	}

	// Fall back to static state
	state, ok := t.pluginStates[pluginName]
	return state, ok
}

// GetAllPluginStates retrieves all plugin shadow states
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	totalSize := len(t.pluginStates) + len(t.stateProviders)
	states := make(map[string]PluginShadowState, totalSize)

	// Add static states
	for k, v := range t.pluginStates {
		states[k] = v
	}

	// Add provider states (these take precedence if there's a name collision)
	for k, provider := range t.stateProviders {
		states[k] = provider()
	}

	return states
}

// PlannedOutageTracker manages shadow state for the planned outage plugin
type PlannedOutageTracker struct {
	mu    sync.RWMutex
	state *PlannedOutageShadowState
}

// NewPlannedOutageTracker creates a tracker for the given sensor entities
func NewPlannedOutageTracker(startEntityID, endEntityID string) *PlannedOutageTracker {
	state := NewPlannedOutageShadowState()
	state.Outputs.Start.EntityID = startEntityID
	state.Outputs.End.EntityID = endEntityID
	return &PlannedOutageTracker{state: state}
}

// UpdateCurrentInputs merges the given values into the current inputs
func (pt *PlannedOutageTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for key, value := range inputs {
		pt.state.Inputs.Current[key] = value
	}
	pt.state.Metadata.LastUpdated = time.Now()
}

func (pt *PlannedOutageTracker) snapshotLocked() {
	pt.state.Inputs.AtLastAction = make(map[string]interface{}, len(pt.state.Inputs.Current))
	for key, value := range pt.state.Inputs.Current {
		pt.state.Inputs.AtLastAction[key] = value
	}
}

// RecordPoll stores the outcome of a poll and the sensor values it produced.
// It reports whether either sensor changed; when one did, the current inputs
// are snapshotted as the inputs of the last action.
// The EntityID of start and end is ignored.
func (pt *PlannedOutageTracker) RecordPoll(record PollRecord, start, end SensorOutput) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	out := &pt.state.Outputs
	changed := !sameOutput(out.Start, start) || !sameOutput(out.End, end)

	out.Start.State, out.Start.Reason = cloneString(start.State), cloneString(start.Reason)
	out.End.State, out.End.Reason = cloneString(end.State), cloneString(end.Reason)
	out.LastOutcome = record.Outcome
	out.LastError = record.Error
	out.LastPollTime = record.Timestamp
	out.PollCount++

	out.RecentPolls = append(out.RecentPolls, record)
	if len(out.RecentPolls) > maxRecentPolls {
		out.RecentPolls = append([]PollRecord(nil), out.RecentPolls[len(out.RecentPolls)-maxRecentPolls:]...)
	}

	if changed {
		out.LastChangeTime = record.Timestamp
		pt.snapshotLocked()
	}
	pt.state.Metadata.LastUpdated = time.Now()

	return changed
}

// GetState returns the current shadow state (thread-safe copy)
func (pt *PlannedOutageTracker) GetState() *PlannedOutageShadowState {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	stateCopy := &PlannedOutageShadowState{
		Plugin: pt.state.Plugin,
		Inputs: PlannedOutageInputs{
			Current:      make(map[string]interface{}, len(pt.state.Inputs.Current)),
			AtLastAction: make(map[string]interface{}, len(pt.state.Inputs.AtLastAction)),
		},
		Outputs:  pt.state.Outputs,
		Metadata: pt.state.Metadata,
	}

	for k, v := range pt.state.Inputs.Current {
		stateCopy.Inputs.Current[k] = v
	}
	for k, v := range pt.state.Inputs.AtLastAction {
		stateCopy.Inputs.AtLastAction[k] = v
	}

	stateCopy.Outputs.RecentPolls = append([]PollRecord(nil), pt.state.Outputs.RecentPolls...)
	stateCopy.Outputs.Start.State = cloneString(pt.state.Outputs.Start.State)
	stateCopy.Outputs.Start.Reason = cloneString(pt.state.Outputs.Start.Reason)
	stateCopy.Outputs.End.State = cloneString(pt.state.Outputs.End.State)
	stateCopy.Outputs.End.Reason = cloneString(pt.state.Outputs.End.Reason)

	return stateCopy
}

func sameOutput(a, b SensorOutput) bool {
	return sameString(a.State, b.State) && sameString(a.Reason, b.Reason)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
