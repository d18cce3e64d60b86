package shadowstate

import "time"

// PluginShadowState is the interface that all plugin shadow states must implement
type PluginShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata contains metadata about the shadow state
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// PollRecord summarises one poll of the outage API
type PollRecord struct {
	Timestamp time.Time     `json:"timestamp"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// maxRecentPolls bounds PlannedOutageOutputs.RecentPolls
const maxRecentPolls = 10

// PlannedOutageShadowState represents the shadow state for the planned outage plugin
type PlannedOutageShadowState struct {
	Plugin   string               `json:"plugin"`
	Inputs   PlannedOutageInputs  `json:"inputs"`
	Outputs  PlannedOutageOutputs `json:"outputs"`
	Metadata StateMetadata        `json:"metadata"`
}

// PlannedOutageInputs tracks the API response as seen by the latest poll and
// by the poll that last changed a sensor
type PlannedOutageInputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// SensorOutput is the published value of one sensor. Nil means absent.
type SensorOutput struct {
	EntityID string  `json:"entityId"`
	State    *string `json:"state"`
	Reason   *string `json:"reason"`
}

// PlannedOutageOutputs tracks what the plugin published
type PlannedOutageOutputs struct {
	Start          SensorOutput `json:"start"`
	End            SensorOutput `json:"end"`
	LastOutcome    string       `json:"lastOutcome"`
	LastError      string       `json:"lastError,omitempty"`
	LastPollTime   time.Time    `json:"lastPollTime"`
	LastChangeTime time.Time    `json:"lastChangeTime"`
	PollCount      int          `json:"pollCount"`
	RecentPolls    []PollRecord `json:"recentPolls"`
}

// GetCurrentInputs implements PluginShadowState
func (p *PlannedOutageShadowState) GetCurrentInputs() map[string]interface{} {
	return p.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (p *PlannedOutageShadowState) GetLastActionInputs() map[string]interface{} {
	return p.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (p *PlannedOutageShadowState) GetOutputs() interface{} {
	return p.Outputs
}

// GetMetadata implements PluginShadowState
func (p *PlannedOutageShadowState) GetMetadata() StateMetadata {
	return p.Metadata
}

// NewPlannedOutageShadowState creates a new, empty shadow state
func NewPlannedOutageShadowState() *PlannedOutageShadowState {
	return &PlannedOutageShadowState{
		Plugin: "plannedoutage",
		Inputs: PlannedOutageInputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: PlannedOutageOutputs{
			RecentPolls: make([]PollRecord, 0),
		},
		Metadata: StateMetadata{
			LastUpdated: time.Now(),
			PluginName:  "plannedoutage",
		},
	}
}
