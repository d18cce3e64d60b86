package state

import (
	"errors"
	"reflect"
	"time"
)

// ErrReadOnlyMode is returned by Publish when the manager was created in
// read-only mode. The local cache is still updated.
var ErrReadOnlyMode = errors.New("read-only mode: state not written to Home Assistant")

// EntityDefinition declares an entity the manager is allowed to publish
type EntityDefinition struct {
	EntityID string // HA entity ID (e.g., "sensor.planned_power_outage_start_time")
	Default  string // State used before the first publish and when HA has no value
}

// Entity is the last known value of a published entity
type Entity struct {
	EntityID   string                 `json:"entity_id"`
	State      string                 `json:"state"`
	Attributes map[string]interface{} `json:"attributes"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Sink receives every successful publish. Used for secondary outputs such as MQTT.
type Sink interface {
	PublishState(entityID, state string, attributes map[string]interface{}) error
}

func copyAttributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// sameEntity compares state and attributes, ignoring timestamps
func sameEntity(a, b *Entity) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.State != b.State || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for k, v := range a.Attributes {
		other, ok := b.Attributes[k]
		if !ok || !reflect.DeepEqual(other, v) {
			return false
		}
	}
	return true
}
