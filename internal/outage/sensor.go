package outage

import (
	"fmt"
	"strings"
	"sync"

	"plannedoutage/internal/vector"
)

const (
	// Icon is the Material Design icon shown for both sensors
	Icon = "mdi:power-plug-off-outline"

	namePrefix = "Planned Power Outage"
)

// SensorValue is the derived state of one sensor. A nil pointer means absent.
type SensorValue struct {
	State  *string `json:"state"`
	Reason *string `json:"reason"`
}

// Absent reports whether the sensor currently has no outage to show
func (v SensorValue) Absent() bool {
	return v.State == nil
}

// StateOr returns the state, or def when absent
func (v SensorValue) StateOr(def string) string {
	if v.State == nil {
		return def
	}
	return *v.State
}

// Sensor is one exposed entity. Start and end sensors are the same type
// with a different Field.
type Sensor struct {
	field    Field
	name     string
	uniqueID string
	entityID string

	mu    sync.RWMutex
	value SensorValue
}

// NewSensor creates a sensor for the given ICP and field
func NewSensor(icp string, field Field) *Sensor {
	name := fmt.Sprintf("%s %s", namePrefix, field.Label)
	return &Sensor{
		field:    field,
		name:     name,
		uniqueID: fmt.Sprintf("power_outage_sensor_%s_%s", icp, field.Label),
		entityID: "sensor." + strings.ReplaceAll(strings.ToLower(name), " ", "_"),
	}
}

// Name returns the friendly name
func (s *Sensor) Name() string { return s.name }

// Icon returns the sensor icon
func (s *Sensor) Icon() string { return Icon }

// UniqueID returns the stable unique identifier
func (s *Sensor) UniqueID() string { return s.uniqueID }

// EntityID returns the Home Assistant entity ID
func (s *Sensor) EntityID() string { return s.entityID }

// Field returns the field selector
func (s *Sensor) Field() Field { return s.field }

// Value returns the last computed value
func (s *Sensor) Value() SensorValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// State returns the formatted timestamp, or nil when absent
func (s *Sensor) State() *string {
	return s.Value().State
}

// Attributes returns the extra state attributes
func (s *Sensor) Attributes() map[string]interface{} {
	v := s.Value()
	attrs := map[string]interface{}{"reason": nil}
	if v.Reason != nil {
		attrs["reason"] = *v.Reason
	}
	return attrs
}

// Clear resets the sensor to absent
func (s *Sensor) Clear() {
	s.set(SensorValue{})
}

// Apply derives the sensor value from the selected outage. On a parse
// error the sensor is cleared and the error returned.
func (s *Sensor) Apply(o *vector.Outage) error {
	if o == nil {
		s.Clear()
		return nil
	}

	state, err := Derive(o, s.field)
	if err != nil {
		s.Clear()
		return err
	}

	// The reason is published verbatim, an empty string included
	reason := o.Reason
	s.set(SensorValue{State: state, Reason: &reason})
	return nil
}

func (s *Sensor) set(v SensorValue) {
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}
