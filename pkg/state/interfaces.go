// Package state provides the public interface definitions for state management.
// These interfaces can be imported by external packages (including private
// plugin implementations).
//
// The actual implementation is in internal/state, which is wrapped by these
// public interfaces for external consumption.
package state

import "plannedoutage/internal/state"

// Value types are shared with internal/state so no conversion is needed.
type (
	Entity             = state.Entity
	EntityDefinition   = state.EntityDefinition
	Sink               = state.Sink
	StateChangeHandler = state.StateChangeHandler
	Subscription       = state.Subscription
)

// ErrReadOnlyMode is returned by Publish in read-only mode.
var ErrReadOnlyMode = state.ErrReadOnlyMode

// Manager defines the interface for state management.
// This interface matches the public methods of internal/state.Manager.
type Manager interface {
	IsReadOnly() bool

	// Registration
	Register(defs ...EntityDefinition)
	AddSink(sink Sink)

	// Sync methods
	SyncFromHA() error

	// Publishing and lookup
	Publish(entityID, state string, attributes map[string]interface{}) error
	Get(entityID string) (Entity, bool)
	GetAllValues() []Entity

	// Subscription
	Subscribe(entityID string, handler StateChangeHandler) (Subscription, error)
}
