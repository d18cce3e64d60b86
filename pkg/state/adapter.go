package state

import (
	"plannedoutage/internal/state"
)

// ManagerAdapter wraps internal state.Manager to implement pkg state.Manager
type ManagerAdapter struct {
	internal *state.Manager
}

// WrapManager wraps an internal state.Manager to implement the pkg state.Manager interface
func WrapManager(m *state.Manager) Manager {
	return &ManagerAdapter{internal: m}
}

// UnwrapManager returns the underlying internal manager if available
func UnwrapManager(m Manager) *state.Manager {
	if adapter, ok := m.(*ManagerAdapter); ok {
		return adapter.internal
	}
	return nil
}

func (a *ManagerAdapter) IsReadOnly() bool {
	return a.internal.IsReadOnly()
}

func (a *ManagerAdapter) Register(defs ...EntityDefinition) {
	a.internal.Register(defs...)
}

func (a *ManagerAdapter) AddSink(sink Sink) {
	a.internal.AddSink(sink)
}

func (a *ManagerAdapter) SyncFromHA() error {
	return a.internal.SyncFromHA()
}

func (a *ManagerAdapter) Publish(entityID, value string, attributes map[string]interface{}) error {
	return a.internal.Publish(entityID, value, attributes)
}

func (a *ManagerAdapter) Get(entityID string) (Entity, bool) {
	return a.internal.Get(entityID)
}

func (a *ManagerAdapter) GetAllValues() []Entity {
	return a.internal.GetAllValues()
}

func (a *ManagerAdapter) Subscribe(entityID string, handler StateChangeHandler) (Subscription, error) {
	return a.internal.Subscribe(entityID, handler)
}
