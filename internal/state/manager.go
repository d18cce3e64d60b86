package state

import (
	"fmt"
	"sync"
	"time"

	"plannedoutage/internal/ha"

	"go.uber.org/zap"
)

// StateChangeHandler is called when a published entity changes state or attributes
type StateChangeHandler func(entityID string, oldValue, newValue *Entity)

// Subscription represents an active state change subscription
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	entityID string
	id       int
	manager  *Manager
}

func (s *subscription) Unsubscribe() {
	s.manager.unsubscribe(s.entityID, s.id)
}

type subscriberEntry struct {
	id      int
	handler StateChangeHandler
}

// Manager owns the entities this process publishes to Home Assistant. It keeps
// a local cache, writes through to HA and fans out to optional sinks.
type Manager struct {
	client      ha.HAClient
	logger      *zap.Logger
	readOnly    bool
	now         func() time.Time
	definitions map[string]EntityDefinition
	order       []string
	cache       map[string]*Entity
	cacheMu     sync.RWMutex
	sinks       []Sink
	sinksMu     sync.RWMutex
	subscribers map[string][]subscriberEntry
	nextSubID   int
	subsMu      sync.RWMutex
}

// NewManager creates a new state manager
func NewManager(client ha.HAClient, logger *zap.Logger, readOnly bool) *Manager {
	return &Manager{
		client:      client,
		logger:      logger.Named("state"),
		readOnly:    readOnly,
		now:         time.Now,
		definitions: make(map[string]EntityDefinition),
		cache:       make(map[string]*Entity),
		subscribers: make(map[string][]subscriberEntry),
	}
}

// IsReadOnly reports whether writes to Home Assistant are suppressed
func (m *Manager) IsReadOnly() bool {
	return m.readOnly
}

// Register declares entities that may be published. Registering an entity
// twice keeps the first definition.
func (m *Manager) Register(defs ...EntityDefinition) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	for _, def := range defs {
		if _, exists := m.definitions[def.EntityID]; exists {
			continue
		}
		m.definitions[def.EntityID] = def
		m.order = append(m.order, def.EntityID)
	}
}

// AddSink registers a secondary output that receives every publish
func (m *Manager) AddSink(sink Sink) {
	m.sinksMu.Lock()
	m.sinks = append(m.sinks, sink)
	m.sinksMu.Unlock()
}

// SyncFromHA seeds the cache with whatever HA currently reports for the
// registered entities, so a restart does not look like a state change
func (m *Manager) SyncFromHA() error {
	m.logger.Info("Syncing published entities from Home Assistant...")

	states, err := m.client.GetAllStates()
	if err != nil {
		return fmt.Errorf("failed to get states: %w", err)
	}

	stateMap := make(map[string]*ha.State, len(states))
	for _, s := range states {
		stateMap[s.EntityID] = s
	}

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()

	synced := 0
	for _, entityID := range m.order {
		s, ok := stateMap[entityID]
		if !ok {
			m.logger.Debug("Entity not yet known to HA",
				zap.String("entity_id", entityID))
			continue
		}
		m.cache[entityID] = &Entity{
			EntityID:   entityID,
			State:      s.State,
			Attributes: copyAttributes(s.Attributes),
			UpdatedAt:  s.LastUpdated,
		}
		synced++
	}

	m.logger.Info("State sync complete",
		zap.Int("synced", synced),
		zap.Int("total", len(m.order)))

	return nil
}

// Publish stores the entity value and writes it to Home Assistant. HA is
// written on every call, subscribers only hear about actual changes. In
// read-only mode the cache is updated and ErrReadOnlyMode returned.
func (m *Manager) Publish(entityID, stateValue string, attributes map[string]interface{}) error {
	m.cacheMu.Lock()
	if _, ok := m.definitions[entityID]; !ok {
		m.cacheMu.Unlock()
		return fmt.Errorf("entity %s not registered", entityID)
	}

	oldValue := m.cache[entityID]
	newValue := &Entity{
		EntityID:   entityID,
		State:      stateValue,
		Attributes: copyAttributes(attributes),
		UpdatedAt:  m.now(),
	}
	m.cache[entityID] = newValue
	m.cacheMu.Unlock()

	changed := !sameEntity(oldValue, newValue)
	if changed {
		m.logger.Debug("Entity changed",
			zap.String("entity_id", entityID),
			zap.String("state", stateValue))
		m.notifySubscribers(entityID, oldValue, newValue)
	}

	if m.readOnly {
		return ErrReadOnlyMode
	}

	if err := m.client.SetEntityState(entityID, stateValue, attributes); err != nil {
		// Rollback cache on error so the next publish is treated as a change
		m.cacheMu.Lock()
		if m.cache[entityID] == newValue {
			if oldValue == nil {
				delete(m.cache, entityID)
			} else {
				m.cache[entityID] = oldValue
			}
		}
		m.cacheMu.Unlock()
		return fmt.Errorf("failed to set HA value: %w", err)
	}

	m.sinksMu.RLock()
	sinks := append([]Sink(nil), m.sinks...)
	m.sinksMu.RUnlock()

	for _, sink := range sinks {
		if err := sink.PublishState(entityID, stateValue, attributes); err != nil {
			m.logger.Warn("Sink rejected state",
				zap.String("entity_id", entityID),
				zap.Error(err))
		}
	}

	return nil
}

// Get returns the cached value of an entity. Registered entities that were
// never published report their default state.
func (m *Manager) Get(entityID string) (Entity, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()

	if e, ok := m.cache[entityID]; ok {
		out := *e
		out.Attributes = copyAttributes(e.Attributes)
		return out, true
	}
	if def, ok := m.definitions[entityID]; ok {
		return Entity{EntityID: entityID, State: def.Default}, true
	}
	return Entity{}, false
}

// GetAllValues returns every registered entity in registration order
func (m *Manager) GetAllValues() []Entity {
	m.cacheMu.RLock()
	ids := append([]string(nil), m.order...)
	m.cacheMu.RUnlock()

	values := make([]Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := m.Get(id); ok {
			values = append(values, e)
		}
	}
	return values
}

// Subscribe registers a handler for changes to a published entity.
// Handlers run synchronously on the publishing goroutine.
func (m *Manager) Subscribe(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.cacheMu.RLock()
	_, ok := m.definitions[entityID]
	m.cacheMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entity %s not registered", entityID)
	}

	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{id: id, handler: handler})

	return &subscription{entityID: entityID, id: id, manager: m}, nil
}

func (m *Manager) unsubscribe(entityID string, id int) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	entries := m.subscribers[entityID]
	for i, entry := range entries {
		if entry.id == id {
			m.subscribers[entityID] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(m.subscribers[entityID]) == 0 {
		delete(m.subscribers, entityID)
	}
}

func (m *Manager) notifySubscribers(entityID string, oldValue, newValue *Entity) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		m.invoke(entry.handler, entityID, oldValue, newValue)
	}
}

func (m *Manager) invoke(handler StateChangeHandler, entityID string, oldValue, newValue *Entity) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("State change handler panicked",
				zap.String("entity_id", entityID),
				zap.Any("panic", r))
		}
	}()
	handler(entityID, oldValue, newValue)
}
