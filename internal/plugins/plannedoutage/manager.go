package plannedoutage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"plannedoutage/internal/clock"
	"plannedoutage/internal/config"
	"plannedoutage/internal/metrics"
	"plannedoutage/internal/outage"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/vector"
	pkgha "plannedoutage/pkg/ha"
	pkgstate "plannedoutage/pkg/state"

	"go.uber.org/zap"
)

// UnknownState is published while a sensor has no value
const UnknownState = "unknown"

// Manager polls the outage API on a fixed interval and publishes the start
// and end sensors to Home Assistant
type Manager struct {
	haClient      pkgha.Client
	stateManager  pkgstate.Manager
	poller        *outage.Poller
	config        *config.PlannedOutageConfig
	logger        *zap.Logger
	readOnly      bool
	clock         clock.Clock
	location      *time.Location
	metrics       *metrics.Metrics
	shadowTracker *shadowstate.PlannedOutageTracker

	// lastNotifiedStart is the outage start last announced. Only the run
	// goroutine touches it once Start has returned.
	lastNotifiedStart string

	// trigger holds at most one pending poll request
	trigger chan struct{}

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	timerMu sync.Mutex
	timer   clock.Timer
}

// NewManager creates a planned outage manager and registers its sensors with
// the state manager
func NewManager(fetcher vector.Fetcher, haClient pkgha.Client, stateManager pkgstate.Manager, cfg *config.PlannedOutageConfig, logger *zap.Logger, readOnly bool) *Manager {
	logger = logger.Named("plannedoutage")

	location, err := time.LoadLocation(cfg.TimezoneGroup)
	if err != nil {
		logger.Warn("Unknown timezone group, using local time for metrics",
			zap.String("timezone_group", cfg.TimezoneGroup),
			zap.Error(err))
		location = time.Local
	}

	c := clock.NewRealClock()
	poller := outage.NewPoller(fetcher, cfg.ICPNumber, logger).WithNow(c.Now)

	m := &Manager{
		haClient:      haClient,
		stateManager:  stateManager,
		poller:        poller,
		config:        cfg,
		logger:        logger,
		readOnly:      readOnly,
		clock:         c,
		location:      location,
		shadowTracker: shadowstate.NewPlannedOutageTracker(poller.StartSensor().EntityID(), poller.EndSensor().EntityID()),
		trigger:       make(chan struct{}, 1),
	}

	for _, s := range poller.Sensors() {
		stateManager.Register(pkgstate.EntityDefinition{EntityID: s.EntityID(), Default: UnknownState})
	}

	return m
}

// SetClock sets the clock implementation (useful for testing)
func (m *Manager) SetClock(c clock.Clock) {
	m.clock = c
	m.poller.WithNow(c.Now)
}

// SetMetrics attaches Prometheus collectors. Nil disables metrics.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.metrics = mt
}

// Sensors returns the start and end sensors
func (m *Manager) Sensors() []*outage.Sensor {
	return m.poller.Sensors()
}

// GetShadowState returns the current shadow state
func (m *Manager) GetShadowState() *shadowstate.PlannedOutageShadowState {
	return m.shadowTracker.GetState()
}

// Start polls immediately and then every scan interval
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("planned outage manager already started")
	}

	m.logger.Info("Starting Planned Outage Manager",
		zap.String("icp", m.config.ICPNumber),
		zap.Duration("scan_interval", m.config.ScanInterval.Duration),
		zap.Bool("read_only", m.readOnly))

	// An outage HA already shows was announced by a previous run
	if synced, ok := m.stateManager.Get(m.poller.StartSensor().EntityID()); ok && synced.State != UnknownState {
		m.lastNotifiedStart = synced.State
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})

	m.requestPoll()
	go m.run(m.ctx, m.done)

	m.logger.Info("Planned Outage Manager started successfully")
	return nil
}

// Stop cancels any in-flight poll and waits for the scheduler to exit
func (m *Manager) Stop() {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}

	m.logger.Info("Stopping Planned Outage Manager")
	cancel()

	m.timerMu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerMu.Unlock()

	<-done
	m.logger.Info("Planned Outage Manager stopped")
}

// Reset requests an immediate poll. It never blocks; a request made while a
// poll is running is coalesced into one follow-up poll.
func (m *Manager) Reset() error {
	m.logger.Info("Refresh requested")
	m.requestPoll()
	return nil
}

func (m *Manager) requestPoll() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			m.tick(ctx)
			m.schedule(ctx)
		}
	}
}

// tick runs one poll on a worker goroutine and waits for its result, so
// ticks never overlap
func (m *Manager) tick(ctx context.Context) {
	results := make(chan outage.Result, 1)
	go func() {
		results <- m.poller.Update(ctx)
	}()
	result := <-results

	if ctx.Err() != nil {
		m.logger.Debug("Discarding poll result, manager stopping")
		return
	}
	m.handleResult(result)
}

func (m *Manager) schedule(ctx context.Context) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if ctx.Err() != nil {
		return
	}
	m.timer = m.clock.AfterFunc(m.config.ScanInterval.Duration, m.requestPoll)
}

func (m *Manager) handleResult(result outage.Result) {
	for _, s := range m.poller.Sensors() {
		m.publish(s)
	}

	m.maybeNotify(result)
	m.recordMetrics(result)
	m.recordShadowState(result)
}

// publish writes one sensor through the state manager
func (m *Manager) publish(s *outage.Sensor) {
	value := s.Value()
	attrs := s.Attributes()
	attrs["friendly_name"] = s.Name()
	attrs["icon"] = s.Icon()
	attrs["unique_id"] = s.UniqueID()
	attrs["icp_number"] = m.config.ICPNumber

	err := m.stateManager.Publish(s.EntityID(), value.StateOr(UnknownState), attrs)
	switch {
	case err == nil:
	case errors.Is(err, pkgstate.ErrReadOnlyMode):
		m.logger.Info("READ-ONLY: Would publish sensor",
			zap.String("entity_id", s.EntityID()),
			zap.String("state", value.StateOr(UnknownState)))
	default:
		m.logger.Error("Failed to publish sensor",
			zap.String("entity_id", s.EntityID()),
			zap.Error(err))
		if m.metrics != nil {
			m.metrics.IncPublishError(s.EntityID())
		}
	}
}

// maybeNotify raises a persistent notification when an outage start other
// than the last announced one appears. Polls that clear the sensors leave
// the last announced start alone.
func (m *Manager) maybeNotify(result outage.Result) {
	if !m.config.NotifyNewOutage || result.Start.Absent() {
		return
	}
	current := *result.Start.State
	if current == m.lastNotifiedStart {
		return
	}

	message := fmt.Sprintf("A planned power outage is scheduled for ICP %s from %s to %s.",
		m.config.ICPNumber, current, result.End.StateOr(UnknownState))
	if result.Start.Reason != nil && *result.Start.Reason != "" {
		message += fmt.Sprintf(" Reason: %s.", *result.Start.Reason)
	}

	if m.readOnly {
		m.logger.Info("READ-ONLY: Would send new outage notification", zap.String("message", message))
		m.lastNotifiedStart = current
		return
	}

	err := m.haClient.CallService("persistent_notification", "create", map[string]interface{}{
		"title":           "Planned power outage",
		"message":         message,
		"notification_id": "planned_outage_" + strings.ToLower(m.config.ICPNumber),
	})
	if err != nil {
		m.logger.Error("Failed to send new outage notification", zap.Error(err))
		return
	}
	m.lastNotifiedStart = current
	m.logger.Info("Sent new outage notification", zap.String("start", current))
}

func (m *Manager) recordShadowState(result outage.Result) {
	inputs := map[string]interface{}{
		"icp_number":   m.config.ICPNumber,
		"fetched_at":   result.FetchedAt,
		"outage_count": result.OutageCount,
	}
	if result.Outage != nil {
		inputs["selected_outage"] = *result.Outage
	} else {
		inputs["selected_outage"] = nil
	}
	m.shadowTracker.UpdateCurrentInputs(inputs)

	record := shadowstate.PollRecord{
		Timestamp: result.FetchedAt,
		Outcome:   string(result.Outcome),
		Duration:  result.Duration,
	}
	if result.Err != nil {
		record.Error = result.Err.Error()
	}

	changed := m.shadowTracker.RecordPoll(record,
		shadowstate.SensorOutput{State: result.Start.State, Reason: result.Start.Reason},
		shadowstate.SensorOutput{State: result.End.State, Reason: result.End.Reason})
	if changed {
		m.logger.Debug("Planned outage sensors changed",
			zap.String("start", result.Start.StateOr(UnknownState)),
			zap.String("end", result.End.StateOr(UnknownState)))
	}
}

func (m *Manager) recordMetrics(result outage.Result) {
	if m.metrics == nil {
		return
	}

	// A date that fails to parse after a good fetch still counts as a refresh
	failed := result.Outcome == outage.OutcomeFetchError ||
		(result.Outcome == outage.OutcomeParseError && result.Outage == nil)

	m.metrics.ObservePoll(string(result.Outcome), failed, result.Duration, result.FetchedAt, result.OutageCount)
	m.metrics.SetNextOutage(m.config.ICPNumber, m.localTime(result.Start), m.localTime(result.End))
}

// localTime interprets a sensor state in the API's timezone
func (m *Manager) localTime(v outage.SensorValue) *time.Time {
	if v.Absent() {
		return nil
	}
	t, err := time.ParseInLocation(outage.DisplayLayout, *v.State, m.location)
	if err != nil {
		return nil
	}
	return &t
}
