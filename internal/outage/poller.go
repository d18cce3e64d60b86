package outage

import (
	"context"
	"errors"
	"time"

	"plannedoutage/internal/vector"

	"go.uber.org/zap"
)

// Outcome classifies a poll
type Outcome string

const (
	OutcomeOutage     Outcome = "outage"
	OutcomeNoOutage   Outcome = "no_outage"
	OutcomeFetchError Outcome = "fetch_error"
	OutcomeParseError Outcome = "parse_error"
)

// Result describes one poll
type Result struct {
	Outcome     Outcome
	Outage      *vector.Outage
	OutageCount int
	FetchedAt   time.Time
	Duration    time.Duration
	Err         error
	Start       SensorValue
	End         SensorValue
}

// Poller fetches planned outages once per update and feeds the result to
// both the start and end sensors
type Poller struct {
	fetcher vector.Fetcher
	icp     string
	start   *Sensor
	end     *Sensor
	logger  *zap.Logger
	now     func() time.Time
}

// NewPoller creates a poller for one ICP number
func NewPoller(fetcher vector.Fetcher, icp string, logger *zap.Logger) *Poller {
	return &Poller{
		fetcher: fetcher,
		icp:     icp,
		start:   NewSensor(icp, FieldStart),
		end:     NewSensor(icp, FieldEnd),
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the time source used for Result.FetchedAt
func (p *Poller) WithNow(now func() time.Time) *Poller {
	p.now = now
	return p
}

// StartSensor returns the outage start sensor
func (p *Poller) StartSensor() *Sensor { return p.start }

// EndSensor returns the outage end sensor
func (p *Poller) EndSensor() *Sensor { return p.end }

// Sensors returns both sensors, start first
func (p *Poller) Sensors() []*Sensor {
	return []*Sensor{p.start, p.end}
}

// Update runs one poll cycle. Every failure is logged and turned into the
// "no outage" state; nothing is returned as an error.
func (p *Poller) Update(ctx context.Context) Result {
	started := p.now()
	result := Result{FetchedAt: started}

	resp, err := p.fetcher.Fetch(ctx, p.icp)
	result.Duration = p.now().Sub(started)
	if err != nil {
		p.clear()
		result.Err = err
		result.Outcome = OutcomeFetchError

		var parseErr *vector.ParseError
		if errors.As(err, &parseErr) {
			result.Outcome = OutcomeParseError
		}

		p.logger.Error("Error occurred during planned outage API call",
			zap.String("icp", p.icp),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
		return p.finish(result)
	}

	// A nil response reads as an empty list
	selected, err := Select(resp)
	if errors.Is(err, ErrNoOutage) {
		p.clear()
		result.Outcome = OutcomeNoOutage
		p.logger.Info("No future planned outages", zap.String("icp", p.icp))
		return p.finish(result)
	}

	result.OutageCount = len(resp.FuturePlannedOutages)
	result.Outage = selected
	result.Outcome = OutcomeOutage

	for _, s := range p.Sensors() {
		if err := s.Apply(selected); err != nil {
			result.Outcome = OutcomeParseError
			result.Err = err
			p.logger.Error("Failed to derive outage time",
				zap.String("icp", p.icp),
				zap.String("sensor", s.EntityID()),
				zap.Error(err))
		}
	}

	p.logger.Info("Planned outage updated",
		zap.String("icp", p.icp),
		zap.Int("outages", result.OutageCount),
		zap.String("start", p.start.Value().StateOr("")),
		zap.String("end", p.end.Value().StateOr("")),
		zap.String("reason", selected.Reason))

	return p.finish(result)
}

func (p *Poller) clear() {
	for _, s := range p.Sensors() {
		s.Clear()
	}
}

func (p *Poller) finish(result Result) Result {
	result.Start = p.start.Value()
	result.End = p.end.Value()
	return result
}
