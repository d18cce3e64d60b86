// Package outage selects the next planned outage from an API response and
// derives the start/end sensor values shown in Home Assistant.
package outage

import (
	"errors"
	"time"

	"plannedoutage/internal/vector"
)

const (
	// advertisedLayout is the date and time fields joined with a space
	advertisedLayout = "2006-01-02 15:04:05"

	// DisplayLayout is the format of the published sensor state
	DisplayLayout = "2006-01-02 15:04"
)

// ErrNoOutage means the API reported no future planned outages.
// It is a valid terminal state rather than a failure.
var ErrNoOutage = errors.New("no planned outage")

// Field selects which end of an outage a sensor reports
type Field struct {
	// Key is used in entity IDs and logs ("start", "end")
	Key string

	// Label is the human readable suffix of the sensor name
	Label string

	date  func(o *vector.Outage) string
	clock func(w vector.TimeWindow) string
}

var (
	// FieldStart reports advertisedStartDate with the first window's start
	FieldStart = Field{
		Key:   "start",
		Label: "Start Time",
		date:  func(o *vector.Outage) string { return o.AdvertisedStartDate },
		clock: func(w vector.TimeWindow) string { return w.Start },
	}

	// FieldEnd reports advertisedEndDate with the first window's end
	FieldEnd = Field{
		Key:   "end",
		Label: "End Time",
		date:  func(o *vector.Outage) string { return o.AdvertisedEndDate },
		clock: func(w vector.TimeWindow) string { return w.End },
	}
)

// Select returns the first outage in the response. The API orders the list
// soonest first; no local sorting is done. An empty or missing list returns
// ErrNoOutage.
func Select(resp *vector.Response) (*vector.Outage, error) {
	if resp == nil || len(resp.FuturePlannedOutages) == 0 {
		return nil, ErrNoOutage
	}
	return &resp.FuturePlannedOutages[0], nil
}

// Derive builds the display timestamp for one end of an outage.
// It returns nil with no error when the outage has no advertised times or
// the relevant date/time is missing, and a *vector.ParseError when the
// combined value is not a valid "YYYY-MM-DD HH:MM:SS".
func Derive(o *vector.Outage, field Field) (*string, error) {
	if o == nil {
		return nil, nil
	}

	window, ok := o.FirstWindow()
	if !ok {
		return nil, nil
	}

	date := field.date(o)
	clock := field.clock(window)
	if date == "" || clock == "" {
		return nil, nil
	}

	raw := date + " " + clock
	t, err := time.Parse(advertisedLayout, raw)
	if err != nil {
		return nil, &vector.ParseError{Field: field.Key + " time", Value: raw, Err: err}
	}

	formatted := t.Format(DisplayLayout)
	return &formatted, nil
}

// DeriveStart is Derive with FieldStart
func DeriveStart(o *vector.Outage) (*string, error) {
	return Derive(o, FieldStart)
}

// DeriveEnd is Derive with FieldEnd
func DeriveEnd(o *vector.Outage) (*string, error) {
	return Derive(o, FieldEnd)
}
