package outage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"plannedoutage/internal/vector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// fakeFetcher returns canned responses in order
type fakeFetcher struct {
	mu        sync.Mutex
	responses []*vector.Response
	errs      []error
	calls     int
}

func (f *fakeFetcher) Fetch(ctx context.Context, icp string) (*vector.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &vector.Response{}, nil
}

func responseWith(outages ...vector.Outage) *vector.Response {
	return &vector.Response{FuturePlannedOutages: outages}
}

func newObservedPoller(f vector.Fetcher) (*Poller, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewPoller(f, "0001234567AB123", zap.New(core)), logs
}

func TestPoller_Update_Outage(t *testing.T) {
	fetcher := &fakeFetcher{responses: []*vector.Response{responseWith(sampleOutage())}}
	poller, _ := newObservedPoller(fetcher)

	result := poller.Update(context.Background())

	assert.Equal(t, OutcomeOutage, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, result.OutageCount)
	require.NotNil(t, result.Outage)
	assert.Equal(t, "Maintenance", result.Outage.Reason)

	assert.Equal(t, "2024-05-01 09:00", result.Start.StateOr(""))
	assert.Equal(t, "2024-05-01 13:00", result.End.StateOr(""))
	assert.Equal(t, "2024-05-01 09:00", *poller.StartSensor().State())
	assert.Equal(t, "2024-05-01 13:00", *poller.EndSensor().State())
	assert.Equal(t, "Maintenance", poller.EndSensor().Attributes()["reason"])

	assert.Equal(t, 1, fetcher.calls, "both sensors share one fetch")
}

func TestPoller_Update_SelectsFirst(t *testing.T) {
	later := sampleOutage()
	later.AdvertisedStartDate = "2030-01-01"
	later.Reason = "Later"

	fetcher := &fakeFetcher{responses: []*vector.Response{responseWith(sampleOutage(), later)}}
	poller, _ := newObservedPoller(fetcher)

	result := poller.Update(context.Background())
	assert.Equal(t, 2, result.OutageCount)
	assert.Equal(t, "Maintenance", result.Outage.Reason)
	assert.Equal(t, "2024-05-01 09:00", result.Start.StateOr(""))
}

func TestPoller_Update_ResetsOnEmpty(t *testing.T) {
	fetcher := &fakeFetcher{responses: []*vector.Response{
		responseWith(sampleOutage()),
		responseWith(),
		{},
	}}
	poller, logs := newObservedPoller(fetcher)

	first := poller.Update(context.Background())
	require.Equal(t, OutcomeOutage, first.Outcome)

	for i := 0; i < 2; i++ {
		result := poller.Update(context.Background())
		assert.Equal(t, OutcomeNoOutage, result.Outcome)
		assert.Nil(t, result.Outage)
		for _, s := range poller.Sensors() {
			assert.True(t, s.Value().Absent(), "state should reset")
			assert.Nil(t, s.Value().Reason, "reason should reset")
		}
	}

	assert.Equal(t, 2, logs.FilterMessage("No future planned outages").Len())
}

func TestPoller_Update_NilResponse(t *testing.T) {
	fetcher := &fakeFetcher{responses: []*vector.Response{responseWith(sampleOutage()), nil}}
	poller, logs := newObservedPoller(fetcher)

	require.Equal(t, OutcomeOutage, poller.Update(context.Background()).Outcome)

	var result Result
	require.NotPanics(t, func() { result = poller.Update(context.Background()) })
	assert.Equal(t, OutcomeNoOutage, result.Outcome)
	assert.NoError(t, result.Err)
	assert.Equal(t, 0, result.OutageCount)
	assert.Nil(t, result.Outage)
	assert.True(t, result.Start.Absent())
	assert.True(t, result.End.Absent())
	assert.Equal(t, 1, logs.FilterMessage("No future planned outages").Len())
}

func TestPoller_Update_FetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{
		responses: []*vector.Response{responseWith(sampleOutage()), nil},
		errs:      []error{nil, &vector.FetchError{ICP: "x", StatusCode: http.StatusInternalServerError}},
	}
	poller, logs := newObservedPoller(fetcher)

	poller.Update(context.Background())
	require.False(t, poller.StartSensor().Value().Absent())

	result := poller.Update(context.Background())
	assert.Equal(t, OutcomeFetchError, result.Outcome)
	assert.Error(t, result.Err)
	assert.True(t, result.Start.Absent())
	assert.True(t, result.End.Absent())
	assert.Nil(t, poller.StartSensor().Value().Reason)
	assert.Nil(t, poller.EndSensor().Value().Reason)

	errorLogs := logs.FilterLevelExact(zap.ErrorLevel)
	require.Equal(t, 1, errorLogs.Len())
	assert.Equal(t, "Error occurred during planned outage API call", errorLogs.All()[0].Message)
}

func TestPoller_Update_MalformedBody(t *testing.T) {
	fetcher := &fakeFetcher{errs: []error{&vector.ParseError{Field: "response body", Err: errors.New("invalid character")}}}
	poller, _ := newObservedPoller(fetcher)

	result := poller.Update(context.Background())
	assert.Equal(t, OutcomeParseError, result.Outcome)
	assert.True(t, result.Start.Absent())
	assert.True(t, result.End.Absent())
}

func TestPoller_Update_MalformedDate(t *testing.T) {
	bad := sampleOutage()
	bad.AdvertisedStartDate = "01-05-2024"

	fetcher := &fakeFetcher{responses: []*vector.Response{responseWith(bad)}}
	poller, logs := newObservedPoller(fetcher)

	result := poller.Update(context.Background())
	assert.Equal(t, OutcomeParseError, result.Outcome)

	var parseErr *vector.ParseError
	assert.True(t, errors.As(result.Err, &parseErr))

	// Only the start sensor degrades
	assert.True(t, result.Start.Absent())
	assert.Nil(t, result.Start.Reason)
	assert.Equal(t, "2024-05-01 13:00", result.End.StateOr(""))
	assert.Equal(t, 1, logs.FilterMessage("Failed to derive outage time").Len())
}

func TestPoller_Update_NoAdvertisedTimes(t *testing.T) {
	o := sampleOutage()
	o.AdvertisedTimes = []vector.TimeWindow{}

	fetcher := &fakeFetcher{responses: []*vector.Response{responseWith(o)}}
	poller, _ := newObservedPoller(fetcher)

	result := poller.Update(context.Background())
	assert.Equal(t, OutcomeOutage, result.Outcome)
	assert.True(t, result.Start.Absent())
	assert.True(t, result.End.Absent())
}

func TestPoller_Update_AgainstHTTPServer(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"futurePlannedOutages":[{"advertisedStartDate":"2024-05-01","advertisedEndDate":"2024-05-01","advertisedTimes":[{"start":"09:00:00","end":"13:00:00"}],"reason":"Upgrade"}]}`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := vector.NewClient(vector.ClientConfig{Endpoint: server.URL, APIKey: "k"}, logger)
	poller := NewPoller(client, "icp", logger)

	result := poller.Update(context.Background())
	assert.Equal(t, OutcomeOutage, result.Outcome)
	assert.Equal(t, "2024-05-01 09:00", result.Start.StateOr(""))

	fail.Store(true)
	result = poller.Update(context.Background())
	assert.Equal(t, OutcomeFetchError, result.Outcome)
	assert.True(t, result.Start.Absent())
	assert.True(t, result.End.Absent())
}

func TestPoller_Update_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	logger, _ := zap.NewDevelopment()
	client := vector.NewClient(vector.ClientConfig{Endpoint: url, APIKey: "k"}, logger)
	poller := NewPoller(client, "icp", logger)

	assert.NotPanics(t, func() {
		result := poller.Update(context.Background())
		assert.Equal(t, OutcomeFetchError, result.Outcome)
	})
}
