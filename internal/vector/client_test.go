package vector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleBody = `{
	"futurePlannedOutages": [
		{
			"advertisedStartDate": "2024-05-01",
			"advertisedEndDate": "2024-05-01",
			"advertisedTimes": [{"start": "09:00:00", "end": "13:00:00"}],
			"reason": "Maintenance on the local network",
			"outageId": 1234
		},
		{
			"advertisedStartDate": "2024-06-10",
			"advertisedEndDate": "2024-06-11",
			"advertisedTimes": [{"start": "22:00:00", "end": "04:00:00"}],
			"reason": "Pole replacement"
		}
	]
}`

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewClient(ClientConfig{
		Endpoint: server.URL + "/v2/planned-outages",
		APIKey:   "test-key",
	}, logger)
}

func TestClient_Fetch(t *testing.T) {
	t.Run("sends query parameters and headers", func(t *testing.T) {
		var gotQuery, gotRawQuery, gotKey, gotAccept, gotUA string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/planned-outages", r.URL.Path)
			gotQuery = r.URL.Query().Get("groupByTimezone") + "|" + r.URL.Query().Get("icpNumber")
			gotRawQuery = r.URL.RawQuery
			gotKey = r.Header.Get("Apikey")
			gotAccept = r.Header.Get("Accept")
			gotUA = r.Header.Get("User-Agent")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(sampleBody))
		}))
		defer server.Close()

		client := newTestClient(t, server)
		resp, err := client.Fetch(context.Background(), "0001234567AB123")
		require.NoError(t, err)

		assert.Equal(t, "Pacific/Auckland|0001234567AB123", gotQuery)
		assert.Contains(t, gotRawQuery, "groupByTimezone=Pacific%2FAuckland")
		assert.Equal(t, "test-key", gotKey)
		assert.Contains(t, gotAccept, "application/json")
		assert.NotEmpty(t, gotUA)

		require.Len(t, resp.FuturePlannedOutages, 2)
		first := resp.FuturePlannedOutages[0]
		assert.Equal(t, "2024-05-01", first.AdvertisedStartDate)
		assert.Equal(t, "Maintenance on the local network", first.Reason)
		require.Len(t, first.AdvertisedTimes, 1)
		assert.Equal(t, "09:00:00", first.AdvertisedTimes[0].Start)
		assert.Equal(t, "13:00:00", first.AdvertisedTimes[0].End)
	})

	t.Run("missing list decodes as empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"pastPlannedOutages": []}`))
		}))
		defer server.Close()

		resp, err := newTestClient(t, server).Fetch(context.Background(), "icp")
		require.NoError(t, err)
		assert.Empty(t, resp.FuturePlannedOutages)
	})

	t.Run("server error returns FetchError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		}))
		defer server.Close()

		resp, err := newTestClient(t, server).Fetch(context.Background(), "icp")
		assert.Nil(t, resp)

		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
		assert.Equal(t, "icp", fetchErr.ICP)
		assert.Contains(t, err.Error(), "upstream exploded")
	})

	t.Run("forbidden returns FetchError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		_, err := newTestClient(t, server).Fetch(context.Background(), "icp")
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusForbidden, fetchErr.StatusCode)
	})

	t.Run("connection failure returns FetchError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		client := newTestClient(t, server)
		server.Close()

		_, err := client.Fetch(context.Background(), "icp")
		var fetchErr *FetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, 0, fetchErr.StatusCode)
		assert.NotNil(t, fetchErr.Unwrap())
	})

	t.Run("malformed body returns ParseError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>blocked</html>`))
		}))
		defer server.Close()

		_, err := newTestClient(t, server).Fetch(context.Background(), "icp")
		var parseErr *ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, "response body", parseErr.Field)
	})

	t.Run("request timeout returns FetchError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		logger, _ := zap.NewDevelopment()
		client := NewClient(ClientConfig{
			Endpoint: server.URL,
			APIKey:   "k",
			Timeout:  20 * time.Millisecond,
		}, logger)

		_, err := client.Fetch(context.Background(), "icp")
		var fetchErr *FetchError
		assert.True(t, errors.As(err, &fetchErr))
	})
}

func TestNewClient_Defaults(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	client := NewClient(ClientConfig{APIKey: "k"}, logger)

	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.Equal(t, DefaultTimezoneGroup, client.timezoneGroup)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}

func TestOutage_FirstWindow(t *testing.T) {
	var nilOutage *Outage
	_, ok := nilOutage.FirstWindow()
	assert.False(t, ok)

	_, ok = (&Outage{}).FirstWindow()
	assert.False(t, ok)

	w, ok := (&Outage{AdvertisedTimes: []TimeWindow{{Start: "01:00:00", End: "02:00:00"}, {Start: "05:00:00"}}}).FirstWindow()
	assert.True(t, ok)
	assert.Equal(t, "01:00:00", w.Start)
}
