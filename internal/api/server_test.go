package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"plannedoutage/internal/ha"
	"plannedoutage/internal/metrics"
	"plannedoutage/internal/shadowstate"
	"plannedoutage/internal/state"
	pkgstate "plannedoutage/pkg/state"

	"go.uber.org/zap"
)

const (
	startID = "sensor.planned_power_outage_start_time"
	endID   = "sensor.planned_power_outage_end_time"
)

func newTestServer(t *testing.T) (*Server, *state.Manager) {
	logger, _ := zap.NewDevelopment()
	mockClient := ha.NewMockClient()
	if err := mockClient.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	stateManager := state.NewManager(mockClient, logger, false)
	stateManager.Register(
		state.EntityDefinition{EntityID: startID, Default: "unknown"},
		state.EntityDefinition{EntityID: endID, Default: "unknown"},
	)

	tracker := shadowstate.NewTracker()
	pt := shadowstate.NewPlannedOutageTracker(startID, endID)
	pt.RecordPoll(shadowstate.PollRecord{Outcome: "no_outage"}, shadowstate.SensorOutput{}, shadowstate.SensorOutput{})
	tracker.RegisterPluginProvider("plannedoutage", func() shadowstate.PluginShadowState { return pt.GetState() })

	m := metrics.New()
	m.IncPublishError(startID)

	return NewServer(pkgstate.WrapManager(stateManager), tracker, m.Handler(), logger, 8080), stateManager
}

func serve(s *Server, method, path, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleGetSensors(t *testing.T) {
	server, stateManager := newTestServer(t)
	if err := stateManager.Publish(startID, "2024-05-01 09:00", map[string]interface{}{"reason": "Maintenance"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	w := serve(server, http.MethodGet, "/api/sensors", "")

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
	if contentType := w.Header().Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var response SensorsResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response.ReadOnly {
		t.Error("Expected read_only false")
	}
	if len(response.Sensors) != 2 {
		t.Fatalf("Expected 2 sensors, got %d", len(response.Sensors))
	}
	if response.Sensors[0].EntityID != startID || response.Sensors[0].State != "2024-05-01 09:00" {
		t.Errorf("unexpected start sensor %+v", response.Sensors[0])
	}
	if response.Sensors[0].Attributes["reason"] != "Maintenance" {
		t.Errorf("Expected reason Maintenance, got %v", response.Sensors[0].Attributes["reason"])
	}
	if response.Sensors[1].State != "unknown" {
		t.Errorf("Expected end sensor to default to unknown, got %q", response.Sensors[1].State)
	}
}

func TestHandleMethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)

	for _, path := range []string{"/api/sensors", "/api/shadow", "/health", "/"} {
		t.Run(path, func(t *testing.T) {
			w := serve(server, http.MethodPost, path, "")
			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("Expected status 405, got %d", w.Code)
			}
		})
	}
}

func TestHandleGetShadow(t *testing.T) {
	server, _ := newTestServer(t)

	w := serve(server, http.MethodGet, "/api/shadow", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var response map[string]map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	outputs, ok := response["plannedoutage"]["outputs"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing plannedoutage outputs in %v", response)
	}
	if outputs["lastOutcome"] != "no_outage" {
		t.Errorf("Expected lastOutcome no_outage, got %v", outputs["lastOutcome"])
	}
}

func TestHandleMetrics(t *testing.T) {
	server, _ := newTestServer(t)

	w := serve(server, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `planned_outage_publish_errors_total{entity_id="sensor.planned_power_outage_start_time"} 1`) {
		t.Errorf("metrics body missing publish error counter:\n%s", w.Body.String())
	}
}

func TestOptionalEndpointsDisabled(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	stateManager := state.NewManager(ha.NewMockClient(), logger, true)
	server := NewServer(pkgstate.WrapManager(stateManager), nil, nil, logger, 8080)

	for _, path := range []string{"/api/shadow", "/metrics"} {
		if w := serve(server, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, w.Code)
		}
	}

	w := serve(server, http.MethodGet, "/", "")
	if strings.Contains(w.Body.String(), "/metrics") {
		t.Error("sitemap lists disabled metrics endpoint")
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t)

	w := serve(server, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestHandleSitemap(t *testing.T) {
	server, _ := newTestServer(t)

	tests := []struct {
		name        string
		accept      string
		contentType string
		contains    string
	}{
		{"plain text", "", "text/plain; charset=utf-8", "Available endpoints:"},
		{"html", "text/html,application/xhtml+xml", "text/html; charset=utf-8", "<title>Planned Outage API</title>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(server, http.MethodGet, "/", tt.accept)
			if w.Code != http.StatusNotFound {
				t.Errorf("Expected status 404, got %d", w.Code)
			}
			if got := w.Header().Get("Content-Type"); got != tt.contentType {
				t.Errorf("Expected Content-Type %q, got %q", tt.contentType, got)
			}
			body := w.Body.String()
			if !strings.Contains(body, tt.contains) {
				t.Errorf("body missing %q", tt.contains)
			}
			for _, path := range []string{"/api/sensors", "/api/shadow", "/metrics", "/health"} {
				if !strings.Contains(body, path) {
					t.Errorf("sitemap missing %s", path)
				}
			}
		})
	}

	if w := serve(server, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown path, got %d", w.Code)
	}
}
