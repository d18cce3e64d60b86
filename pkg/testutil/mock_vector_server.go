package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"plannedoutage/internal/vector"
)

// OutageRequest records one request made to the mock outage API
type OutageRequest struct {
	ICPNumber       string
	GroupByTimezone string
	APIKey          string
}

// MockVectorServer serves canned planned-outage responses
type MockVectorServer struct {
	server *httptest.Server
	apiKey string

	mu       sync.Mutex
	outages  []vector.Outage
	status   int
	rawBody  string
	requests []OutageRequest
}

// NewMockVectorServer starts a mock outage API that requires apiKey
func NewMockVectorServer(apiKey string) *MockVectorServer {
	s := &MockVectorServer{apiKey: apiKey}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL is the endpoint to configure the daemon with
func (s *MockVectorServer) URL() string {
	return s.server.URL + "/v2/planned-outages"
}

// Close shuts the server down
func (s *MockVectorServer) Close() {
	s.server.Close()
}

// SetOutages replaces the advertised outages and clears any failure mode
func (s *MockVectorServer) SetOutages(outages ...vector.Outage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outages = outages
	s.status = 0
	s.rawBody = ""
}

// FailWith makes the server answer every request with status
func (s *MockVectorServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// SetRawBody serves body verbatim with status 200
func (s *MockVectorServer) SetRawBody(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBody = body
	s.status = 0
}

// Requests returns every request received so far
func (s *MockVectorServer) Requests() []OutageRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OutageRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount is the number of requests received so far
func (s *MockVectorServer) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *MockVectorServer) handle(w http.ResponseWriter, r *http.Request) {
	req := OutageRequest{
		ICPNumber:       r.URL.Query().Get("icpNumber"),
		GroupByTimezone: r.URL.Query().Get("groupByTimezone"),
		APIKey:          r.Header.Get("Apikey"),
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	status, rawBody := s.status, s.rawBody
	resp := vector.Response{FuturePlannedOutages: append([]vector.Outage{}, s.outages...)}
	s.mu.Unlock()

	if req.APIKey != s.apiKey {
		http.Error(w, `{"message":"Forbidden"}`, http.StatusForbidden)
		return
	}
	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if rawBody != "" {
		w.Write([]byte(rawBody))
		return
	}
	json.NewEncoder(w).Encode(resp)
}
