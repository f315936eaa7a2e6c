// Package testutil provides testing utilities for the wikiquery client.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
)

// MockResponse defines the behavior for one scripted wiki response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockWiki is a scripted action API server for testing. Responses are
// served in order; once the script runs out the server answers with an
// empty query result.
type MockWiki struct {
	server *httptest.Server
	mu     sync.Mutex

	script  []MockResponse
	handler func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	Requests     []url.Values
}

// NewMockWiki creates a mock server that plays back the given script.
func NewMockWiki(script ...MockResponse) *MockWiki {
	mock := &MockWiki{script: script}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.Requests = append(mock.Requests, r.URL.Query())
		handler := mock.handler
		var next *MockResponse
		if len(mock.script) > 0 {
			next = &mock.script[0]
			mock.script = mock.script[1:]
		}
		mock.mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		if next == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"batchcomplete":""}`))
			return
		}

		for key, value := range next.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		status := next.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if next.Body != "" {
			w.Write([]byte(next.Body))
		}
	}))

	return mock
}

// URL returns the mock server URL; use it as the client endpoint.
func (m *MockWiki) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockWiki) Close() {
	m.server.Close()
}

// SetHandler overrides the script with a custom handler.
func (m *MockWiki) SetHandler(handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// Append adds responses to the end of the script.
func (m *MockWiki) Append(responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockWiki) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// LastRequest returns the query parameters of the most recent request.
func (m *MockWiki) LastRequest() url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil
	}
	return m.Requests[len(m.Requests)-1]
}

// NewQueryResponse builds a 200 response carrying the given body.
func NewQueryResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
	}
}

// NewMaxlagResponse builds the API's maxlag rejection payload.
func NewMaxlagResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"error":{"code":"maxlag","info":"Waiting for a database server: 6 seconds lagged."}}`,
	}
}

// NewServerErrorResponse builds a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":"internal"}`,
	}
}
