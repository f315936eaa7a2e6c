package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wikitools/wikiquery/internal/testutil"
	"github.com/wikitools/wikiquery/pkg/query"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

// fastClient builds a client against the mock with no backoff delays.
func fastClient(t *testing.T, mock *testutil.MockWiki) *Client {
	t.Helper()

	cfg := DefaultConfig(mock.URL(), "wikiquery-test/1.0 (test@example.com)")
	cfg.InitialBackoff = 1 * time.Millisecond
	cfg.RequestsPerSecond = 1000
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      DefaultConfig("https://en.wikipedia.org/w/api.php", "TestApp/1.0.0 (test@example.com)"),
			expectError: false,
		},
		{
			name:        "empty endpoint",
			config:      DefaultConfig("", "TestApp/1.0.0"),
			expectError: true,
			errorMsg:    "endpoint is required",
		},
		{
			name:        "empty user agent",
			config:      DefaultConfig("https://en.wikipedia.org/w/api.php", ""),
			expectError: true,
			errorMsg:    "user-agent is required",
		},
		{
			name: "caching without ttl",
			config: Config{
				Endpoint:  "https://en.wikipedia.org/w/api.php",
				UserAgent: "TestApp/1.0.0",
				Redis:     redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			},
			expectError: true,
			errorMsg:    "cache_ttl must be positive when caching is enabled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			if client == nil {
				t.Error("Client is nil")
			}
		})
	}
}

func TestRequest_EnvelopeParams(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.NewQueryResponse(`{"query":{"pages":{"1":{"extract":"body"}}}}`),
	)
	defer mock.Close()

	c := fastClient(t, mock)
	defer c.Close()

	resp, err := c.Request(context.Background(), query.Params{"prop": "extracts", "titles": "Cat"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	if _, ok := resp.QuerySection(); !ok {
		t.Error("Response missing query section")
	}

	sent := mock.LastRequest()
	if sent.Get("action") != "query" {
		t.Errorf("action = %q, want query", sent.Get("action"))
	}
	if sent.Get("format") != "json" {
		t.Errorf("format = %q, want json", sent.Get("format"))
	}
	if sent.Get("maxlag") != "5" {
		t.Errorf("maxlag = %q, want 5", sent.Get("maxlag"))
	}
	if sent.Get("titles") != "Cat" {
		t.Errorf("titles = %q, want Cat", sent.Get("titles"))
	}
}

func TestRequest_ServerErrorRetried(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.NewServerErrorResponse(),
		testutil.NewQueryResponse(`{"query":{"pages":{"1":{"extract":"recovered"}}}}`),
	)
	defer mock.Close()

	c := fastClient(t, mock)
	defer c.Close()

	resp, err := c.Request(context.Background(), query.Params{"titles": "Cat"})
	if err != nil {
		t.Fatalf("Request failed after retry: %v", err)
	}
	if _, ok := resp.QuerySection(); !ok {
		t.Error("Response missing query section")
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Requests = %d, want 2 (one retry)", mock.GetRequestCount())
	}
}

func TestRequest_ClientErrorNotRetried(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.MockResponse{StatusCode: http.StatusNotFound, Body: `{"error":"missing"}`},
	)
	defer mock.Close()

	c := fastClient(t, mock)
	defer c.Close()

	_, err := c.Request(context.Background(), query.Params{"titles": "Cat"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if reqErr.Class != ErrorClassClient {
		t.Errorf("Class = %q, want client", reqErr.Class)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Requests = %d, want 1 (client errors are terminal)", mock.GetRequestCount())
	}
}

func TestRequest_APIErrorIsClientClass(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.NewQueryResponse(`{"error":{"code":"invalidtitle","info":"Bad title."}}`),
	)
	defer mock.Close()

	c := fastClient(t, mock)
	defer c.Close()

	_, err := c.Request(context.Background(), query.Params{"titles": "|"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want wrapped APIError", err)
	}
	if apiErr.Code != "invalidtitle" {
		t.Errorf("Code = %q, want invalidtitle", apiErr.Code)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Requests = %d, want 1", mock.GetRequestCount())
	}
}

func TestRequest_MaxlagRetriedAndArmsBackoff(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.NewMaxlagResponse(),
		testutil.NewQueryResponse(`{"query":{"pages":{"1":{"extract":"ok"}}}}`),
	)
	defer mock.Close()

	cfg := DefaultConfig(mock.URL(), "wikiquery-test/1.0")
	cfg.InitialBackoff = 1 * time.Millisecond
	cfg.MaxlagBackoff = 10 * time.Millisecond
	cfg.RequestsPerSecond = 1000
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	resp, err := c.Request(context.Background(), query.Params{"titles": "Cat"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, ok := resp.QuerySection(); !ok {
		t.Error("Response missing query section")
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("Requests = %d, want 2", mock.GetRequestCount())
	}
}

func TestRequest_MalformedBody(t *testing.T) {
	mock := testutil.NewMockWiki(
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `not json`},
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `not json`},
		testutil.MockResponse{StatusCode: http.StatusOK, Body: `not json`},
	)
	defer mock.Close()

	c := fastClient(t, mock)
	defer c.Close()

	_, err := c.Request(context.Background(), query.Params{"titles": "Cat"})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
}

func TestRequest_CachedResponseSkipsNetwork(t *testing.T) {
	redisClient := setupTestRedis(t)

	mock := testutil.NewMockWiki(
		testutil.NewQueryResponse(`{"query":{"pages":{"1":{"extract":"cached body"}}}}`),
	)
	defer mock.Close()

	cfg := DefaultConfig(mock.URL(), "wikiquery-test/1.0")
	cfg.Redis = redisClient
	cfg.CacheTTL = time.Minute
	cfg.RequestsPerSecond = 1000
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	params := query.Params{"prop": "extracts", "titles": "Cat"}

	if _, err := c.Request(ctx, params); err != nil {
		t.Fatalf("First request failed: %v", err)
	}
	resp, err := c.Request(ctx, params)
	if err != nil {
		t.Fatalf("Second request failed: %v", err)
	}
	if _, ok := resp.QuerySection(); !ok {
		t.Error("Cached response missing query section")
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("Requests = %d, want 1 (second served from cache)", mock.GetRequestCount())
	}
}
