package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wikitools/wikiquery/internal/testutil"
	"github.com/wikitools/wikiquery/pkg/client"
	"github.com/wikitools/wikiquery/pkg/page"
	"github.com/wikitools/wikiquery/pkg/props"
	"github.com/wikitools/wikiquery/pkg/query"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Skipping integration test, Redis container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

func newCachedClient(t *testing.T, wiki *testutil.MockWiki, redisClient *redis.Client) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig(wiki.URL(), "wikiquery-integration/1.0 (integration@test.com)")
	cfg.Redis = redisClient
	cfg.RequestsPerSecond = 1000
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxlagBackoff = 10 * time.Millisecond

	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return c
}

// TestFullRequestFlow exercises rate limit check, cache miss, API request
// and cache store, then verifies the cache answers the repeat request.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki(testutil.NewQueryResponse(`{
		"query": {
			"pages": {
				"42": {"pageid": 42, "title": "Gopher", "extract": "Burrowing rodent."}
			}
		}
	}`))
	defer wiki.Close()

	c := newCachedClient(t, wiki, redisClient)
	defer c.Close()

	ctx := context.Background()
	params := query.Params{"titles": "Gopher", "prop": "extracts"}

	t.Log("Request 1: full flow, cache miss")
	resp1, err := c.Request(ctx, params)
	if err != nil {
		t.Fatalf("Request 1 failed: %v", err)
	}
	if _, ok := resp1.QuerySection(); !ok {
		t.Fatal("Request 1: missing query section")
	}
	if wiki.GetRequestCount() != 1 {
		t.Errorf("After request 1: API requests = %d, want 1", wiki.GetRequestCount())
	}

	// Wait for cache write
	time.Sleep(100 * time.Millisecond)

	t.Log("Request 2: served from Redis, no API call")
	resp2, err := c.Request(ctx, params)
	if err != nil {
		t.Fatalf("Request 2 failed: %v", err)
	}
	if _, ok := resp2.QuerySection(); !ok {
		t.Fatal("Request 2: missing query section")
	}
	if wiki.GetRequestCount() != 1 {
		t.Errorf("After request 2: API requests = %d, want 1 (cached)", wiki.GetRequestCount())
	}
}

// TestCacheSharedAcrossClients verifies a second client with the same Redis
// backend reuses the first client's stored responses.
func TestCacheSharedAcrossClients(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki(testutil.NewQueryResponse(`{
		"query": {
			"pages": {
				"7": {"pageid": 7, "title": "Gopher", "extract": "Cached once."}
			}
		}
	}`))
	defer wiki.Close()

	ctx := context.Background()
	params := query.Params{"titles": "Gopher", "prop": "extracts"}

	c1 := newCachedClient(t, wiki, redisClient)
	if _, err := c1.Request(ctx, params); err != nil {
		t.Fatalf("First client request failed: %v", err)
	}
	c1.Close()

	time.Sleep(100 * time.Millisecond)

	c2 := newCachedClient(t, wiki, redisClient)
	defer c2.Close()
	if _, err := c2.Request(ctx, params); err != nil {
		t.Fatalf("Second client request failed: %v", err)
	}

	if wiki.GetRequestCount() != 1 {
		t.Errorf("API requests = %d, want 1 (second client cached)", wiki.GetRequestCount())
	}
}

// TestContinuationFlow walks a generator query across two continuation
// rounds through the full client stack.
func TestContinuationFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki(
		testutil.NewQueryResponse(`{
			"continue": {"gimcontinue": "B.png", "continue": "gimcontinue||"},
			"query": {
				"pages": {
					"1": {"pageid": 1, "title": "File:B.png", "imageinfo": [{"url": "https://img/b.png"}]}
				}
			}
		}`),
		testutil.NewQueryResponse(`{
			"query": {
				"pages": {
					"2": {"pageid": 2, "title": "File:A.png", "imageinfo": [{"url": "https://img/a.png"}]}
				}
			}
		}`),
	)
	defer wiki.Close()

	c := newCachedClient(t, wiki, redisClient)
	defer c.Close()

	p := page.New(c, query.PageRef{Title: "Gopher"})

	images, err := p.Images(context.Background())
	if err != nil {
		t.Fatalf("Images failed: %v", err)
	}

	want := []string{"https://img/a.png", "https://img/b.png"}
	if len(images) != len(want) {
		t.Fatalf("Images = %v, want %v", images, want)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Errorf("Images[%d] = %q, want %q", i, images[i], want[i])
		}
	}

	if wiki.GetRequestCount() != 2 {
		t.Errorf("API requests = %d, want 2 (one per round)", wiki.GetRequestCount())
	}

	// Continuation token must have been echoed back on round two.
	if got := wiki.LastRequest().Get("gimcontinue"); got != "B.png" {
		t.Errorf("Round 2 gimcontinue = %q, want %q", got, "B.png")
	}
}

// TestRetry5xxErrors verifies transient server errors are retried.
func TestRetry5xxErrors(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki()
	defer wiki.Close()

	requestCount := 0
	wiki.SetHandler(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"query":{"pages":{"42":{"pageid":42,"extract":"third time lucky"}}}}`))
	})

	c := newCachedClient(t, wiki, redisClient)
	defer c.Close()

	resp, err := c.Request(context.Background(), query.Params{"titles": "Gopher", "prop": "extracts"})
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	if _, ok := resp.QuerySection(); !ok {
		t.Fatal("Missing query section in retried response")
	}
	if requestCount != 3 {
		t.Errorf("API requests = %d, want 3 (2 failures + success)", requestCount)
	}
}

// TestMaxlagRetry verifies a maxlag rejection arms the cooldown and the
// request succeeds on retry.
func TestMaxlagRetry(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki(
		testutil.NewMaxlagResponse(),
		testutil.NewQueryResponse(`{
			"query": {
				"pages": {
					"42": {"pageid": 42, "extract": "replica caught up"}
				}
			}
		}`),
	)
	defer wiki.Close()

	c := newCachedClient(t, wiki, redisClient)
	defer c.Close()

	resp, err := c.Request(context.Background(), query.Params{"titles": "Gopher", "prop": "extracts"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if _, ok := resp.QuerySection(); !ok {
		t.Fatal("Missing query section after maxlag retry")
	}
	if wiki.GetRequestCount() != 2 {
		t.Errorf("API requests = %d, want 2", wiki.GetRequestCount())
	}
}

// TestPagePropertiesEndToEnd fetches multiple properties through the full
// stack with Redis caching, then verifies a fresh page for the same title
// is answered entirely from Redis.
func TestPagePropertiesEndToEnd(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	wiki := testutil.NewMockWiki(testutil.NewQueryResponse(`{
		"query": {
			"pages": {
				"42": {
					"pageid": 42,
					"title": "Gopher",
					"extract": "Burrowing rodent.",
					"extlinks": [
						{"*": "https://example.org/b"},
						{"*": "https://example.org/a"}
					]
				}
			}
		}
	}`))
	defer wiki.Close()

	c := newCachedClient(t, wiki, redisClient)
	defer c.Close()

	ctx := context.Background()

	p1 := page.New(c, query.PageRef{Title: "Gopher"})
	if err := p1.Fetch(ctx, props.NewContent(), props.NewExternalLinks()); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	content, err := p1.Content(ctx)
	if err != nil {
		t.Fatalf("Content failed: %v", err)
	}
	if content != "Burrowing rodent." {
		t.Errorf("Content = %q, want %q", content, "Burrowing rodent.")
	}

	links, err := p1.ExternalLinks(ctx)
	if err != nil {
		t.Fatalf("ExternalLinks failed: %v", err)
	}
	if len(links) != 2 || links[0] != "https://example.org/a" {
		t.Errorf("ExternalLinks = %v, want sorted pair", links)
	}

	if wiki.GetRequestCount() != 1 {
		t.Fatalf("API requests = %d, want 1 (batched)", wiki.GetRequestCount())
	}

	time.Sleep(100 * time.Millisecond)

	// A fresh page object has an empty property cache, but the merged
	// query is identical, so Redis answers it without an API call.
	p2 := page.New(c, query.PageRef{Title: "Gopher"})
	if err := p2.Fetch(ctx, props.NewContent(), props.NewExternalLinks()); err != nil {
		t.Fatalf("Second fetch failed: %v", err)
	}
	if wiki.GetRequestCount() != 1 {
		t.Errorf("API requests = %d, want 1 (Redis answered the repeat)", wiki.GetRequestCount())
	}
}
