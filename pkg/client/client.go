// Package client provides the default action API requester with rate
// limiting, response caching, retries and error classification.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wikitools/wikiquery/pkg/cache"
	"github.com/wikitools/wikiquery/pkg/query"
	"github.com/wikitools/wikiquery/pkg/ratelimit"
)

// Prometheus metrics for client operations.
var (
	wikiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiki_requests_total",
		Help: "Total API requests by outcome (status code, cache, network_error)",
	}, []string{"outcome"})

	wikiRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "wiki_request_duration_seconds",
		Help:    "API request duration in seconds, cache hits included",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	})

	wikiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wiki_errors_total",
		Help: "Total request errors by class",
	}, []string{"class"})
)

// Client is the default query.Requester for one MediaWiki installation.
type Client struct {
	httpClient *http.Client
	cache      *cache.Manager
	limiter    *ratelimit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the api.php URL, e.g. "https://en.wikipedia.org/w/api.php".
	Endpoint string

	// UserAgent identifies the caller. MediaWiki asks for a descriptive
	// one: "AppName/Version (contact@example.com)".
	UserAgent string

	// Redis enables response caching when set; nil disables the cache.
	Redis *redis.Client

	// CacheTTL is how long cached responses stay fresh.
	CacheTTL time.Duration

	// RequestsPerSecond paces outgoing requests.
	RequestsPerSecond float64

	// Maxlag is sent with every request so lagged replicas can shed load;
	// 0 disables it.
	Maxlag int

	// MaxlagBackoff is how long to pause after a maxlag rejection.
	MaxlagBackoff time.Duration

	// Retry
	MaxRetries     int
	InitialBackoff time.Duration

	// HTTPTimeout bounds one round trip.
	HTTPTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(endpoint, userAgent string) Config {
	return Config{
		Endpoint:          endpoint,
		UserAgent:         userAgent,
		CacheTTL:          5 * time.Minute,
		RequestsPerSecond: 10,
		Maxlag:            5,
		MaxlagBackoff:     5 * time.Second,
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		HTTPTimeout:       30 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if _, err := url.ParseRequestURI(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Redis != nil && cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("cache_ttl must be positive when caching is enabled")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}

	logger := log.With().Str("component", "wiki-client").Logger()

	var manager *cache.Manager
	if cfg.Redis != nil {
		manager = cache.NewManager(cfg.Redis, cfg.CacheTTL)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
		cache:   manager,
		limiter: ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.MaxlagBackoff, logger),
		config:  cfg,
		logger:  logger,
	}, nil
}

// Request implements query.Requester: one action=query round trip with
// rate limiting, caching and retries.
func (c *Client) Request(ctx context.Context, params query.Params) (query.Response, error) {
	start := time.Now()
	defer func() {
		wikiRequestDuration.Observe(time.Since(start).Seconds())
	}()

	full := c.queryParams(params)
	key := cache.Key{Params: full}

	if c.cache != nil {
		if entry, err := c.cache.Get(ctx, key); err == nil {
			var resp query.Response
			if err := json.Unmarshal(entry.Data, &resp); err != nil {
				c.logger.Warn().Err(err).Msg("Corrupt cache entry, refetching")
			} else {
				c.logger.Debug().Str("key", key.String()).Msg("Served from cache")
				wikiRequestsTotal.WithLabelValues("cache").Inc()
				return resp, nil
			}
		} else if err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Msg("Cache get error")
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	var resp query.Response
	var body []byte

	retryErr := retryWithBackoff(ctx, c.retryConfig(), func() error {
		var err error
		body, err = c.roundTrip(ctx, full)
		if err != nil {
			return err
		}

		var decoded query.Response
		if err := json.Unmarshal(body, &decoded); err != nil {
			wikiErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
			return &RequestError{
				StatusCode: http.StatusOK,
				Class:      ErrorClassServer,
				Message:    "malformed response body",
				Err:        err,
			}
		}

		if apiErr := decodeAPIError(decoded); apiErr != nil {
			return c.handleAPIError(apiErr)
		}

		resp = decoded
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, body); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// queryParams fixes the envelope parameters every action API query needs.
func (c *Client) queryParams(params query.Params) query.Params {
	full := params.Copy()
	full["action"] = "query"
	full["format"] = "json"
	if c.config.Maxlag > 0 {
		full["maxlag"] = strconv.Itoa(c.config.Maxlag)
	}
	return full
}

// roundTrip performs one HTTP exchange and classifies failures.
func (c *Client) roundTrip(ctx context.Context, params query.Params) ([]byte, error) {
	values := url.Values{}
	for name, value := range params {
		values.Set(name, value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Endpoint+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Msg("HTTP request failed")
		wikiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		wikiRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, &RequestError{
			Class:   ErrorClassNetwork,
			Message: "round trip failed",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	wikiRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		wikiErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("API request error")
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		wikiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}
	return body, nil
}

// handleAPIError maps an API error payload onto the retry machinery.
// Maxlag rejections arm the limiter's cooldown and are retried; every
// other API error is a terminal client error.
func (c *Client) handleAPIError(apiErr *APIError) error {
	if apiErr.IsMaxlag() {
		c.limiter.Backoff()
		wikiErrorsTotal.WithLabelValues(string(ErrorClassMaxlag)).Inc()
		c.logger.Warn().Str("info", apiErr.Info).Msg("Maxlag rejection")
		return &RequestError{
			StatusCode: http.StatusOK,
			Class:      ErrorClassMaxlag,
			Message:    apiErr.Info,
			Err:        apiErr,
		}
	}
	wikiErrorsTotal.WithLabelValues(string(ErrorClassClient)).Inc()
	c.logger.Warn().Str("code", apiErr.Code).Msg("API error response")
	return &RequestError{
		StatusCode: http.StatusOK,
		Class:      ErrorClassClient,
		Message:    apiErr.Info,
		Err:        apiErr,
	}
}

func (c *Client) retryConfig() RetryConfig {
	config := DefaultRetryConfig()
	config.MaxAttempts = c.config.MaxRetries
	config.InitialBackoff = c.config.InitialBackoff
	return config
}

// classifyStatus categorizes an HTTP error status.
func classifyStatus(status int) ErrorClass {
	switch {
	case status >= 400 && status < 500:
		return ErrorClassClient
	case status >= 500:
		return ErrorClassServer
	default:
		return ""
	}
}

// decodeAPIError extracts the API's error payload, if any.
func decodeAPIError(resp query.Response) *APIError {
	section, ok := resp["error"].(map[string]any)
	if !ok {
		return nil
	}
	code, _ := section["code"].(string)
	info, _ := section["info"].(string)
	return &APIError{Code: code, Info: info}
}

// Close closes the client and releases resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Cache returns the cache manager, or nil when caching is disabled.
func (c *Client) Cache() *cache.Manager {
	return c.cache
}
