package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/quantfold/marketpipe/internal/resilience"
)

// Config defines one upstream feed.
type Config struct {
	// Resource is the breaker name in the resilience manager.
	Resource string
	// BaseURL is prepended to every request path.
	BaseURL string
	// Timeout bounds one HTTP exchange. 30s when zero.
	Timeout time.Duration
	// RPS rate-limits requests to the feed. Zero means unlimited.
	RPS float64
	// APIKey is sent as a bearer token when set.
	APIKey string
	// UserAgent overrides the default client identification.
	UserAgent string
}

// Client is a resilient HTTP client for one market-data feed. Transport-level
// retries (connection resets, 5xx) happen inside retryablehttp; logical
// retries and circuit breaking happen in the resilience manager, which sees
// one outcome per exchange.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	caller   resilience.Caller
	resource string
}

// NewClient builds the client stack for one feed.
func NewClient(manager *resilience.Manager, cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "marketpipe/1.0"
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	restyClient.SetTransport(&retryablehttp.RoundTripper{Client: retryClient})
	if cfg.APIKey != "" {
		restyClient.SetAuthToken(cfg.APIKey)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), max(int(cfg.RPS), 1))
	}

	return &Client{
		resty:    restyClient,
		limiter:  limiter,
		caller:   manager.Caller(cfg.Resource),
		resource: cfg.Resource,
	}
}

// Resource returns the feed's breaker name.
func (c *Client) Resource() string {
	return c.resource
}

// Get fetches path and returns the response body. The exchange runs through
// the feed's circuit breaker and retry policy; a tripped breaker surfaces
// resilience.ErrCircuitOpen without touching the network.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	result, err := c.caller.Call(func() (any, error) {
		resp, err := c.resty.R().SetContext(ctx).Get(path)
		if err != nil {
			return nil, err
		}
		if resp.IsError() {
			return nil, fmt.Errorf("%s returned %s", c.resource, resp.Status())
		}
		return resp.Body(), nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// GetJSON fetches path and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.resource, err)
	}
	return nil
}
