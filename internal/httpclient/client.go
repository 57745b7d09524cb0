// Package httpclient provides the outbound HTTP client shared by
// remote-control methods that fetch network resources (navigation,
// downloads). It wraps resty over a retrying transport with an optional
// rate limiter on request starts.
package httpclient

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Client wraps resty with retry support and rate limiting.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
}

// New creates a client with retrying transport and no rate limit.
func New() *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "Quahl-Remote/1.0")
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	return &Client{
		Resty:   restyClient,
		Limiter: rate.NewLimiter(rate.Inf, 0),
	}
}

// SetRateLimit caps request starts per second. Zero or negative removes
// the cap.
func (c *Client) SetRateLimit(rps int) {
	if rps <= 0 {
		c.Limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	c.Limiter = rate.NewLimiter(rate.Limit(rps), rps)
}

// SetTimeout configures the per-request timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.Resty.SetTimeout(d)
}

// Request waits for rate-limit clearance and returns a request bound to
// ctx.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Resty.R().SetContext(ctx), nil
}
