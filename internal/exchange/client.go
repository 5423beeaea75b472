// Package exchange wraps the Binance spot API behind the engine's external
// interfaces: account balances and trade history. All calls go through a
// shared rate limiter with bounded timeouts and exponential-backoff retry.
package exchange

import (
	"context"
	"math"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"
)

const maxRetries = 3

// Client is a rate-limited Binance spot client shared by the balance
// provider, the trade source, and the price oracle.
type Client struct {
	api         *binance.Client
	rateLimiter *rate.Limiter
	timeout     time.Duration
}

// NewClient creates a client with request timeouts and a 10 req/s limiter
// (burst 20).
func NewClient(apiKey, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	api := binance.NewClient(apiKey, secretKey)
	api.HTTPClient = httpClient

	return &Client{
		api:         api,
		rateLimiter: rate.NewLimiter(rate.Limit(10), 20),
		timeout:     timeout,
	}
}

// Call runs one API call through the rate limiter, retrying transient
// failures with exponential backoff. The context bounds the whole attempt
// sequence; on timeout the caller fails cleanly rather than hanging.
func (c *Client) Call(ctx context.Context, fn func(ctx context.Context, api *binance.Client) error) error {
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = c.rateLimiter.Wait(ctx); err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = fn(callCtx, c.api)
		cancel()

		if err == nil {
			return nil
		}
		if attempt == maxRetries {
			return err
		}

		waitTime := time.Duration(math.Pow(2, float64(attempt))) * backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
	return err
}
