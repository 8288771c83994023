// Package workerclient talks to the external analysis worker's HTTP
// surface. The worker itself is a black box; only its health endpoint is
// consumed here, and always through the circuit breaker.
package workerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/joeylife94/asgard-sub000/internal/breaker"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *breaker.Breaker
}

func New(baseURL string, timeout time.Duration, b *breaker.Breaker) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: b,
	}
}

// Health probes the worker's health endpoint. When the circuit is open the
// call fails immediately without touching the network.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	res, err := c.breaker.Do(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("worker health: status %d", resp.StatusCode)
		}
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode worker health: %w", err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]any), nil
}

// BreakerState exposes the circuit state for the health endpoint.
func (c *Client) BreakerState() string {
	return c.breaker.State()
}
