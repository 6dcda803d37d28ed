// Package api provides the HTTP client for the remote event collection
// endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gametrace/uplog/pkg/config"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// Client posts events to the collection endpoint.
type Client struct {
	httpClient    *http.Client
	url           string
	token         string
	clientVersion string
	timeout       time.Duration
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg config.EndpointConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient:    &http.Client{},
		url:           cfg.URL,
		token:         cfg.Token,
		clientVersion: cfg.ClientVersion,
		timeout:       timeout,
	}
}

// Response contains the result of one delivery attempt.
type Response struct {
	StatusCode int
	Body       string
	Duration   time.Duration
	Error      error
}

// Success returns true for a 2xx status with no transport error.
func (r *Response) Success() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Retryable returns true for failures worth another attempt: transport
// errors, timeouts, rate limiting, and server errors.
func (r *Response) Retryable() bool {
	if r.Success() {
		return false
	}
	if r.StatusCode == 0 {
		// Never reached the endpoint: connection failure or timeout.
		return true
	}
	switch {
	case r.StatusCode == http.StatusRequestTimeout:
		return true
	case r.StatusCode == http.StatusTooManyRequests:
		return true
	case r.StatusCode >= 500:
		return true
	}
	return false
}

// Permanent returns true for client-error responses that retrying cannot
// fix.
func (r *Response) Permanent() bool {
	return !r.Success() && !r.Retryable()
}

// Send posts one JSON event body to the endpoint.
func (c *Client) Send(ctx context.Context, payload any) *Response {
	start := time.Now()
	resp := &Response{}

	body, err := json.Marshal(payload)
	if err != nil {
		resp.Error = fmt.Errorf("failed to marshal event: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		resp.Error = fmt.Errorf("failed to create request: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "uplog")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.clientVersion != "" {
		req.Header.Set("X-Client-Version", c.clientVersion)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		resp.Error = fmt.Errorf("request failed: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1024*1024)) // Limit to 1MB
	if err != nil {
		resp.Error = fmt.Errorf("failed to read response: %w", err)
		resp.Duration = time.Since(start)
		return resp
	}

	resp.StatusCode = httpResp.StatusCode
	resp.Body = string(respBody)
	resp.Duration = time.Since(start)

	if resp.StatusCode >= 400 {
		resp.Error = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	return resp
}
