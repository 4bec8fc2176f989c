// Package upstream provides rate-limited access to the tracking API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamlens/kestrel/internal/domain"
	"github.com/teamlens/kestrel/internal/ratelimit"
)

var tracer = otel.Tracer("kestrel-upstream")

// Client issues HTTP calls to the tracking API through the rate limiter.
// Every transport-level failure (network error, timeout, non-2xx) is
// translated into domain.ErrUpstreamUnavailable wrapping the original cause.
type Client struct {
	baseURL string
	token   string
	limiter *ratelimit.Limiter
	http    *http.Client
}

// NewClient creates a rate-limited tracking API client.
func NewClient(cfg domain.UpstreamConfig, limiter *ratelimit.Limiter) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		limiter: limiter,
		http:    &http.Client{Timeout: timeout},
	}
}

// get issues a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// post issues a POST with a JSON body and decodes the response into out.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	if err := c.limiter.Admit(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}

	ctx, span := tracer.Start(ctx, method+" "+path,
		trace.WithAttributes(
			attribute.String("upstream.method", method),
			attribute.String("upstream.path", path),
		),
	)
	defer span.End()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.SetBasicAuth("", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("upstream.status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s returned %d: %s",
			domain.ErrUpstreamUnavailable, method, path, resp.StatusCode, string(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: invalid response body: %v", domain.ErrUpstreamUnavailable, err)
		}
	}

	return nil
}
