// Package anthropic implements the adapter for the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
)

const anthropicVersion = "2023-06-01"

var _ gateway.Adapter = (*Client)(nil)

// Client is the Anthropic wire adapter. It holds no credentials; auth comes
// from the provider on every call.
type Client struct {
	http *http.Client
}

// New creates an Anthropic adapter using the given HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindAnthropic }

// ChatCompletion sends a non-streaming request to the Messages API.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := marshalRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	setHeaders(httpReq, p)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(p.Name, resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.Name, err)
	}

	out := parseResponse(respBody)
	out.Provider = p.Name
	if out.Model == "" {
		out.Model = req.Model
	}
	out.Cost = p.CostFor(out.Usage)
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// ListModels returns the known Anthropic model IDs. Anthropic has no public
// models endpoint, so the list is static.
func (c *Client) ListModels(_ context.Context, _ *gateway.Provider) ([]string, error) {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	}, nil
}

// HealthCheck verifies connectivity by issuing a HEAD request to the
// messages endpoint. Any HTTP response counts as reachable.
func (c *Client) HealthCheck(ctx context.Context, p *gateway.Provider) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodHead, p.BaseURL+"/messages", nil)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", p.Name, err)
	}
	setHeaders(httpReq, p)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: health check: %w", p.Name, err)
	}
	resp.Body.Close()
	return nil
}

// setHeaders applies Anthropic auth and version headers. Anthropic uses
// x-api-key rather than a bearer token.
func setHeaders(r *http.Request, p *gateway.Provider) {
	r.Header.Set("content-type", "application/json")
	r.Header.Set("anthropic-version", anthropicVersion)
	if p.APIKey != "" {
		r.Header.Set("x-api-key", p.APIKey)
	}
	for k, v := range p.Headers {
		r.Header.Set(k, v)
	}
}
