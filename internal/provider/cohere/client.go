// Package cohere implements the adapter for the Cohere chat API.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
)

var _ gateway.Adapter = (*Client)(nil)

// Client is the Cohere wire adapter. It holds no credentials; auth comes
// from the provider on every call.
type Client struct {
	http *http.Client
}

// New creates a Cohere adapter using the given HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindCohere }

// ChatCompletion sends a chat request.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := marshalRequest(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat", bytes.NewReader(body))
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

	out := parseResponse(respBody, req.Model)
	out.Provider = p.Name
	out.Cost = p.CostFor(out.Usage)
	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// listModelsResponse is the envelope returned by GET /models.
type listModelsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the model names available upstream.
func (c *Client) ListModels(ctx context.Context, p *gateway.Provider) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models", nil)
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

	var out listModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode models response: %w", p.Name, err)
	}

	names := make([]string, len(out.Models))
	for i, m := range out.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HealthCheck verifies connectivity by listing models.
func (c *Client) HealthCheck(ctx context.Context, p *gateway.Provider) error {
	_, err := c.ListModels(ctx, p)
	return err
}

func setHeaders(r *http.Request, p *gateway.Provider) {
	r.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		r.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	for k, v := range p.Headers {
		r.Header.Set(k, v)
	}
}
