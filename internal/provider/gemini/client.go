// Package gemini implements the adapter for the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
)

var _ gateway.Adapter = (*Client)(nil)

// Client is the Gemini wire adapter. Auth is a key query parameter for the
// public API; on Vertex AI the key is empty and the HTTP client's transport
// chain carries OAuth credentials instead.
type Client struct {
	http *http.Client
}

// New creates a Gemini adapter using the given HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindGemini }

// ChatCompletion sends a generateContent request.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	u := p.BaseURL + "/models/" + url.PathEscape(req.Model) + ":generateContent" + keyParam(p)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range p.Headers {
		httpReq.Header.Set(k, v)
	}

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

	out := translateResponse(respBody, req.Model)
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

// ListModels returns the model IDs available upstream, with the "models/"
// resource prefix stripped.
func (c *Client) ListModels(ctx context.Context, p *gateway.Provider) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/models"+keyParam(p), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}

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

	ids := make([]string, len(out.Models))
	for i, m := range out.Models {
		ids[i] = strings.TrimPrefix(m.Name, "models/")
	}
	return ids, nil
}

// HealthCheck verifies connectivity by listing models.
func (c *Client) HealthCheck(ctx context.Context, p *gateway.Provider) error {
	_, err := c.ListModels(ctx, p)
	return err
}

// keyParam returns the API key query string, or "" under OAuth hosting.
func keyParam(p *gateway.Provider) string {
	if p.APIKey == "" {
		return ""
	}
	return "?key=" + url.QueryEscape(p.APIKey)
}
