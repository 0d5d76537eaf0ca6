// Package azure implements the Azure OpenAI deployments protocol. Azure
// routes by deployment name in the URL path rather than a model field in
// the body, and authenticates with an api-key header instead of a bearer
// token.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
)

var _ gateway.Adapter = (*Client)(nil)

// defaultAPIVersion pins the data-plane API version used when the account
// does not override it.
const defaultAPIVersion = "2024-02-15-preview"

// Provider header bag keys consumed as adapter config. They are read here
// and never forwarded on the wire.
const (
	headerAPIVersion = "api-version"
	headerDeployment = "deployment"
)

// Client is the Azure OpenAI wire adapter. It holds no credentials; the
// provider instance carries the resource endpoint, key, deployment name and
// API version on every call.
type Client struct {
	http *http.Client
}

// New creates an Azure OpenAI adapter using the given HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindAzure }

func apiVersion(p *gateway.Provider) string {
	if v := p.Headers[headerAPIVersion]; v != "" {
		return v
	}
	return defaultAPIVersion
}

// deployment resolves the deployment path segment. On this wire the request
// model names the deployment; the configured name only covers requests that
// arrive without a model.
func deployment(p *gateway.Provider, model string) string {
	if model != "" {
		return model
	}
	return p.Headers[headerDeployment]
}

func chatURL(p *gateway.Provider, model string) string {
	return p.BaseURL + "/openai/deployments/" + url.PathEscape(deployment(p, model)) +
		"/chat/completions?api-version=" + url.QueryEscape(apiVersion(p))
}

// chatPayload is the outbound body. The model is addressed by the URL path,
// not the body.
type chatPayload struct {
	Messages    []gateway.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	TopP        *float64          `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
}

// chatResponse is the upstream envelope, identical to the OpenAI shape.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int             `json:"index"`
		Message      gateway.Message `json:"message"`
		FinishReason string          `json:"finish_reason"`
	} `json:"choices"`
	Usage gateway.Usage `json:"usage"`
}

// ChatCompletion sends a non-streaming chat completion request to the
// account's deployment.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := json.Marshal(&chatPayload{
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(p, req.Model), bytes.NewReader(body))
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

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.Name, err)
	}

	res := &gateway.ChatResponse{
		ID:       out.ID,
		Provider: p.Name,
		Model:    out.Model,
		Choices:  make([]gateway.Choice, len(out.Choices)),
		Usage:    out.Usage,
		Created:  time.Now().UTC(),
	}
	for i, ch := range out.Choices {
		res.Choices[i] = gateway.Choice{Index: ch.Index, Message: ch.Message, FinishReason: ch.FinishReason}
	}
	if res.Model == "" {
		res.Model = req.Model
	}
	for i := range res.Choices {
		if res.Choices[i].FinishReason == "" {
			res.Choices[i].FinishReason = "stop"
		}
	}
	res.Cost = p.CostFor(res.Usage)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res, nil
}

// ListModels returns the callable deployment for this account. Deployments
// are resource-specific and the data plane has no model catalog, so the
// configured name is the catalog.
func (c *Client) ListModels(_ context.Context, p *gateway.Provider) ([]string, error) {
	if d := p.Headers[headerDeployment]; d != "" {
		return []string{d}, nil
	}
	return []string{"gpt-4", "gpt-4-turbo", "gpt-35-turbo"}, nil
}

// HealthCheck verifies connectivity by listing the resource's deployments.
func (c *Client) HealthCheck(ctx context.Context, p *gateway.Provider) error {
	u := p.BaseURL + "/openai/deployments?api-version=" + url.QueryEscape(apiVersion(p))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	setHeaders(httpReq, p)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return provider.TransportError(p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return provider.ParseAPIError(p.Name, resp)
	}
	return nil
}

// setHeaders applies content-type and api-key auth. The provider header bag
// is adapter config on this wire format and is not forwarded.
func setHeaders(r *http.Request, p *gateway.Provider) {
	r.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		r.Header.Set("api-key", p.APIKey)
	}
}
