// Package openai implements the adapter for the OpenAI chat completions
// wire format. The same codec serves every OpenAI-compatible upstream
// (OpenAI, Groq, Together, Mistral, vLLM); the provider instance passed on
// each call supplies the brand, endpoint and credentials.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
	"github.com/tverberg/switchyard/internal/provider/sseutil"
)

var (
	_ gateway.Adapter  = (*Client)(nil)
	_ gateway.Streamer = (*Client)(nil)
)

// Client is the OpenAI-compatible wire adapter. It holds no credentials;
// auth comes from the provider on every call.
type Client struct {
	http *http.Client
}

// New creates an OpenAI-compatible adapter using the given HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindOpenAI }

// chatPayload is the outbound chat completions body. Gateway-only request
// fields (provider, preference, user_id, metadata) never reach the wire.
type chatPayload struct {
	Model         string            `json:"model"`
	Messages      []gateway.Message `json:"messages"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     int               `json:"max_tokens"`
	TopP          *float64          `json:"top_p,omitempty"`
	Stop          []string          `json:"stop,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *streamOptions    `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

func payloadFor(req *gateway.ChatRequest) *chatPayload {
	return &chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
}

// chatResponse is the upstream chat completions envelope.
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

// ChatCompletion sends a non-streaming chat completion request.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := json.Marshal(payloadFor(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
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
	res.Cost = p.CostFor(res.Usage)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res, nil
}

// ChatCompletionStream sends a streaming chat completion request. The raw
// SSE data payloads are forwarded as-is in StreamChunk.Data (no JSON parsing
// on the hot path). The channel is closed after a Done sentinel or an error
// chunk.
func (c *Client) ChatCompletionStream(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	payload := payloadFor(req)
	payload.Stream = true
	payload.StreamOptions = &streamOptions{IncludeUsage: true}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	setHeaders(httpReq, p)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, provider.ParseAPIError(p.Name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go sseutil.ReadSSEStream(ctx, p.Name, resp, ch)
	return ch, nil
}

// listModelsResponse is the envelope returned by GET /models.
type listModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels returns the IDs of all models available upstream.
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

	ids := make([]string, len(out.Data))
	for i, m := range out.Data {
		ids[i] = m.ID
	}
	return ids, nil
}

// HealthCheck verifies connectivity by listing models.
func (c *Client) HealthCheck(ctx context.Context, p *gateway.Provider) error {
	_, err := c.ListModels(ctx, p)
	return err
}

// setHeaders applies content-type, bearer auth, and any per-provider extra
// headers to an outbound request.
func setHeaders(r *http.Request, p *gateway.Provider) {
	r.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		r.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	for k, v := range p.Headers {
		r.Header.Set(k, v)
	}
}
