// Package local implements the adapter for self-hosted inference servers.
// Base URLs containing "11434" or "ollama" speak the native Ollama API;
// anything else is assumed OpenAI-compatible (vLLM, LM Studio, llama.cpp).
// Local inference is always free: cost stays zero either way.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
	"github.com/tverberg/switchyard/internal/provider/openai"
)

var (
	_ gateway.Adapter  = (*Client)(nil)
	_ gateway.Streamer = (*Client)(nil)
)

// Client is the local inference adapter.
type Client struct {
	http   *http.Client
	openai *openai.Client
}

// New creates a local adapter using the given HTTP client. The client
// should be HTTP/1.1; Ollama does not negotiate h2c.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client, openai: openai.New(client)}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindLocal }

// isOllama reports whether the base URL points at an Ollama server.
func isOllama(baseURL string) bool {
	lower := strings.ToLower(baseURL)
	return strings.Contains(lower, "11434") || strings.Contains(lower, "ollama")
}

// ollamaChatRequest is the native /api/chat request body.
type ollamaChatRequest struct {
	Model    string            `json:"model"`
	Messages []gateway.Message `json:"messages"`
	Stream   bool              `json:"stream"`
	Options  ollamaOptions     `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

// ollamaChatResponse is the native /api/chat response body.
type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// ChatCompletion dispatches to the native Ollama API or the OpenAI codec
// depending on the provider's base URL.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if !isOllama(p.BaseURL) {
		return c.openai.ChatCompletion(ctx, p, req)
	}

	start := time.Now()

	body, err := json.Marshal(&ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   false,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	})
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(p.Name, resp)
	}

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.Name, err)
	}

	finish := out.DoneReason
	if finish == "" {
		finish = "stop"
	}
	model := out.Model
	if model == "" {
		model = req.Model
	}
	return &gateway.ChatResponse{
		ID:       "local-" + model,
		Provider: p.Name,
		Model:    model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.AssistantMessage(out.Message.Content),
			FinishReason: finish,
		}},
		Usage: gateway.Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		Created:   time.Now().UTC(),
		LatencyMs: time.Since(start).Milliseconds(),
		Cost:      0,
	}, nil
}

// ChatCompletionStream streams through the OpenAI codec when the upstream
// is OpenAI-compatible. Native Ollama streaming is NDJSON, not SSE, and is
// not passed through.
func (c *Client) ChatCompletionStream(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if isOllama(p.BaseURL) {
		return nil, fmt.Errorf("%s: streaming: %w", p.Name, gateway.ErrNotImplemented)
	}
	return c.openai.ChatCompletionStream(ctx, p, req)
}

// tagsResponse is the envelope returned by GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns locally installed model names.
func (c *Client) ListModels(ctx context.Context, p *gateway.Provider) ([]string, error) {
	if !isOllama(p.BaseURL) {
		return c.openai.ListModels(ctx, p)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/api/tags", nil)
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

	var out tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode tags response: %w", p.Name, err)
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
