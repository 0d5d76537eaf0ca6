// Package gateway defines domain types and interfaces for the Switchyard LLM gateway.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// --- Chat ---

// Request defaults applied when the client omits the field entirely.
// An explicit zero is preserved.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a chat conversation.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

// UserMessage returns a user-role message.
func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

// AssistantMessage returns an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// FunctionCall is a function invocation attached to an assistant message.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ChatRequest is a provider-agnostic chat completion request.
type ChatRequest struct {
	Model string `json:"model"`
	// Provider routes directly to the named provider, bypassing preference
	// routing and fallback.
	Provider    string            `json:"provider,omitempty"`
	Messages    []Message         `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   int               `json:"max_tokens"`
	TopP        *float64          `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Preference  *Preference       `json:"preference,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// UnmarshalJSON decodes a request with defaults: temperature and max_tokens
// fall back to DefaultTemperature and DefaultMaxTokens when absent, while an
// explicit zero survives.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	a := alias{Temperature: DefaultTemperature, MaxTokens: DefaultMaxTokens}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ChatRequest(a)
	return nil
}

// ChatResponse is the unified completion response returned to clients.
type ChatResponse struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Choices   []Choice  `json:"choices"`
	Usage     Usage     `json:"usage"`
	Created   time.Time `json:"created"`
	LatencyMs int64     `json:"latency_ms"`
	Cost      float64   `json:"cost"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage holds token usage statistics for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Data  []byte // raw SSE data line, forwarded as-is when possible
	Usage *Usage // non-nil on final chunk
	Done  bool
	Err   error
}

// --- Routing preference ---

// PreferenceKind enumerates the routing strategies.
type PreferenceKind int

const (
	PreferCostOptimal PreferenceKind = iota
	PreferLatencyOptimal
	PreferQualityTier
	PreferLoadBalanced
	PreferSpecific
)

var preferenceNames = map[PreferenceKind]string{
	PreferCostOptimal:    "cost_optimal",
	PreferLatencyOptimal: "latency_optimal",
	PreferQualityTier:    "quality_tier",
	PreferLoadBalanced:   "load_balanced",
}

// Preference selects how the router picks among registered providers.
// Index is meaningful only when Kind is PreferSpecific.
type Preference struct {
	Kind  PreferenceKind
	Index int
}

func (p Preference) String() string {
	if p.Kind == PreferSpecific {
		return fmt.Sprintf("specific_provider(%d)", p.Index)
	}
	return preferenceNames[p.Kind]
}

// MarshalJSON encodes unit kinds as bare strings ("cost_optimal") and the
// specific kind as {"specific_provider": N}.
func (p Preference) MarshalJSON() ([]byte, error) {
	if p.Kind == PreferSpecific {
		return json.Marshal(map[string]int{"specific_provider": p.Index})
	}
	name, ok := preferenceNames[p.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown preference kind %d", int(p.Kind))
	}
	return json.Marshal(name)
}

func (p *Preference) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		for kind, name := range preferenceNames {
			if name == s {
				*p = Preference{Kind: kind}
				return nil
			}
		}
		return fmt.Errorf("unknown provider preference %q", s)
	}
	var obj struct {
		Specific *int `json:"specific_provider"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid provider preference: %w", err)
	}
	if obj.Specific == nil {
		return errors.New("invalid provider preference: missing specific_provider")
	}
	*p = Preference{Kind: PreferSpecific, Index: *obj.Specific}
	return nil
}

// --- Providers ---

// ProviderKind identifies an upstream provider family.
type ProviderKind string

const (
	KindOpenAI      ProviderKind = "openai"
	KindAnthropic   ProviderKind = "anthropic"
	KindMistral     ProviderKind = "mistral"
	KindLocal       ProviderKind = "local"
	KindBedrock     ProviderKind = "bedrock"
	KindAzure       ProviderKind = "azure"
	KindAzureOpenAI ProviderKind = "azureopenai"
	KindGroq        ProviderKind = "groq"
	KindTogether    ProviderKind = "together"
	KindCohere      ProviderKind = "cohere"
	KindGemini      ProviderKind = "gemini"
)

// ParseProviderKind resolves a provider type string, accepting the common
// aliases "ollama" (local), "azure_openai" (azureopenai) and "google" (gemini).
func ParseProviderKind(s string) (ProviderKind, error) {
	switch strings.ToLower(s) {
	case "openai":
		return KindOpenAI, nil
	case "anthropic":
		return KindAnthropic, nil
	case "mistral":
		return KindMistral, nil
	case "local", "ollama":
		return KindLocal, nil
	case "bedrock":
		return KindBedrock, nil
	case "azure":
		return KindAzure, nil
	case "azure_openai", "azureopenai":
		return KindAzureOpenAI, nil
	case "groq":
		return KindGroq, nil
	case "together":
		return KindTogether, nil
	case "cohere":
		return KindCohere, nil
	case "gemini", "google":
		return KindGemini, nil
	default:
		return "", fmt.Errorf("unknown provider type: %q", s)
	}
}

// ModelCapability describes what a model can do.
type ModelCapability string

const (
	CapLLM       ModelCapability = "llm"
	CapEmbedding ModelCapability = "embedding"
	CapTTS       ModelCapability = "tts"
	CapSTT       ModelCapability = "stt"
	CapImage     ModelCapability = "imagegeneration"
)

// ProviderModel describes a model offered under a provider.
type ProviderModel struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Capabilities []ModelCapability `json:"capabilities"`
	// Per-1M-token cost overrides; nil falls back to the provider pricing.
	InputTokenCost  *float64 `json:"input_token_cost,omitempty"`
	OutputTokenCost *float64 `json:"output_token_cost,omitempty"`
}

// Pricing is the per-1M-token cost of a provider, in USD.
type Pricing struct {
	InputTokenCost  float64 `json:"input_token_cost"`
	OutputTokenCost float64 `json:"output_token_cost"`
}

// ProviderHealth is the router's moving view of one provider's health.
type ProviderHealth struct {
	Healthy      bool       `json:"healthy"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
	LastError    *time.Time `json:"last_error,omitempty"`
	AvgLatencyMs *float64   `json:"avg_latency_ms,omitempty"`
	ErrorRate    float64    `json:"error_rate"`
}

// Provider is a configured upstream provider instance. The API key is never
// serialized.
type Provider struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Kind    ProviderKind      `json:"provider_type"`
	Models  []ProviderModel   `json:"models"`
	APIKey  string            `json:"-"`
	BaseURL string            `json:"base_url"`
	Pricing Pricing           `json:"pricing"`
	Enabled bool              `json:"enabled"`
	Health  ProviderHealth    `json:"health"`
	Headers map[string]string `json:"headers,omitempty"`
}

// CostFor computes the USD cost of a request under this provider's pricing.
func (p *Provider) CostFor(u Usage) float64 {
	in := float64(u.PromptTokens) / 1_000_000 * p.Pricing.InputTokenCost
	out := float64(u.CompletionTokens) / 1_000_000 * p.Pricing.OutputTokenCost
	return in + out
}

// --- Adapters ---

// Adapter is the protocol implementation for one provider family. Adapters
// hold no credentials: the provider instance carries the key, base URL and
// pricing, and is passed on every call so account rotation can swap
// credentials without rebuilding the adapter.
type Adapter interface {
	// Kind returns the provider family this adapter speaks for.
	Kind() ProviderKind
	// ChatCompletion sends a non-streaming chat completion request.
	ChatCompletion(ctx context.Context, p *Provider, req *ChatRequest) (*ChatResponse, error)
	// ListModels returns the model IDs available upstream.
	ListModels(ctx context.Context, p *Provider) ([]string, error)
	// HealthCheck verifies connectivity to the upstream.
	HealthCheck(ctx context.Context, p *Provider) error
}

// Streamer is an optional interface adapters implement to support streaming
// chat completions. Checked via type assertion; adapters without it answer
// ErrNotImplemented through the router.
type Streamer interface {
	ChatCompletionStream(ctx context.Context, p *Provider, req *ChatRequest) (<-chan StreamChunk, error)
}

// --- Service health ---

// HealthStatus is the aggregate service health report.
type HealthStatus struct {
	Status        string                     `json:"status"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Version       string                     `json:"version"`
	Components    map[string]ComponentHealth `json:"components"`
}

// ComponentHealth is the health of a single subsystem.
type ComponentHealth struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The UserID field is set later by the chat handler via mutation of the same
// pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	UserID    string
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// UserIDFromContext extracts the requesting user from context.
func UserIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.UserID
	}
	return ""
}

// ContextWithUserID stores the user in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new
// metadata if none exists (e.g., in tests).
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.UserID = userID
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{UserID: userID})
}
