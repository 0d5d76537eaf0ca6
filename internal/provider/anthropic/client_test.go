package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
)

func testProvider(baseURL string) *gateway.Provider {
	return &gateway.Provider{
		ID:      "anthropic",
		Name:    "anthropic",
		Kind:    gateway.KindAnthropic,
		APIKey:  "sk-ant-test",
		BaseURL: baseURL,
		Pricing: gateway.Pricing{InputTokenCost: 15, OutputTokenCost: 75},
		Enabled: true,
	}
}

func TestChatCompletionSystemLift(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Error("missing x-api-key header")
		}
		if r.Header.Get("anthropic-version") != "2023-06-01" {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("Authorization header must not be set for Anthropic")
		}

		var payload struct {
			System    string `json:"system"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.System != "be brief" {
			t.Errorf("system = %q, want %q", payload.System, "be brief")
		}
		if len(payload.Messages) != 1 || payload.Messages[0].Role != "user" || payload.Messages[0].Content != "hi" {
			t.Errorf("messages = %+v, want single user turn", payload.Messages)
		}
		if payload.MaxTokens != 2048 {
			t.Errorf("max_tokens = %d, want 2048", payload.MaxTokens)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","model":"claude-3-5-sonnet-20241022","content":[{"type":"text","text":"Hello."}],"stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":4}}`)
	}))
	defer srv.Close()

	client := New(nil)
	req := &gateway.ChatRequest{}
	if err := json.Unmarshal([]byte(`{"model":"claude-3-5-sonnet-20241022","messages":[{"role":"system","content":"be brief"},{"role":"user","content":"hi"}]}`), req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}

	resp, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), req)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := resp.Choices[0].Message.Content; got != "Hello." {
		t.Errorf("content = %q, want %q", got, "Hello.")
	}
	if resp.Choices[0].FinishReason != "end_turn" {
		t.Errorf("finish_reason = %q, want end_turn", resp.Choices[0].FinishReason)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 4 || resp.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestParseResponseMultiBlock(t *testing.T) {
	t.Parallel()

	resp := parseResponse([]byte(`{"id":"msg_2","content":[{"type":"text","text":"part one"},{"type":"tool_use","id":"t1"},{"type":"text","text":" and two"}],"usage":{"input_tokens":1,"output_tokens":2}}`))
	if got := resp.Choices[0].Message.Content; got != "part one and two" {
		t.Errorf("content = %q", got)
	}
	// Absent stop_reason defaults to end_turn.
	if resp.Choices[0].FinishReason != "end_turn" {
		t.Errorf("finish_reason = %q, want end_turn", resp.Choices[0].FinishReason)
	}
}

func TestChatCompletionAuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error"}}`)
	}))
	defer srv.Close()

	client := New(nil)
	_, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []gateway.Message{gateway.UserMessage("hi")},
	})
	if !errors.Is(err, gateway.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestListModelsStatic(t *testing.T) {
	t.Parallel()

	client := New(nil)
	models, err := client.ListModels(context.Background(), testProvider("http://unused"))
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("expected a static model list")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.WriteHeader(http.StatusMethodNotAllowed) // reachable is enough
	}))
	defer srv.Close()

	client := New(nil)
	if err := client.HealthCheck(context.Background(), testProvider(srv.URL)); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
