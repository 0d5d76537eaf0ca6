package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
)

func testProvider(baseURL string) *gateway.Provider {
	return &gateway.Provider{
		ID:      "bedrock",
		Name:    "bedrock",
		Kind:    gateway.KindBedrock,
		BaseURL: baseURL,
		Pricing: gateway.Pricing{InputTokenCost: 3, OutputTokenCost: 15},
		Enabled: true,
	}
}

func TestFamilyOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  modelFamily
	}{
		{"anthropic.claude-3-sonnet-20240229-v1:0", familyClaude},
		{"meta.llama3-70b-instruct-v1:0", familyLlama},
		{"amazon.titan-text-express-v1", familyTitan},
		{"mistral.mistral-large-2402-v1:0", familyMistral},
		{"cohere.command-text-v14", familyClaude},
	}
	for _, tc := range cases {
		if got := familyOf(tc.model); got != tc.want {
			t.Errorf("familyOf(%q) = %v, want %v", tc.model, got, tc.want)
		}
	}
}

func TestChatCompletionClaude(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/invoke") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if !strings.Contains(r.URL.Path, "anthropic.claude-3-sonnet-20240229-v1:0") {
			t.Errorf("model missing from path: %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"bonjour"}],"stop_reason":"end_turn","usage":{"input_tokens":9,"output_tokens":3}}`)
	}))
	defer srv.Close()

	client := New(nil)
	resp, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model: "anthropic.claude-3-sonnet-20240229-v1:0",
		Messages: []gateway.Message{
			gateway.SystemMessage("translate to french"),
			gateway.UserMessage("hello"),
		},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotBody["anthropic_version"] != "bedrock-2023-05-31" {
		t.Errorf("anthropic_version = %v", gotBody["anthropic_version"])
	}
	if gotBody["system"] != "translate to french" {
		t.Errorf("system = %v", gotBody["system"])
	}
	msgs := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("wire messages = %d, want 1 (system lifted out)", len(msgs))
	}

	if resp.Choices[0].Message.Content != "bonjour" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.PromptTokens != 9 || resp.Usage.CompletionTokens != 3 || resp.Usage.TotalTokens != 12 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.ID == "" {
		t.Error("response id must be generated")
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
}

func TestChatCompletionLlama(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"generation":"hi there","prompt_token_count":7,"generation_token_count":2,"stop_reason":"stop"}`)
	}))
	defer srv.Close()

	client := New(nil)
	resp, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:     "meta.llama3-70b-instruct-v1:0",
		MaxTokens: 128,
		Messages: []gateway.Message{
			gateway.SystemMessage("be brief"),
			gateway.UserMessage("hey"),
		},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if gotBody["prompt"] != "[SYSTEM]: be brief\n[USER]: hey" {
		t.Errorf("prompt = %q", gotBody["prompt"])
	}
	if gotBody["max_gen_len"].(float64) != 128 {
		t.Errorf("max_gen_len = %v", gotBody["max_gen_len"])
	}
	if resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Usage.TotalTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatCompletionMistralAndTitanBodies(t *testing.T) {
	t.Parallel()

	msgs := []gateway.Message{gateway.UserMessage("ping")}

	body, err := buildBody(&gateway.ChatRequest{Model: "mistral.mistral-large-2402-v1:0", MaxTokens: 64, Messages: msgs})
	if err != nil {
		t.Fatalf("buildBody mistral: %v", err)
	}
	var mb map[string]any
	if err := json.Unmarshal(body, &mb); err != nil {
		t.Fatal(err)
	}
	if mb["prompt"] != "<user>ping</user>" {
		t.Errorf("mistral prompt = %q", mb["prompt"])
	}
	if mb["max_tokens"].(float64) != 64 {
		t.Errorf("mistral max_tokens = %v", mb["max_tokens"])
	}

	body, err = buildBody(&gateway.ChatRequest{Model: "amazon.titan-text-express-v1", MaxTokens: 64, Messages: msgs})
	if err != nil {
		t.Fatalf("buildBody titan: %v", err)
	}
	var tb map[string]any
	if err := json.Unmarshal(body, &tb); err != nil {
		t.Fatal(err)
	}
	if tb["inputText"] != "ping" {
		t.Errorf("titan inputText = %q", tb["inputText"])
	}
	cfg := tb["textGenerationConfig"].(map[string]any)
	if cfg["maxTokenCount"].(float64) != 64 {
		t.Errorf("titan maxTokenCount = %v", cfg["maxTokenCount"])
	}
}

func TestParseBodyMistralAndTitan(t *testing.T) {
	t.Parallel()

	content, usage := parseBody("mistral.mistral-large-2402-v1:0",
		[]byte(`{"outputs":[{"text":"pong","stop_reason":"stop"}],"prompt_token_count":4,"generation_token_count":1}`))
	if content != "pong" || usage.TotalTokens != 5 {
		t.Errorf("mistral parse = %q %+v", content, usage)
	}

	content, usage = parseBody("amazon.titan-text-express-v1",
		[]byte(`{"results":[{"outputText":"pong"}],"prompt_token_count":4,"generation_token_count":1}`))
	if content != "pong" || usage.PromptTokens != 4 {
		t.Errorf("titan parse = %q %+v", content, usage)
	}
}

func TestChatCompletionThrottled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"Too many requests, please wait before trying again."}`)
	}))
	defer srv.Close()

	client := New(nil)
	_, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []gateway.Message{gateway.UserMessage("hi")},
	})
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestListModelsStatic(t *testing.T) {
	t.Parallel()

	models, err := New(nil).ListModels(context.Background(), testProvider("http://unused"))
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("catalog must not be empty")
	}
	models[0] = "mutated"
	again, _ := New(nil).ListModels(context.Background(), testProvider("http://unused"))
	if again[0] == "mutated" {
		t.Error("catalog must be copied per call")
	}
}

func TestRequestBodyIsJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		raw, _ := io.ReadAll(r.Body)
		if !json.Valid(raw) {
			t.Error("body is not valid JSON")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	if _, err := New(nil).ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "anthropic.claude-3-haiku-20240307-v1:0",
		Messages: []gateway.Message{gateway.UserMessage("hi")},
	}); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
}
