package azure

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
		ID:      "azure",
		Name:    "azure",
		Kind:    gateway.KindAzure,
		APIKey:  "az-key",
		BaseURL: baseURL,
		Pricing: gateway.Pricing{InputTokenCost: 30, OutputTokenCost: 60},
		Enabled: true,
		Headers: map[string]string{"deployment": "prod-gpt4", "api-version": "2024-02-15-preview"},
	}
}

func TestChatCompletionDeploymentRouting(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/gpt-4/chat/completions" {
			t.Errorf("path = %s, want the request model as the deployment", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-02-15-preview" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("api-key") != "az-key" {
			t.Error("missing api-key header")
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("bearer auth must not be sent")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-az1","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":2,"total_tokens":12}}`)
	}))
	defer srv.Close()

	client := New(nil)
	resp, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "gpt-4",
		Messages: []gateway.Message{gateway.UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if _, ok := gotBody["model"]; ok {
		t.Error("model must not appear in the body, it is addressed by the URL")
	}
	if gotBody["max_tokens"].(float64) != 2048 {
		t.Errorf("max_tokens = %v", gotBody["max_tokens"])
	}
	if resp.ID != "chatcmpl-az1" || resp.Usage.TotalTokens != 12 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Cost == 0 {
		t.Error("cost should be computed from pricing")
	}
}

func TestChatCompletionModelAsDeployment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/my-deploy/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}],"usage":{}}`)
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	p.Headers = nil // no configured deployment: the model names it

	client := New(nil)
	resp, err := client.ChatCompletion(context.Background(), p, &gateway.ChatRequest{
		Model:    "my-deploy",
		Messages: []gateway.Message{gateway.UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Model != "my-deploy" {
		t.Errorf("model fallback = %q", resp.Model)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason default = %q", resp.Choices[0].FinishReason)
	}
}

func TestChatCompletionConfiguredDeploymentFallback(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/prod-gpt4/chat/completions" {
			t.Errorf("path = %s, want the configured deployment for an empty model", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"x","model":"gpt-4","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{}}`)
	}))
	defer srv.Close()

	client := New(nil)
	req := &gateway.ChatRequest{Messages: []gateway.Message{gateway.UserMessage("hello")}}
	if _, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), req); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
}

func TestChatCompletionAuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"access denied"}}`)
	}))
	defer srv.Close()

	client := New(nil)
	_, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "gpt-4",
		Messages: []gateway.Message{gateway.UserMessage("hello")},
	})
	if !errors.Is(err, gateway.ErrAuthFailed) {
		t.Fatalf("err = %v, want ErrAuthFailed", err)
	}
}

func TestListModelsConfiguredDeployment(t *testing.T) {
	t.Parallel()

	client := New(nil)
	models, err := client.ListModels(context.Background(), testProvider("http://unused"))
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0] != "prod-gpt4" {
		t.Errorf("models = %v", models)
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	if err := New(nil).HealthCheck(context.Background(), testProvider(srv.URL)); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}
