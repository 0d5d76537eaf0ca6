package cohere

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
)

func testProvider(baseURL string) *gateway.Provider {
	return &gateway.Provider{
		ID:      "cohere",
		Name:    "cohere",
		Kind:    gateway.KindCohere,
		APIKey:  "co-key",
		BaseURL: baseURL,
		Pricing: gateway.Pricing{InputTokenCost: 1.0, OutputTokenCost: 2.0},
		Enabled: true,
	}
}

type wirePayload struct {
	Model       string `json:"model"`
	Message     string `json:"message"`
	ChatHistory []struct {
		Role    string `json:"role"`
		Message string `json:"message"`
	} `json:"chat_history"`
	Preamble string `json:"preamble"`
}

func TestChatHistoryFolding(t *testing.T) {
	t.Parallel()

	var got wirePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat" {
			t.Errorf("path = %s, want /chat", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer co-key" {
			t.Error("missing bearer auth")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"generation_id":"gen-1","text":"Fine, thanks.","finish_reason":"COMPLETE","meta":{"tokens":{"input_tokens":20,"output_tokens":5}}}`)
	}))
	defer srv.Close()

	client := New(nil)
	resp, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model: "command-r-08-2024",
		Messages: []gateway.Message{
			gateway.SystemMessage("be formal"),
			gateway.UserMessage("hello"),
			gateway.AssistantMessage("good day"),
			gateway.UserMessage("how are you?"),
		},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}

	if got.Preamble != "be formal" {
		t.Errorf("preamble = %q", got.Preamble)
	}
	if got.Message != "how are you?" {
		t.Errorf("message = %q, want the unpaired user turn", got.Message)
	}
	wantHistory := []struct{ role, msg string }{{"USER", "hello"}, {"CHATBOT", "good day"}}
	if len(got.ChatHistory) != len(wantHistory) {
		t.Fatalf("history length = %d, want %d", len(got.ChatHistory), len(wantHistory))
	}
	for i, want := range wantHistory {
		if got.ChatHistory[i].Role != want.role || got.ChatHistory[i].Message != want.msg {
			t.Errorf("history[%d] = %+v, want %+v", i, got.ChatHistory[i], want)
		}
	}

	if resp.ID != "gen-1" {
		t.Errorf("id = %q", resp.ID)
	}
	if resp.Choices[0].Message.Content != "Fine, thanks." {
		t.Errorf("content = %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 25 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestMarshalRequestAnsweredConversation(t *testing.T) {
	t.Parallel()

	// Every user turn is answered: nothing qualifies as the current message,
	// the whole conversation goes to history.
	body, err := marshalRequest(&gateway.ChatRequest{
		Model: "command-r-08-2024",
		Messages: []gateway.Message{
			gateway.UserMessage("q1"),
			gateway.AssistantMessage("a1"),
		},
	})
	if err != nil {
		t.Fatalf("marshalRequest: %v", err)
	}
	var got wirePayload
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Message != "" {
		t.Errorf("message = %q, want empty", got.Message)
	}
	roles := []string{}
	for _, h := range got.ChatHistory {
		roles = append(roles, h.Role)
	}
	if !reflect.DeepEqual(roles, []string{"USER", "CHATBOT"}) {
		t.Errorf("history roles = %v", roles)
	}
}

func TestChatCompletionRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"message":"too many requests"}`)
	}))
	defer srv.Close()

	client := New(nil)
	_, err := client.ChatCompletion(context.Background(), testProvider(srv.URL), &gateway.ChatRequest{
		Model:    "command-r-08-2024",
		Messages: []gateway.Message{gateway.UserMessage("hi")},
	})
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"models":[{"name":"command-a-03-2025"},{"name":"command-r-plus-08-2024"}]}`)
	}))
	defer srv.Close()

	client := New(nil)
	models, err := client.ListModels(context.Background(), testProvider(srv.URL))
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "command-a-03-2025" {
		t.Errorf("models = %v", models)
	}
}
