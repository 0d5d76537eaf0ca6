package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
)

// sseUpstream serves a fixed OpenAI-format SSE stream.
func sseUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatStreamPassthrough(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	addEndpointAccount(t, env.manager, "openai", sseUpstream(t).URL)

	body := `{"model":"m-1","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(t, env.handler(), http.MethodPost, chatPath, body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}
	if !rec.Flushed {
		t.Error("response was never flushed")
	}

	got := rec.Body.String()
	for _, frame := range []string{
		"data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n",
		"data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n",
		"data: [DONE]\n\n",
	} {
		if !strings.Contains(got, frame) {
			t.Errorf("body missing frame %q:\n%s", frame, got)
		}
	}
	if strings.Count(got, "data: [DONE]") != 1 {
		t.Errorf("want exactly one [DONE] sentinel:\n%s", got)
	}

	// Streams are not ledger-recorded; quota settlement happens in the router.
	if entries := env.ledger.Recent(10); len(entries) != 0 {
		t.Errorf("ledger entries = %d, want 0 for a streaming request", len(entries))
	}
}

func TestChatStreamUnsupportedProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	// The anthropic adapter does not stream.
	addEndpointAccount(t, env.manager, "anthropic", "http://127.0.0.1:1")

	body := `{"model":"claude-x","provider":"anthropic","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(t, env.handler(), http.MethodPost, chatPath, body)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json error body", ct)
	}
	if got := errorCodeOf(t, rec); got != codeProviderError {
		t.Errorf("code = %q, want %q", got, codeProviderError)
	}
}

func TestChatStreamBudgetExceeded(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	addEndpointAccount(t, env.manager, "openai", sseUpstream(t).URL)
	env.ledger.SetBudget(context.Background(), "u1", 5, true)
	env.ledger.RecordCost(context.Background(), "openai", "m-1",
		gateway.Usage{TotalTokens: 10}, 5.0, "u1", "seed")

	body := `{"model":"m-1","user_id":"u1","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(t, env.handler(), http.MethodPost, chatPath, body)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402 before any stream is opened", rec.Code)
	}
}

func TestChatStreamUpstreamError(t *testing.T) {
	t.Parallel()

	upstream := openAIWireServer(t, nil, http.StatusTooManyRequests)
	env := newTestEnv()
	addEndpointAccount(t, env.manager, "openai", upstream.URL)

	body := `{"model":"m-1","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	rec := doJSON(t, env.handler(), http.MethodPost, chatPath, body)

	// The upstream rejected the stream before any chunk: plain JSON error.
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := errorCodeOf(t, rec); got != codeRateLimited {
		t.Errorf("code = %q, want %q", got, codeRateLimited)
	}
}
