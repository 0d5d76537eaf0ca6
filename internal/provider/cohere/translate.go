package cohere

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/tverberg/switchyard/internal"
)

// chatRequest is the Cohere /chat request body. The conversation folds into
// chat_history plus a single current message.
type chatRequest struct {
	Model       string        `json:"model"`
	Message     string        `json:"message"`
	ChatHistory []historyTurn `json:"chat_history,omitempty"`
	Preamble    string        `json:"preamble,omitempty"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	P           *float64      `json:"p,omitempty"`
	StopSeqs    []string      `json:"stop_sequences,omitempty"`
}

type historyTurn struct {
	Role    string `json:"role"` // USER or CHATBOT
	Message string `json:"message"`
}

// marshalRequest folds the message list into Cohere's shape: system turns
// become the preamble, the last user turn not yet answered by an assistant
// turn becomes the current message, and everything else becomes history.
func marshalRequest(req *gateway.ChatRequest) ([]byte, error) {
	out := &chatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		P:           req.TopP,
		StopSeqs:    req.Stop,
	}

	// Locate the current message: the last user turn with no assistant turn
	// after it.
	current := -1
	for i, m := range req.Messages {
		switch m.Role {
		case gateway.RoleUser:
			current = i
		case gateway.RoleAssistant:
			current = -1
		}
	}

	for i, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			out.Preamble = m.Content
		case gateway.RoleUser:
			if i == current {
				out.Message = m.Content
				continue
			}
			out.ChatHistory = append(out.ChatHistory, historyTurn{Role: "USER", Message: m.Content})
		case gateway.RoleAssistant:
			out.ChatHistory = append(out.ChatHistory, historyTurn{Role: "CHATBOT", Message: m.Content})
		}
	}
	return json.Marshal(out)
}

// parseResponse converts a Cohere /chat JSON response into a ChatResponse.
// Token usage lives under meta.tokens.
func parseResponse(data []byte, requestModel string) *gateway.ChatResponse {
	r := gjson.ParseBytes(data)

	in := int(r.Get("meta.tokens.input_tokens").Int())
	out := int(r.Get("meta.tokens.output_tokens").Int())

	return &gateway.ChatResponse{
		ID:    r.Get("generation_id").String(),
		Model: requestModel,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.AssistantMessage(r.Get("text").String()),
			FinishReason: mapFinishReason(r.Get("finish_reason").String()),
		}},
		Usage:   gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		Created: time.Now().UTC(),
	}
}

// mapFinishReason converts Cohere finish reasons to the unified vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "COMPLETE", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return reason
	}
}
