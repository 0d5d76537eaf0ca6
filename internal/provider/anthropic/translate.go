package anthropic

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/tverberg/switchyard/internal"
)

// messagesRequest is the Anthropic Messages API request body.
type messagesRequest struct {
	Model       string       `json:"model"`
	MaxTokens   int          `json:"max_tokens"`
	Messages    []messageOut `json:"messages"`
	System      string       `json:"system,omitempty"`
	Temperature float64      `json:"temperature"`
	TopP        *float64     `json:"top_p,omitempty"`
	StopSeqs    []string     `json:"stop_sequences,omitempty"`
}

type messageOut struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// marshalRequest converts a ChatRequest into the Messages API body. System
// messages are lifted out of the conversation into the top-level system
// field; when several are present the last one wins.
func marshalRequest(req *gateway.ChatRequest) ([]byte, error) {
	out := &messagesRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		StopSeqs:    req.Stop,
	}
	for _, m := range req.Messages {
		if m.Role == gateway.RoleSystem {
			out.System = m.Content
			continue
		}
		out.Messages = append(out.Messages, messageOut{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(out)
}

// parseResponse converts a Messages API JSON response into a ChatResponse.
// Text content blocks are concatenated; stop_reason passes through verbatim
// and defaults to "end_turn" when the upstream omits it.
func parseResponse(data []byte) *gateway.ChatResponse {
	result := gjson.ParseBytes(data)

	var content strings.Builder
	result.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			content.WriteString(block.Get("text").String())
		}
		return true
	})

	stopReason := result.Get("stop_reason").String()
	if stopReason == "" {
		stopReason = "end_turn"
	}

	in := int(result.Get("usage.input_tokens").Int())
	out := int(result.Get("usage.output_tokens").Int())

	return &gateway.ChatResponse{
		ID:    result.Get("id").String(),
		Model: result.Get("model").String(),
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.AssistantMessage(content.String()),
			FinishReason: stopReason,
		}},
		Usage:   gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
		Created: time.Now().UTC(),
	}
}
