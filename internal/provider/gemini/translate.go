package gemini

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/tverberg/switchyard/internal"
)

// generateRequest is the Gemini generateContent request body.
type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64  `json:"temperature"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// translateRequest converts a ChatRequest to a generateContent request.
// System messages become the systemInstruction; assistant turns map to the
// "model" role.
func translateRequest(req *gateway.ChatRequest) *generateRequest {
	out := &generateRequest{
		GenerationConfig: &generationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}

	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			out.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
		case gateway.RoleUser:
			out.Contents = append(out.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		case gateway.RoleAssistant:
			out.Contents = append(out.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		}
	}
	return out
}

// translateResponse converts a generateContent JSON response to a
// ChatResponse. Gemini responses carry no id; one is synthesized from the
// model name.
func translateResponse(data []byte, requestModel string) *gateway.ChatResponse {
	r := gjson.ParseBytes(data)

	var text strings.Builder
	r.Get("candidates.0.content.parts").ForEach(func(_, p gjson.Result) bool {
		text.WriteString(p.Get("text").String())
		return true
	})

	u := r.Get("usageMetadata")
	usage := gateway.Usage{
		PromptTokens:     int(u.Get("promptTokenCount").Int()),
		CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
		TotalTokens:      int(u.Get("totalTokenCount").Int()),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &gateway.ChatResponse{
		ID:    "gemini-" + requestModel,
		Model: requestModel,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.AssistantMessage(text.String()),
			FinishReason: mapFinishReason(r.Get("candidates.0.finishReason").String()),
		}},
		Usage:   usage,
		Created: time.Now().UTC(),
	}
}

// mapFinishReason converts Gemini finish reasons to the unified vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return reason
	}
}
