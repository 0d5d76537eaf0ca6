package bedrock

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/tverberg/switchyard/internal"
)

// modelFamily identifies which invoke dialect a Bedrock model speaks. The
// runtime fronts several vendors behind one endpoint and each expects its
// own body shape.
type modelFamily int

const (
	familyClaude modelFamily = iota
	familyLlama
	familyTitan
	familyMistral
)

func familyOf(model string) modelFamily {
	switch {
	case strings.Contains(model, "claude"):
		return familyClaude
	case strings.Contains(model, "llama"), strings.Contains(model, "meta"):
		return familyLlama
	case strings.Contains(model, "titan"):
		return familyTitan
	case strings.Contains(model, "mistral"):
		return familyMistral
	default:
		return familyClaude
	}
}

const claudeBedrockVersion = "bedrock-2023-05-31"

type claudeBody struct {
	AnthropicVersion string            `json:"anthropic_version"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      float64           `json:"temperature"`
	System           string            `json:"system,omitempty"`
	Messages         []gateway.Message `json:"messages"`
}

type llamaBody struct {
	Prompt      string  `json:"prompt"`
	MaxGenLen   int     `json:"max_gen_len"`
	Temperature float64 `json:"temperature"`
}

type mistralBody struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type titanBody struct {
	InputText string      `json:"inputText"`
	Config    titanConfig `json:"textGenerationConfig"`
}

type titanConfig struct {
	MaxTokenCount int     `json:"maxTokenCount"`
	Temperature   float64 `json:"temperature"`
}

// buildBody translates a chat request into the invoke body for the model's
// family.
func buildBody(req *gateway.ChatRequest) ([]byte, error) {
	switch familyOf(req.Model) {
	case familyLlama:
		return json.Marshal(&llamaBody{
			Prompt:      llamaPrompt(req.Messages),
			MaxGenLen:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	case familyMistral:
		return json.Marshal(&mistralBody{
			Prompt:      mistralPrompt(req.Messages),
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		})
	case familyTitan:
		return json.Marshal(&titanBody{
			InputText: titanPrompt(req.Messages),
			Config:    titanConfig{MaxTokenCount: req.MaxTokens, Temperature: req.Temperature},
		})
	default:
		body := &claudeBody{
			AnthropicVersion: claudeBedrockVersion,
			MaxTokens:        req.MaxTokens,
			Temperature:      req.Temperature,
			Messages:         make([]gateway.Message, 0, len(req.Messages)),
		}
		for _, m := range req.Messages {
			if m.Role == gateway.RoleSystem {
				body.System = m.Content
				continue
			}
			body.Messages = append(body.Messages, m)
		}
		return json.Marshal(body)
	}
}

// llamaPrompt flattens the conversation into the "[ROLE]: content" form the
// Llama chat templates were trained on.
func llamaPrompt(msgs []gateway.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = "[" + strings.ToUpper(m.Role) + "]: " + m.Content
	}
	return strings.Join(parts, "\n")
}

func mistralPrompt(msgs []gateway.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = "<" + m.Role + ">" + m.Content + "</" + m.Role + ">"
	}
	return strings.Join(parts, "\n")
}

func titanPrompt(msgs []gateway.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n\n")
}

// parseBody extracts the completion text and token usage from an invoke
// response. Claude reports usage under a usage object; every other family
// uses top-level token counts.
func parseBody(model string, body []byte) (string, gateway.Usage) {
	root := gjson.ParseBytes(body)

	var content string
	switch familyOf(model) {
	case familyLlama:
		content = root.Get("generation").String()
	case familyMistral:
		content = root.Get("outputs.0.text").String()
	case familyTitan:
		content = root.Get("results.0.outputText").String()
	default:
		content = root.Get("content.0.text").String()
	}

	var usage gateway.Usage
	if familyOf(model) == familyClaude {
		usage.PromptTokens = int(root.Get("usage.input_tokens").Int())
		usage.CompletionTokens = int(root.Get("usage.output_tokens").Int())
	} else {
		usage.PromptTokens = int(root.Get("prompt_token_count").Int())
		usage.CompletionTokens = int(root.Get("generation_token_count").Int())
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return content, usage
}
