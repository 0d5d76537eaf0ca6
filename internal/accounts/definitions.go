// Package accounts manages provider accounts: the catalog of known
// providers, per-account multi-tier quotas, default-first selection with
// quota-based rotation, and return-to-primary tracking.
package accounts

import (
	"strings"

	gateway "github.com/tverberg/switchyard/internal"
)

// Category groups providers by what they are used for.
type Category string

const (
	CategoryLLMEmbedding Category = "llmembedding"
	CategoryVectorDB     Category = "vectordb"
)

// Modality describes which workloads a provider serves.
type Modality string

const (
	ModalityLLM       Modality = "llm"
	ModalityEmbedding Modality = "embedding"
	ModalityBoth      Modality = "both"
	ModalityVectorDB  Modality = "vectordb"
)

// ProviderDefinition describes one provider the gateway knows how to talk
// to: its default models, required config shape and supported quota windows.
type ProviderDefinition struct {
	ID                    string                  `json:"id"`
	Name                  string                  `json:"name"`
	Category              Category                `json:"category"`
	Modality              Modality                `json:"provider_type"`
	RequiresAzureConfig   bool                    `json:"requires_azure_config"`
	RequiresAWSConfig     bool                    `json:"requires_aws_config"`
	DefaultModels         []gateway.ProviderModel `json:"default_models"`
	SupportedQuotaPeriods []gateway.QuotaPeriod   `json:"supported_quota_periods"`
}

// configType returns the account config discriminator this provider expects.
func (d *ProviderDefinition) configType() string {
	switch {
	case d.RequiresAzureConfig:
		return gateway.AccountConfigAzure
	case d.RequiresAWSConfig:
		return gateway.AccountConfigAWS
	case d.Category == CategoryVectorDB:
		return gateway.AccountConfigVectorDB
	default:
		return gateway.AccountConfigAPIKey
	}
}

// defModel builds a catalog model from its display name. Names containing
// "embed" are classed as embedding models, everything else as LLM.
func defModel(name string) gateway.ProviderModel {
	caps := []gateway.ModelCapability{gateway.CapLLM}
	if strings.Contains(name, "embed") {
		caps = []gateway.ModelCapability{gateway.CapEmbedding}
	}
	return gateway.ProviderModel{
		ID:           strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Name:         name,
		Capabilities: caps,
	}
}

func defModels(names ...string) []gateway.ProviderModel {
	models := make([]gateway.ProviderModel, len(names))
	for i, n := range names {
		models[i] = defModel(n)
	}
	return models
}

// builtinDefinitions returns the provider catalog keyed by provider id.
func builtinDefinitions() map[string]*ProviderDefinition {
	defs := make(map[string]*ProviderDefinition)

	llm := []struct {
		id       string
		name     string
		modality Modality
		models   []string
	}{
		{"openai", "OpenAI", ModalityBoth,
			[]string{"gpt-4o", "gpt-4o-mini", "gpt-4-turbo", "o1", "o1-mini", "text-embedding-3-small", "text-embedding-3-large"}},
		{"anthropic", "Anthropic", ModalityLLM,
			[]string{"claude-3-5-sonnet-20241022", "claude-3-5-haiku-20241022", "claude-3-opus-20240229"}},
		{"gemini", "Google Gemini", ModalityBoth,
			[]string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash", "text-embedding-004"}},
		{"mistral", "Mistral AI", ModalityBoth,
			[]string{"mistral-large-latest", "mistral-small-latest", "codestral-latest", "mistral-embed"}},
		{"groq", "Groq", ModalityLLM,
			[]string{"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"}},
		{"together", "Together AI", ModalityBoth,
			[]string{"meta-llama/Llama-3.3-70B-Instruct-Turbo", "meta-llama/Llama-3.2-90B-Vision-Instruct-Turbo"}},
		{"cohere", "Cohere", ModalityBoth,
			[]string{"command-a-03-2025", "command-r-plus-08-2024", "command-r-08-2024", "embed-v4.0"}},
		{"voyage", "Voyage AI", ModalityEmbedding,
			[]string{"voyage-3", "voyage-3-lite", "voyage-code-3"}},
		{"jina", "Jina AI", ModalityEmbedding,
			[]string{"jina-embeddings-v3", "jina-clip-v2"}},
	}
	for _, p := range llm {
		defs[p.id] = &ProviderDefinition{
			ID:                    p.id,
			Name:                  p.name,
			Category:              CategoryLLMEmbedding,
			Modality:              p.modality,
			DefaultModels:         defModels(p.models...),
			SupportedQuotaPeriods: gateway.AllQuotaPeriods(),
		}
	}

	defs["local"] = &ProviderDefinition{
		ID:                    "local",
		Name:                  "Local (Ollama)",
		Category:              CategoryLLMEmbedding,
		Modality:              ModalityBoth,
		DefaultModels:         defModels("llama3.2", "qwen2.5-coder", "nomic-embed-text"),
		SupportedQuotaPeriods: gateway.AllQuotaPeriods(),
	}

	defs["azure"] = &ProviderDefinition{
		ID:                    "azure",
		Name:                  "Azure OpenAI",
		Category:              CategoryLLMEmbedding,
		Modality:              ModalityBoth,
		RequiresAzureConfig:   true,
		DefaultModels:         defModels("gpt-4", "gpt-35-turbo"),
		SupportedQuotaPeriods: gateway.AllQuotaPeriods(),
	}

	defs["bedrock"] = &ProviderDefinition{
		ID:                    "bedrock",
		Name:                  "AWS Bedrock",
		Category:              CategoryLLMEmbedding,
		Modality:              ModalityBoth,
		RequiresAWSConfig:     true,
		DefaultModels:         defModels("anthropic.claude-3-sonnet", "amazon.titan-embed-text-v1"),
		SupportedQuotaPeriods: gateway.AllQuotaPeriods(),
	}

	vector := []struct{ id, name string }{
		{"qdrant", "Qdrant"},
		{"pinecone", "Pinecone"},
		{"weaviate", "Weaviate"},
		{"chroma", "Chroma"},
		{"milvus", "Milvus"},
	}
	for _, v := range vector {
		defs[v.id] = &ProviderDefinition{
			ID:       v.id,
			Name:     v.name,
			Category: CategoryVectorDB,
			Modality: ModalityVectorDB,
			DefaultModels: []gateway.ProviderModel{
				{ID: "default", Name: "Default", Capabilities: []gateway.ModelCapability{}},
			},
			SupportedQuotaPeriods: []gateway.QuotaPeriod{gateway.PeriodMonth},
		}
	}

	return defs
}
