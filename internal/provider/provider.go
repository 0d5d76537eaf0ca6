// Package provider contains the adapter factory and shared utilities for
// LLM provider adapters.
//
// This file holds the wire-level catalog: default base URLs and default
// per-1M-token pricing, keyed by provider id. Account-level custom endpoints
// override the base URL; Azure and Bedrock endpoints derive entirely from
// account config.
package provider

import gateway "github.com/tverberg/switchyard/internal"

// defaultBaseURLs maps a provider id to its public API endpoint.
var defaultBaseURLs = map[string]string{
	"openai":    "https://api.openai.com/v1",
	"anthropic": "https://api.anthropic.com/v1",
	"gemini":    "https://generativelanguage.googleapis.com/v1beta",
	"mistral":   "https://api.mistral.ai/v1",
	"groq":      "https://api.groq.com/openai/v1",
	"together":  "https://api.together.xyz/v1",
	"cohere":    "https://api.cohere.ai/v1",
	"voyage":    "https://api.voyageai.com/v1",
	"jina":      "https://api.jina.ai/v1",
	"local":     "http://localhost:11434",
}

// defaultPricing is the per-1M-token USD cost assumed for providers
// configured without explicit pricing. Providers not listed (gemini, local,
// vector stores) default to zero.
var defaultPricing = map[string]gateway.Pricing{
	"openai":    {InputTokenCost: 30, OutputTokenCost: 60},
	"anthropic": {InputTokenCost: 15, OutputTokenCost: 75},
	"mistral":   {InputTokenCost: 8, OutputTokenCost: 24},
	"groq":      {InputTokenCost: 0.27, OutputTokenCost: 0.27},
	"together":  {InputTokenCost: 0.2, OutputTokenCost: 0.2},
	"cohere":    {InputTokenCost: 1.0, OutputTokenCost: 2.0},
}

// DefaultBaseURL returns the public API endpoint for a provider id, or ""
// when the endpoint must come from account config.
func DefaultBaseURL(id string) string { return defaultBaseURLs[id] }

// DefaultPricing returns the assumed per-1M-token pricing for a provider id.
func DefaultPricing(id string) gateway.Pricing { return defaultPricing[id] }
