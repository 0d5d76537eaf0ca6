// Package factory resolves provider accounts into wire adapters. One
// adapter instance per wire protocol is shared across all accounts of that
// protocol; Bedrock and Vertex-hosted Gemini accounts get per-account HTTP
// clients whose transports carry the signing credentials, cached until the
// account changes.
package factory

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/rs/dnscache"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/cloudauth"
	"github.com/tverberg/switchyard/internal/provider"
	"github.com/tverberg/switchyard/internal/provider/anthropic"
	"github.com/tverberg/switchyard/internal/provider/azure"
	"github.com/tverberg/switchyard/internal/provider/bedrock"
	"github.com/tverberg/switchyard/internal/provider/cohere"
	"github.com/tverberg/switchyard/internal/provider/gemini"
	"github.com/tverberg/switchyard/internal/provider/local"
	"github.com/tverberg/switchyard/internal/provider/openai"
)

// wireKinds maps a provider id to the wire protocol its adapter speaks.
// Groq, Together and Mistral are OpenAI-shaped; one adapter per protocol,
// not per brand. Voyage and Jina expose OpenAI-style endpoints and resolve
// for catalog purposes even though routing never dispatches chat to them.
var wireKinds = map[string]gateway.ProviderKind{
	"openai":    gateway.KindOpenAI,
	"groq":      gateway.KindOpenAI,
	"together":  gateway.KindOpenAI,
	"mistral":   gateway.KindOpenAI,
	"voyage":    gateway.KindOpenAI,
	"jina":      gateway.KindOpenAI,
	"anthropic": gateway.KindAnthropic,
	"gemini":    gateway.KindGemini,
	"cohere":    gateway.KindCohere,
	"azure":     gateway.KindAzure,
	"bedrock":   gateway.KindBedrock,
	"local":     gateway.KindLocal,
}

// vertexScope is the OAuth scope requested for Vertex-hosted Gemini.
const vertexScope = "https://www.googleapis.com/auth/cloud-platform"

// Factory builds (adapter, provider) pairs from accounts.
type Factory struct {
	adapters map[gateway.ProviderKind]gateway.Adapter

	// baseTransport is wrapped by per-account signing transports.
	baseTransport http.RoundTripper

	mu     sync.Mutex
	signed map[string]signedEntry
}

type signedEntry struct {
	adapter   gateway.Adapter
	updatedAt time.Time
}

// New creates a Factory. All stateless adapters share one DNS-cached
// HTTP/2 client; the local adapter gets its own HTTP/1.1 client.
func New(resolver *dnscache.Resolver) *Factory {
	remote := provider.NewClient(resolver)
	return &Factory{
		adapters: map[gateway.ProviderKind]gateway.Adapter{
			gateway.KindOpenAI:    openai.New(remote),
			gateway.KindAnthropic: anthropic.New(remote),
			gateway.KindGemini:    gemini.New(remote),
			gateway.KindCohere:    cohere.New(remote),
			gateway.KindAzure:     azure.New(remote),
			gateway.KindLocal:     local.New(provider.NewLocalClient()),
		},
		baseTransport: provider.NewTransport(resolver, true),
		signed:        make(map[string]signedEntry),
	}
}

// Resolve builds the provider view for an account and returns the adapter
// that speaks its wire protocol. Vector store accounts have no chat wire
// and resolve to ErrNotImplemented.
func (f *Factory) Resolve(ctx context.Context, acct *gateway.ProviderAccount) (gateway.Adapter, *gateway.Provider, error) {
	p, err := providerView(acct)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case p.Kind == gateway.KindBedrock:
		ad, err := f.bedrockAdapter(acct)
		if err != nil {
			return nil, nil, err
		}
		return ad, p, nil
	case p.Kind == gateway.KindGemini && isVertex(p.BaseURL):
		ad, err := f.vertexAdapter(ctx, acct)
		if err != nil {
			return nil, nil, err
		}
		return ad, p, nil
	default:
		ad, ok := f.adapters[p.Kind]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no adapter for %q", gateway.ErrNotImplemented, p.Kind)
		}
		return ad, p, nil
	}
}

// Invalidate drops any cached signed client for an account. Called on
// account update or delete.
func (f *Factory) Invalidate(accountID string) {
	f.mu.Lock()
	delete(f.signed, accountID)
	f.mu.Unlock()
}

// providerView projects an account onto the per-call provider instance the
// adapters consume: endpoint, credentials, pricing, models.
func providerView(acct *gateway.ProviderAccount) (*gateway.Provider, error) {
	kind, ok := wireKinds[acct.ProviderID]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q has no chat wire", gateway.ErrNotImplemented, acct.ProviderID)
	}

	p := &gateway.Provider{
		ID:      acct.ProviderID,
		Name:    acct.ProviderID,
		Kind:    kind,
		Models:  acct.Models,
		Pricing: provider.DefaultPricing(acct.ProviderID),
		Enabled: acct.Enabled,
	}

	cfg := &acct.Config
	switch cfg.Type {
	case gateway.AccountConfigAPIKey:
		p.APIKey = cfg.APIKey
		p.BaseURL = provider.DefaultBaseURL(acct.ProviderID)
		if cfg.CustomEndpoint != "" {
			p.BaseURL = strings.TrimRight(cfg.CustomEndpoint, "/")
		}
		if cfg.OrganizationID != "" && acct.ProviderID == "openai" {
			p.Headers = map[string]string{"OpenAI-Organization": cfg.OrganizationID}
		}
	case gateway.AccountConfigAzure:
		p.APIKey = cfg.APIKey
		p.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
		p.Headers = map[string]string{"deployment": cfg.DeploymentName}
		if cfg.APIVersion != "" {
			p.Headers["api-version"] = cfg.APIVersion
		}
	case gateway.AccountConfigAWS:
		p.BaseURL = "https://bedrock-runtime." + cfg.Region + ".amazonaws.com"
		if cfg.CustomEndpoint != "" {
			p.BaseURL = strings.TrimRight(cfg.CustomEndpoint, "/")
		}
	default:
		return nil, fmt.Errorf("%w: account config %q has no chat wire", gateway.ErrNotImplemented, cfg.Type)
	}
	return p, nil
}

func isVertex(baseURL string) bool {
	return strings.Contains(baseURL, "aiplatform.googleapis.com")
}

// bedrockAdapter returns a Bedrock adapter whose HTTP client signs with the
// account's static credentials. Rebuilt when the account changes.
func (f *Factory) bedrockAdapter(acct *gateway.ProviderAccount) (gateway.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.signed[acct.ID]; ok && e.updatedAt.Equal(acct.UpdatedAt) {
		return e.adapter, nil
	}

	creds := credentials.NewStaticCredentialsProvider(acct.Config.AccessKeyID, acct.Config.SecretAccessKey, "")
	rt := cloudauth.NewAWSSigV4Transport(f.baseTransport, creds, acct.Config.Region, "bedrock-runtime")
	ad := bedrock.New(provider.NewClientWithTransport(rt))
	f.signed[acct.ID] = signedEntry{adapter: ad, updatedAt: acct.UpdatedAt}
	return ad, nil
}

// vertexAdapter returns a Gemini adapter whose HTTP client injects GCP
// OAuth tokens from Application Default Credentials. Rebuilt when the
// account changes.
func (f *Factory) vertexAdapter(ctx context.Context, acct *gateway.ProviderAccount) (gateway.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if e, ok := f.signed[acct.ID]; ok && e.updatedAt.Equal(acct.UpdatedAt) {
		return e.adapter, nil
	}

	rt, err := cloudauth.NewGCPOAuthTransport(ctx, f.baseTransport, vertexScope)
	if err != nil {
		return nil, fmt.Errorf("vertex credentials for account %s: %w", acct.ID, err)
	}
	ad := gemini.New(provider.NewClientWithTransport(rt))
	f.signed[acct.ID] = signedEntry{adapter: ad, updatedAt: acct.UpdatedAt}
	return ad, nil
}
