package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/accounts"
)

// envSeeds maps boot-time environment keys to the provider each one
// configures.
var envSeeds = []struct {
	envKey     string
	providerID string
	name       string
}{
	{"OPENAI_API_KEY", "openai", "OpenAI"},
	{"ANTHROPIC_API_KEY", "anthropic", "Anthropic"},
	{"GEMINI_API_KEY", "gemini", "Google Gemini"},
	{"MISTRAL_API_KEY", "mistral", "Mistral"},
	{"GROQ_API_KEY", "groq", "Groq"},
	{"TOGETHER_API_KEY", "together", "Together"},
	{"COHERE_API_KEY", "cohere", "Cohere"},
	{"VOYAGE_API_KEY", "voyage", "Voyage AI"},
	{"JINA_API_KEY", "jina", "Jina AI"},
}

// Bootstrap seeds one account per provider credential found in the
// environment, plus the local Ollama endpoint. Accounts already present
// (restored from storage) are left untouched, so seeding is idempotent.
func Bootstrap(ctx context.Context, m *accounts.Manager, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, s := range envSeeds {
		key := os.Getenv(s.envKey)
		if key == "" {
			continue
		}
		err := seedAccount(ctx, m, logger, &gateway.ProviderAccount{
			ID:         s.providerID + "-default",
			Name:       s.name,
			ProviderID: s.providerID,
			Enabled:    true,
			Config:     gateway.AccountConfig{Type: gateway.AccountConfigAPIKey, APIKey: key},
		})
		if err != nil {
			return err
		}
	}

	// Azure needs the full endpoint shape, not just a key.
	if key := os.Getenv("AZURE_OPENAI_API_KEY"); key != "" {
		endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT")
		deployment := os.Getenv("AZURE_OPENAI_DEPLOYMENT")
		if endpoint == "" || deployment == "" {
			logger.Warn("AZURE_OPENAI_API_KEY set without endpoint or deployment, skipping azure account")
		} else {
			err := seedAccount(ctx, m, logger, &gateway.ProviderAccount{
				ID:         "azure-default",
				Name:       "Azure OpenAI",
				ProviderID: "azure",
				Enabled:    true,
				Config: gateway.AccountConfig{
					Type:           gateway.AccountConfigAzure,
					APIKey:         key,
					Endpoint:       endpoint,
					DeploymentName: deployment,
					APIVersion:     os.Getenv("AZURE_OPENAI_API_VERSION"),
				},
			})
			if err != nil {
				return err
			}
		}
	}

	// Local Ollama is always registered for development.
	return seedAccount(ctx, m, logger, &gateway.ProviderAccount{
		ID:         "local-default",
		Name:       "Local Ollama",
		ProviderID: "local",
		Enabled:    true,
		Config: gateway.AccountConfig{
			Type:           gateway.AccountConfigAPIKey,
			CustomEndpoint: "http://localhost:11434",
		},
	})
}

func seedAccount(ctx context.Context, m *accounts.Manager, logger *slog.Logger, a *gateway.ProviderAccount) error {
	if _, err := m.Account(a.ID); err == nil {
		return nil // restored from storage
	}
	if _, err := m.AddAccount(ctx, a); err != nil {
		return fmt.Errorf("seed %s: %w", a.ProviderID, err)
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "bootstrapped provider account",
		slog.String("provider", a.ProviderID),
		slog.String("account_id", a.ID),
	)
	return nil
}
