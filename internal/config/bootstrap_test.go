package config

import (
	"context"
	"io"
	"log/slog"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/accounts"
)

// clearSeedEnv blanks every credential key so ambient environment cannot
// leak accounts into a test.
func clearSeedEnv(t *testing.T) {
	t.Helper()
	for _, s := range envSeeds {
		t.Setenv(s.envKey, "")
	}
	t.Setenv("AZURE_OPENAI_API_KEY", "")
	t.Setenv("AZURE_OPENAI_ENDPOINT", "")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBootstrapSeedsFromEnv(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	clearSeedEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")

	m := accounts.New(nil, testLogger())
	if err := Bootstrap(context.Background(), m, testLogger()); err != nil {
		t.Fatal(err)
	}

	groq, err := m.Account("groq-default")
	if err != nil {
		t.Fatalf("groq account not seeded: %v", err)
	}
	if groq.Config.APIKey != "gsk-test" || !groq.Enabled {
		t.Errorf("groq account = %+v", groq)
	}
	if _, err := m.Account("anthropic-default"); err != nil {
		t.Errorf("anthropic account not seeded: %v", err)
	}
	if _, err := m.Account("openai-default"); err == nil {
		t.Error("openai seeded without a key in the environment")
	}

	local, err := m.Account("local-default")
	if err != nil {
		t.Fatalf("local account not seeded: %v", err)
	}
	if local.Config.CustomEndpoint != "http://localhost:11434" {
		t.Errorf("local endpoint = %q", local.Config.CustomEndpoint)
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	clearSeedEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-test")

	m := accounts.New(nil, testLogger())
	for range 2 {
		if err := Bootstrap(context.Background(), m, testLogger()); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(m.AllAccounts()); got != 2 {
		t.Errorf("accounts after double bootstrap = %d, want 2 (groq + local)", got)
	}
}

func TestBootstrapKeepsRestoredAccount(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	clearSeedEnv(t)
	t.Setenv("GROQ_API_KEY", "gsk-new")

	m := accounts.New(nil, testLogger())
	if _, err := m.AddAccount(context.Background(), &gateway.ProviderAccount{
		ID:         "groq-default",
		Name:       "Groq (tuned)",
		ProviderID: "groq",
		Enabled:    true,
		Config:     gateway.AccountConfig{Type: gateway.AccountConfigAPIKey, APIKey: "gsk-old"},
	}); err != nil {
		t.Fatal(err)
	}

	if err := Bootstrap(context.Background(), m, testLogger()); err != nil {
		t.Fatal(err)
	}
	got, err := m.Account("groq-default")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Groq (tuned)" || got.Config.APIKey != "gsk-old" {
		t.Errorf("restored account overwritten: %+v", got)
	}
}

func TestBootstrapAzureNeedsEndpoint(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv
	clearSeedEnv(t)
	t.Setenv("AZURE_OPENAI_API_KEY", "az-key")

	m := accounts.New(nil, testLogger())
	if err := Bootstrap(context.Background(), m, testLogger()); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Account("azure-default"); err == nil {
		t.Error("azure seeded without endpoint and deployment")
	}

	t.Setenv("AZURE_OPENAI_ENDPOINT", "https://example.openai.azure.com")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT", "gpt-4o")

	if err := Bootstrap(context.Background(), m, testLogger()); err != nil {
		t.Fatal(err)
	}
	az, err := m.Account("azure-default")
	if err != nil {
		t.Fatalf("azure not seeded with full shape: %v", err)
	}
	if az.Config.Type != gateway.AccountConfigAzure || az.Config.DeploymentName != "gpt-4o" {
		t.Errorf("azure config = %+v", az.Config)
	}
}
