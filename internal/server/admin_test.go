package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/accounts"
)

const accountsPath = "/v1/provider-accounts"

func createAccountBody(name, providerID string) string {
	return fmt.Sprintf(`{"name":%q,"provider_id":%q,"config":{"type":"api_key","api_key":"sk-test"}}`, name, providerID)
}

func TestProviderDefinitionsList(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	rec := doJSON(t, env.handler(), http.MethodGet, accountsPath+"/providers", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	defs := decodeBody[[]accounts.ProviderDefinition](t, rec)
	var openai *accounts.ProviderDefinition
	for i := range defs {
		if defs[i].ID == "openai" {
			openai = &defs[i]
		}
	}
	if openai == nil {
		t.Fatalf("catalog is missing openai: %d definitions", len(defs))
	}
	if openai.Name != "OpenAI" {
		t.Errorf("openai name = %q", openai.Name)
	}
	found := false
	for _, m := range openai.DefaultModels {
		if m.ID == "gpt-4o" {
			found = true
		}
	}
	if !found {
		t.Error("openai default models missing gpt-4o")
	}
}

func TestCreateAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("first", "openai"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	first := decodeBody[gateway.ProviderAccount](t, rec)
	if first.ID == "" {
		t.Fatal("created account has no id")
	}
	if !first.IsDefault {
		t.Error("first account of a provider should be the default")
	}
	if !first.Enabled {
		t.Error("created account should be enabled")
	}
	if first.Priority != 1 {
		t.Errorf("priority = %d, want 1", first.Priority)
	}
	if want := accountsPath + "/accounts/" + first.ID; rec.Header().Get("Location") != want {
		t.Errorf("Location = %q, want %q", rec.Header().Get("Location"), want)
	}

	rec = doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("second", "openai"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("second create status = %d", rec.Code)
	}
	if second := decodeBody[gateway.ProviderAccount](t, rec); second.IsDefault {
		t.Error("second account must not displace the default")
	}

	rec = doJSON(t, h, http.MethodGet, accountsPath+"/openai/accounts", "")
	listed := decodeBody[[]gateway.ProviderAccount](t, rec)
	if len(listed) != 2 {
		t.Fatalf("listed %d accounts, want 2", len(listed))
	}
	if !listed[0].IsDefault {
		t.Error("listing should put the default account first")
	}
}

func TestCreateAccountValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	cases := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"missing name", `{"provider_id":"openai","config":{"type":"api_key","api_key":"k"}}`, "name is required"},
		{"missing provider", `{"name":"a","config":{"type":"api_key","api_key":"k"}}`, "provider_id is required"},
		{"unknown provider", createAccountBody("a", "frontier"), "unknown provider"},
		{"wrong config type", `{"name":"a","provider_id":"openai","config":{"type":"azure","endpoint":"https://x","deployment_name":"d","api_key":"k"}}`, "requires config type"},
		{"not json", `{oops`, "invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tc.wantMsg) {
				t.Errorf("body = %s, want message containing %q", rec.Body.String(), tc.wantMsg)
			}
		})
	}
}

func TestUpdateAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("upd", "openai"))
	acct := decodeBody[gateway.ProviderAccount](t, rec)

	body := `{"enabled":false,"quotas":[{"period":"day","token_limit":5000}]}`
	rec = doJSON(t, h, http.MethodPut, accountsPath+"/accounts/"+acct.ID, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[gateway.ProviderAccount](t, rec)
	if updated.Enabled {
		t.Error("account should be disabled after update")
	}
	tier, ok := updated.Quotas[gateway.PeriodDay]
	if !ok {
		t.Fatal("day quota tier missing after update")
	}
	if tier.TokenLimit != 5000 {
		t.Errorf("token limit = %d, want 5000", tier.TokenLimit)
	}

	rec = doJSON(t, h, http.MethodPut, accountsPath+"/accounts/missing", `{"enabled":true}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d, want 404", rec.Code)
	}
	if got := errorCodeOf(t, rec); got != codeNotFound {
		t.Errorf("code = %q, want %q", got, codeNotFound)
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("del", "openai"))
	acct := decodeBody[gateway.ProviderAccount](t, rec)

	rec = doJSON(t, h, http.MethodDelete, accountsPath+"/accounts/"+acct.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodDelete, accountsPath+"/accounts/"+acct.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rec.Code)
	}
}

func TestSetDefaultAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("one", "openai"))
	one := decodeBody[gateway.ProviderAccount](t, rec)
	rec = doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("two", "openai"))
	two := decodeBody[gateway.ProviderAccount](t, rec)

	rec = doJSON(t, h, http.MethodPut, accountsPath+"/openai/"+two.ID+"/default", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set default status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, accountsPath+"/openai/accounts", "")
	for _, a := range decodeBody[[]gateway.ProviderAccount](t, rec) {
		if a.ID == two.ID && !a.IsDefault {
			t.Error("promoted account is not the default")
		}
		if a.ID == one.ID && a.IsDefault {
			t.Error("previous default kept its flag")
		}
	}

	rec = doJSON(t, h, http.MethodPut, accountsPath+"/openai/missing/default", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown account status = %d, want 404", rec.Code)
	}
}

func TestRecordUsage(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	body := `{"name":"quota","provider_id":"openai",` +
		`"config":{"type":"api_key","api_key":"sk-test"},` +
		`"quotas":[{"period":"day","token_limit":100}]}`
	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	acct := decodeBody[gateway.ProviderAccount](t, rec)

	rec = doJSON(t, h, http.MethodPost, accountsPath+"/accounts/"+acct.ID+"/usage", `{"tokens":100,"requests":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("record usage status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, accountsPath+"/openai/usage", "")
	sum := decodeBody[accounts.ProviderUsageSummary](t, rec)
	if sum.TotalAccounts != 1 || sum.ExhaustedAccounts != 1 {
		t.Errorf("summary = %+v, want 1 total / 1 exhausted", sum)
	}

	// With the only account exhausted there is nothing to pick.
	rec = doJSON(t, h, http.MethodGet, accountsPath+"/openai/available", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("available status = %d, want 404 when all accounts are exhausted", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, accountsPath+"/accounts/"+acct.ID+"/usage", `{"tokens":-1,"requests":0}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative usage status = %d, want 400", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, accountsPath+"/accounts/missing/usage", `{"tokens":1,"requests":1}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d, want 404", rec.Code)
	}
}

func TestAccountStatuses(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	body := `{"name":"st","provider_id":"openai",` +
		`"config":{"type":"api_key","api_key":"sk-test"},` +
		`"quotas":[{"period":"day","token_limit":100}]}`
	doJSON(t, h, http.MethodPost, accountsPath+"/accounts", body)

	rec := doJSON(t, h, http.MethodGet, accountsPath+"/openai/statuses", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	statuses := decodeBody[[]accounts.AccountStatus](t, rec)
	if len(statuses) != 1 {
		t.Fatalf("got %d statuses, want 1", len(statuses))
	}
	if !statuses[0].HasQuota {
		t.Error("fresh account should have quota")
	}
	if len(statuses[0].QuotaTiers) != 1 {
		t.Errorf("quota tiers = %d, want 1", len(statuses[0].QuotaTiers))
	}

	// A provider with no accounts reports an empty list, not null.
	rec = doJSON(t, h, http.MethodGet, accountsPath+"/cohere/statuses", "")
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("empty statuses body = %s, want []", got)
	}
}

func TestAvailableAccount(t *testing.T) {
	t.Parallel()

	env := newTestEnv()
	h := env.handler()

	rec := doJSON(t, h, http.MethodPost, accountsPath+"/accounts", createAccountBody("avail", "openai"))
	created := decodeBody[gateway.ProviderAccount](t, rec)

	rec = doJSON(t, h, http.MethodGet, accountsPath+"/openai/available", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if picked := decodeBody[gateway.ProviderAccount](t, rec); picked.ID != created.ID {
		t.Errorf("picked %q, want %q", picked.ID, created.ID)
	}
}
