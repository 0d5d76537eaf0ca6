package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GCPOAuthTransport injects a GCP OAuth2 bearer token on every outbound
// request, obtained through Application Default Credentials. Tokens are
// cached and refreshed by the source.
type GCPOAuthTransport struct {
	next   http.RoundTripper
	source oauth2.TokenSource
}

// NewGCPOAuthTransport resolves ADC for the given scopes and returns a
// transport that sets Authorization: Bearer on each request. next may be
// nil for the default transport.
func NewGCPOAuthTransport(ctx context.Context, next http.RoundTripper, scopes ...string) (*GCPOAuthTransport, error) {
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: find GCP credentials: %w", err)
	}
	return &GCPOAuthTransport{
		next:   next,
		source: oauth2.ReuseTokenSource(nil, creds.TokenSource),
	}, nil
}

// newGCPOAuthTransportFromSource builds the transport around an explicit
// token source, bypassing ADC lookup in tests.
func newGCPOAuthTransportFromSource(next http.RoundTripper, ts oauth2.TokenSource) *GCPOAuthTransport {
	return &GCPOAuthTransport{
		next:   next,
		source: oauth2.ReuseTokenSource(nil, ts),
	}
}

// RoundTrip sets the bearer token on a clone of the request and forwards
// it. The caller's request is left untouched.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain GCP token: %w", err)
	}
	r2 := r.Clone(r.Context())
	r2.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.base().RoundTrip(r2)
}

func (t *GCPOAuthTransport) base() http.RoundTripper {
	if t.next != nil {
		return t.next
	}
	return http.DefaultTransport
}
