// Package cloudauth provides http.RoundTripper decorators for cloud-hosted
// model providers: AWS SigV4 signing for Bedrock invocations and GCP OAuth
// bearer tokens for Vertex-hosted Gemini. Adapters stay credential-free;
// the account factory wraps their HTTP clients with these transports.
package cloudauth

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// AWSSigV4Transport signs outbound requests with AWS Signature Version 4.
// The request body is buffered to compute the SHA-256 payload hash the
// signature covers.
type AWSSigV4Transport struct {
	next    http.RoundTripper
	creds   aws.CredentialsProvider
	signer  *v4.Signer
	region  string
	service string
}

// NewAWSSigV4Transport returns a signing transport for one region/service
// pair (e.g. "us-east-1", "bedrock-runtime"). next may be nil for the
// default transport.
func NewAWSSigV4Transport(next http.RoundTripper, creds aws.CredentialsProvider, region, service string) *AWSSigV4Transport {
	return &AWSSigV4Transport{
		next:    next,
		creds:   creds,
		signer:  v4.NewSigner(),
		region:  region,
		service: service,
	}
}

// RoundTrip hashes the body, signs a clone of the request, and forwards it.
// The caller's request is left untouched.
func (t *AWSSigV4Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("cloudauth: read body for signing: %w", err)
		}
		r.Body.Close()
	}

	r2 := r.Clone(r.Context())
	if len(body) > 0 {
		r2.Body = io.NopCloser(bytes.NewReader(body))
		r2.ContentLength = int64(len(body))
	} else {
		r2.Body = http.NoBody
		r2.ContentLength = 0
	}

	creds, err := t.creds.Retrieve(r.Context())
	if err != nil {
		return nil, fmt.Errorf("cloudauth: retrieve AWS credentials: %w", err)
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])
	if err := t.signer.SignHTTP(r.Context(), creds, r2, hash, t.service, t.region, time.Now()); err != nil {
		return nil, fmt.Errorf("cloudauth: sign request: %w", err)
	}

	return t.base().RoundTrip(r2)
}

func (t *AWSSigV4Transport) base() http.RoundTripper {
	if t.next != nil {
		return t.next
	}
	return http.DefaultTransport
}
