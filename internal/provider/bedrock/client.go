// Package bedrock implements the AWS Bedrock runtime invoke protocol.
// Requests are signed with SigV4 by the HTTP client's transport, so the
// adapter itself carries no credentials.
package bedrock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	gateway "github.com/tverberg/switchyard/internal"
	"github.com/tverberg/switchyard/internal/provider"
)

var _ gateway.Adapter = (*Client)(nil)

const maxResponseSize = 1 << 20

// Client is the Bedrock runtime adapter. The HTTP client it is built with
// must sign requests for the bedrock-runtime service.
type Client struct {
	http *http.Client
}

// New creates a Bedrock adapter using the given (signing) HTTP client.
func New(client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{http: client}
}

// Kind returns the wire format identifier.
func (c *Client) Kind() gateway.ProviderKind { return gateway.KindBedrock }

// ChatCompletion invokes the model synchronously. The body dialect and the
// response shape are chosen by the model's family.
func (c *Client) ChatCompletion(ctx context.Context, p *gateway.Provider, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	start := time.Now()

	body, err := buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.Name, err)
	}

	u := p.BaseURL + "/model/" + url.PathEscape(req.Model) + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.Name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(p.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.ParseAPIError(p.Name, resp)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.Name, err)
	}

	content, usage := parseBody(req.Model, raw)
	res := &gateway.ChatResponse{
		ID:       uuid.NewString(),
		Provider: p.Name,
		Model:    req.Model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.AssistantMessage(content),
			FinishReason: "stop",
		}},
		Usage:   usage,
		Created: time.Now().UTC(),
	}
	res.Cost = p.CostFor(res.Usage)
	res.LatencyMs = time.Since(start).Milliseconds()
	return res, nil
}

// catalogModels is the static model catalog. The runtime endpoint the
// adapter invokes against has no catalog API, and the control plane is a
// separate service with its own signing name.
var catalogModels = []string{
	"anthropic.claude-3-sonnet-20240229-v1:0",
	"anthropic.claude-3-haiku-20240307-v1:0",
	"amazon.titan-text-express-v1",
	"meta.llama3-70b-instruct-v1:0",
}

// ListModels returns the static catalog of broadly enabled Bedrock models.
func (c *Client) ListModels(_ context.Context, _ *gateway.Provider) ([]string, error) {
	out := make([]string, len(catalogModels))
	copy(out, catalogModels)
	return out, nil
}

// HealthCheck reports reachability. The runtime data plane has no free
// probe endpoint, so a configured account is assumed healthy until an
// invoke says otherwise.
func (c *Client) HealthCheck(_ context.Context, _ *gateway.Provider) error {
	return nil
}
