package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mindburn-labs/assay/pkg/assayerr"
)

// ModelClient invokes whatever is under test for a given request and
// returns its raw response. A cache miss in strict replay mode never
// reaches a ModelClient at all — the Runner rejects it with
// E_REPLAY_MISSING_DEPENDENCY before construction even matters.
type ModelClient interface {
	Invoke(ctx context.Context, request interface{}) (json.RawMessage, error)
}

// HTTPModelClient is the "real" client: a plain POST to an HTTP endpoint
// carrying the request body, timeout-bounded per call. Grounded on the
// same plain net/http request-building style pkg/registry/client.go uses
// for its provider calls, with the same timeout/5xx-mapping discipline.
type HTTPModelClient struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

func NewHTTPModelClient(endpoint string) *HTTPModelClient {
	return &HTTPModelClient{Endpoint: endpoint, Client: &http.Client{}, Timeout: 30 * time.Second}
}

func (c *HTTPModelClient) Invoke(ctx context.Context, request interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("replay: marshal model request: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replay: build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, assayerr.New(assayerr.ETimeout, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return nil, assayerr.New(assayerr.EProvider5xx, fmt.Sprintf("model endpoint returned %d", resp.StatusCode))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, assayerr.New(assayerr.ERateLimit, "model endpoint rate limited the request")
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("replay: decode model response: %w", err)
	}
	return raw, nil
}

// ReplayOnlyModelClient never makes a network call; every Invoke returns
// E_REPLAY_MISSING_DEPENDENCY. cmd/assay wires it, in any mode, whenever
// no model endpoint is configured, as an explicit "no real client" value
// instead of a nil interface.
type ReplayOnlyModelClient struct{}

func (ReplayOnlyModelClient) Invoke(context.Context, interface{}) (json.RawMessage, error) {
	return nil, assayerr.New(assayerr.EReplayMissingDependency, "strict replay mode permits no network call")
}
