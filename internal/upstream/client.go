// Package upstream is the JSON-over-HTTP client for the remote triage and
// remediation agent services.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/remedy/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/remedy/internal/upstream")

const (
	// TriagePath is the triage service endpoint.
	TriagePath = "/run-triage"

	// maxErrorBody bounds how much of a failed response body ends up in an error.
	maxErrorBody = 512

	// maxResponseBody bounds successful response bodies.
	maxResponseBody = 4 << 20
)

// ErrUnknownAgent is returned for agent names without a remote endpoint.
var ErrUnknownAgent = errors.New("unknown remediation agent")

// AgentPath returns the endpoint of the named remediation agent.
func AgentPath(agent string) (string, error) {
	switch agent {
	case "healing", "fraud":
		return "/run-" + agent + "-agent", nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAgent, agent)
}

// Client calls the triage service and the remediation agents.
type Client struct {
	triageURL  string
	agentURL   string
	httpClient *http.Client
}

// New creates a client. agentURL may be empty, in which case the agents are
// assumed to live on the triage service host.
func New(triageURL, agentURL string, timeout time.Duration) *Client {
	if agentURL == "" {
		agentURL = triageURL
	}
	return &Client{
		triageURL: strings.TrimRight(triageURL, "/"),
		agentURL:  strings.TrimRight(agentURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// RunTriage posts the incident to the triage service and returns the raw JSON verdict.
func (c *Client) RunTriage(ctx context.Context, inc *incident.Incident) (json.RawMessage, error) {
	return c.post(ctx, c.triageURL, TriagePath, inc)
}

// RunAgent posts the incident to the named remediation agent and returns the raw JSON response.
func (c *Client) RunAgent(ctx context.Context, agent string, inc *incident.Incident) (json.RawMessage, error) {
	path, err := AgentPath(agent)
	if err != nil {
		return nil, err
	}
	return c.post(ctx, c.agentURL, path, inc)
}

func (c *Client) post(ctx context.Context, base, path string, body any) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "upstream.post", trace.WithAttributes(
		attribute.String("remedy.upstream.path", path),
	))
	defer span.End()

	out, err := c.do(ctx, base, path, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, base, path string, body any) (json.RawMessage, error) {
	u, err := url.JoinPath(base, path)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: service URLs come from trusted config
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("%s returned invalid JSON", path)
	}
	return json.RawMessage(respBody), nil
}
