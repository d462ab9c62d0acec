// Package gateway is the HTTP client for the hosted AI generation
// gateway: five serverless endpoints that accept a JSON request and
// answer with an OpenAI-compatible chat-completion event stream.
//
// The client performs exactly one attempt per call. Failures surface to
// the wizard, which reverts its phase and waits for the user to resubmit;
// there is no retry, backoff, or circuit breaking by design.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Endpoint names one gateway function.
type Endpoint string

const (
	EndpointScenario       Endpoint = "scenario-generator"
	EndpointScenarioToCode Endpoint = "scenario-to-code"
	EndpointTestCase       Endpoint = "testcase-generator"
	EndpointXPath          Endpoint = "xpath-generator"
	EndpointWorkspaceChat  Endpoint = "workspace-ai-chat"
)

// Context is the workspace-derived generation context sent with every
// request: concatenated user stories plus uploaded app binary facts.
type Context struct {
	UserStories string   `json:"userStories"`
	HasAPK      bool     `json:"hasApk"`
	HasIPA      bool     `json:"hasIpa"`
	AppFiles    []string `json:"appFiles"`
}

// GenerateRequest is the JSON body for a generation call. Flow-specific
// fields are zero-valued and omitted when not applicable.
type GenerateRequest struct {
	WorkspaceID string  `json:"workspaceId"`
	Framework   string  `json:"framework,omitempty"`
	Platform    string  `json:"platform,omitempty"`
	Module      string  `json:"module,omitempty"`
	Query       string  `json:"query"`
	Context     Context `json:"context"`
}

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 64 * 1024

// Client talks to the AI gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

// NewClient creates a gateway client. The default HTTP client has no
// overall timeout: streams live as long as the model generates, bounded
// by the request context instead.
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			// Connect promptly, stream indefinitely.
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate POSTs one generation request and hands back the raw event
// stream for the caller's Assembler. The caller must close the returned
// body. A non-2xx status before streaming begins is classified into the
// package's sentinel errors.
func (c *Client) Generate(ctx context.Context, ep Endpoint, req GenerateRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := c.baseURL + "/" + string(ep)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("gateway request",
		"endpoint", ep,
		"workspace_id", req.WorkspaceID,
		"query_len", len(req.Query))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil, classifyStatus(resp.StatusCode, errBody)
	}

	return resp.Body, nil
}
