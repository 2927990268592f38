package send

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

// Transport is the send service as seen by the orchestrator.
type Transport interface {
	// SendBatch delivers every email of p and returns the per-recipient
	// outcomes.
	SendBatch(ctx context.Context, p *Payload) (*BatchResult, error)

	// TestConnection checks the SMTP account settings.
	TestConnection(ctx context.Context, s SMTPSettings) (*TestResult, error)
}

// maxResponseSize bounds how much of a service response is read.
const maxResponseSize = 10 << 20

// Client is the HTTP Transport for the send service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: timeout})
}

// NewClientWithHTTP creates a Client using the given HTTP client, used for
// testing.
func NewClientWithHTTP(baseURL string, client *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// SendBatch posts the batch to /send-emails.
func (c *Client) SendBatch(ctx context.Context, p *Payload) (*BatchResult, error) {
	var res BatchResult
	if err := c.post(ctx, "/send-emails", p, &res); err != nil {
		return nil, &TransportError{Op: "send", Err: err}
	}
	return &res, nil
}

// TestConnection posts the SMTP settings to /test-smtp.
func (c *Client) TestConnection(ctx context.Context, s SMTPSettings) (*TestResult, error) {
	var res TestResult
	if err := c.post(ctx, "/test-smtp", s, &res); err != nil {
		return nil, &TransportError{Op: "connection test", Err: err}
	}
	return &res, nil
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (*ServiceStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var status ServiceStatus
	if err := c.do(req, &status); err != nil {
		return nil, &TransportError{Op: "status", Err: err}
	}
	return &status, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// do executes req and decodes the JSON response. The service reports
// request-level failures in the body, so any status with a JSON body is
// decoded.
func (c *Client) do(req *http.Request, out any) error {
	slog.Debug("calling send service",
		"method", req.Method,
		"url", req.URL.String(),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := decodeJSON(respBody, out); err != nil {
		return fmt.Errorf("server error (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}
