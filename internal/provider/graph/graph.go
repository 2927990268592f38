package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/mailmerge-lite/internal/email"
)

const maxRetries = 3

var baseRetryDelay = 1 * time.Second

// Config holds the Azure app registration and the mailbox to send as.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the messages are sent from.
	Sender string
	// SaveToSentItems keeps a copy of every message in the sender's mailbox.
	SaveToSentItems bool
}

// Provider sends emails through Microsoft Graph with client-credentials auth.
type Provider struct {
	sendURL    string
	saveToSent bool
	httpClient *http.Client
	tokens     *tokenSource
}

// New creates a Provider for the public Graph and login endpoints.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	sendURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithEndpoints(cfg, sendURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithEndpoints(cfg Config, sendURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		sendURL:    sendURL,
		saveToSent: cfg.SaveToSentItems,
		httpClient: client,
		tokens:     newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}

// Verify checks the app credentials by fetching a fresh token.
func (p *Provider) Verify(ctx context.Context) error {
	if _, err := p.tokens.Invalidate(ctx); err != nil {
		return fmt.Errorf("graph authentication failed: %w", err)
	}
	return nil
}

// Send delivers msg. Server errors and throttling are retried with backoff,
// honouring Retry-After. A 401 triggers one token refresh.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	payload, err := json.Marshal(newSendMailRequest(msg, p.saveToSent))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	var lastErr error
	refreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := p.post(ctx, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		var apiErr *apiError
		if !errors.As(err, &apiErr) {
			return err
		}

		switch {
		case apiErr.status == http.StatusUnauthorized && !refreshed:
			slog.Info("refreshing Graph token after 401")
			if _, err := p.tokens.Invalidate(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			refreshed = true
		case apiErr.retryable():
			delay := apiErr.delay(attempt)
			slog.Info("Graph API request failed, retrying",
				"status", apiErr.status,
				"attempt", attempt+1,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return apiErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

// post performs a single sendMail request.
func (p *Provider) post(ctx context.Context, payload []byte) error {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &apiError{message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	apiErr := &apiError{
		status:     resp.StatusCode,
		message:    string(body),
		retryAfter: resp.Header.Get("Retry-After"),
	}
	var envelope errorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.code = envelope.Error.Code
		apiErr.message = envelope.Error.Message
	}
	return apiErr
}

// apiError is a failed sendMail call. A zero status means the request never
// got a response.
type apiError struct {
	status     int
	code       string
	message    string
	retryAfter string
}

func (e *apiError) Error() string {
	if e.status == 0 {
		return "Graph API request failed: " + e.message
	}
	if e.code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.status, e.code, e.message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.status, e.message)
}

func (e *apiError) retryable() bool {
	return e.status == 0 ||
		e.status == http.StatusUnauthorized ||
		e.status == http.StatusTooManyRequests ||
		e.status >= 500
}

// delay returns how long to wait before the next attempt.
func (e *apiError) delay(attempt int) time.Duration {
	if e.status == http.StatusTooManyRequests {
		if seconds, err := strconv.Atoi(e.retryAfter); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return backoffDelay(attempt)
}

func backoffDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
