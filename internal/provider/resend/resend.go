// Package resend implements a Provider backed by the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v3"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// Config holds the Resend settings.
type Config struct {
	APIKey string
	// Sender, when set, replaces the From address of every message. Resend
	// only accepts addresses on a verified domain.
	Sender string
}

// EmailsAPI is the part of the Resend client the provider uses.
type EmailsAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends emails through Resend.
type Provider struct {
	sender string
	emails EmailsAPI
}

// New creates a Provider using the default Resend client.
func New(cfg Config) *Provider {
	return NewWithClient(cfg.Sender, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithClient creates a Provider with a custom emails client.
func NewWithClient(sender string, emails EmailsAPI) *Provider {
	return &Provider{sender: sender, emails: emails}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send delivers msg in a single API call.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	resp, err := p.emails.SendWithContext(ctx, p.request(msg))
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	slog.Debug("Resend accepted message", "id", resp.Id)
	return nil
}

func (p *Provider) request(msg *email.Email) *resend.SendEmailRequest {
	from := msg.FromHeader()
	if p.sender != "" {
		from = p.sender
	}

	req := &resend.SendEmailRequest{
		From:    from,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Html:    msg.HtmlBody,
		Text:    msg.TextBody,
	}
	if msg.MessageID != "" {
		req.Headers = map[string]string{"Message-ID": msg.MessageID}
	}

	if len(msg.Attachments) > 0 {
		req.Attachments = make([]*resend.Attachment, len(msg.Attachments))
		for i, a := range msg.Attachments {
			req.Attachments[i] = &resend.Attachment{
				Filename:    a.Filename,
				Content:     a.Content,
				ContentType: a.ContentType,
			}
		}
	}
	return req
}
