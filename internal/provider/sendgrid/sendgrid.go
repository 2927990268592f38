// Package sendgrid implements a Provider backed by the SendGrid v3 mail API.
package sendgrid

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/shineum/mailmerge-lite/internal/email"
)

const sendEndpoint = "/v3/mail/send"

// Config holds the SendGrid settings.
type Config struct {
	APIKey string
	// Sender, when set, replaces the From address of every message.
	Sender string
	// Sandbox validates requests without delivering them.
	Sandbox bool
	// Host overrides the API host, mainly for tests.
	Host string
}

// Provider sends emails through SendGrid.
type Provider struct {
	cfg Config
}

// New creates a Provider.
func New(cfg Config) *Provider {
	return &Provider{cfg: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "sendgrid"
}

// Send delivers msg with a single personalization carrying every recipient.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	req := sendgrid.GetRequest(p.cfg.APIKey, sendEndpoint, p.cfg.Host)
	req.Method = "POST"
	req.Body = sgmail.GetRequestBody(p.message(msg))

	resp, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return fmt.Errorf("sendgrid: request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid: HTTP %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (p *Provider) message(msg *email.Email) *sgmail.SGMailV3 {
	m := sgmail.NewV3Mail()
	if p.cfg.Sender != "" {
		m.SetFrom(sgmail.NewEmail("", p.cfg.Sender))
	} else {
		m.SetFrom(sgmail.NewEmail(msg.FromName, msg.From))
	}
	m.Subject = msg.Subject

	pers := sgmail.NewPersonalization()
	pers.AddTos(addresses(msg.To)...)
	pers.AddCCs(addresses(msg.Cc)...)
	pers.AddBCCs(addresses(msg.Bcc)...)
	m.AddPersonalizations(pers)

	// text/plain must precede text/html.
	if msg.TextBody != "" || msg.HtmlBody == "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextBody))
	}
	if msg.HtmlBody != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HtmlBody))
	}

	for _, att := range msg.Attachments {
		a := sgmail.NewAttachment()
		a.SetContent(base64.StdEncoding.EncodeToString(att.Content))
		a.SetType(att.ContentType)
		a.SetFilename(att.Filename)
		a.SetDisposition("attachment")
		m.AddAttachment(a)
	}

	if msg.MessageID != "" {
		m.SetHeader("Message-ID", msg.MessageID)
	}
	if p.cfg.Sandbox {
		enable := true
		m.SetMailSettings(&sgmail.MailSettings{SandboxMode: &sgmail.Setting{Enable: &enable}})
	}
	return m
}

// addresses converts bare or display-name addresses into SendGrid emails.
func addresses(addrs []string) []*sgmail.Email {
	out := make([]*sgmail.Email, 0, len(addrs))
	for _, a := range addrs {
		if parsed, err := mail.ParseAddress(a); err == nil {
			out = append(out, sgmail.NewEmail(parsed.Name, parsed.Address))
			continue
		}
		out = append(out, sgmail.NewEmail("", a))
	}
	return out
}
