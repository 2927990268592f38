// Package preview holds the generated emails of a batch and the navigation,
// editing and exclusion state the user works with before sending.
package preview

import (
	"fmt"
	"log/slog"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

// Status is the delivery state of one preview.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Template holds the raw, unmerged composition fields.
type Template struct {
	FromName            string `yaml:"from_name"`
	FromEmail           string `yaml:"from_email"`
	To                  string `yaml:"to"`
	Cc                  string `yaml:"cc"`
	Bcc                 string `yaml:"bcc"`
	Subject             string `yaml:"subject"`
	Body                string `yaml:"body"`
	VariableAttachments string `yaml:"variable_attachments"`
	AttachmentDelimiter string `yaml:"attachment_delimiter"`
}

// Preview is one merged email.
type Preview struct {
	// Index is the 0-based position in recipient order.
	Index     int
	Recipient recipient.Record

	FromName  string
	FromEmail string
	// From is the composed sender: `"Name" <email>` or the bare email.
	From string

	To      string
	Cc      string
	Bcc     string
	Subject string
	Body    string

	Attachments []attachment.Ref
	Overrides   attachment.Overrides

	SendStatus Status
	SendError  string
}

// Label identifies the preview in reports, e.g. "email 2 <bob@example.com>".
func (p *Preview) Label() string {
	if p.To == "" {
		return fmt.Sprintf("email %d", p.Index+1)
	}
	return fmt.Sprintf("email %d <%s>", p.Index+1, p.To)
}

// HasAttachment reports whether filename is attached.
func (p *Preview) HasAttachment(filename string) bool {
	for _, ref := range p.Attachments {
		if ref.Filename == filename {
			return true
		}
	}
	return false
}

// Batch is the input of a full regeneration.
type Batch struct {
	Recipients []recipient.Record
	Template   Template
	// Consistent lists the filenames attached to every email.
	Consistent []string
	// SenderFallback is used as the from address when the merged one is
	// empty, typically the SMTP user.
	SenderFallback string
	Catalog        attachment.Catalog
}

// Rules returns the attachment rules of the batch.
func (b Batch) Rules() attachment.Rules {
	return attachment.Rules{
		Consistent:   b.Consistent,
		VariableExpr: b.Template.VariableAttachments,
		Delimiter:    b.Template.AttachmentDelimiter,
		BodyTemplate: b.Template.Body,
	}
}

// build merges the template against rec and resolves its attachments.
func build(b Batch, index int, rec recipient.Record, ov attachment.Overrides, batch *diag.Diagnostics) Preview {
	d := &diag.Diagnostics{}
	t := b.Template
	p := Preview{
		Index:      index,
		Recipient:  rec,
		FromName:   merge.MergeDiag(t.FromName, rec, d),
		FromEmail:  merge.MergeDiag(t.FromEmail, rec, d),
		To:         merge.MergeDiag(t.To, rec, d),
		Cc:         merge.MergeDiag(t.Cc, rec, d),
		Bcc:        merge.MergeDiag(t.Bcc, rec, d),
		Subject:    merge.MergeDiag(t.Subject, rec, d),
		Body:       merge.StripAttachmentRefs(merge.MergeDiag(t.Body, rec, d)),
		Overrides:  ov,
		SendStatus: StatusPending,
	}

	if p.FromEmail == "" && email.IsValidAddress(b.SenderFallback) {
		slog.Debug("using sender fallback as from address",
			"row", rec.RowNumber,
			"from", b.SenderFallback,
		)
		p.FromEmail = b.SenderFallback
	}
	p.From = email.ComposeFrom(p.FromName, p.FromEmail)

	if b.Catalog != nil {
		p.Attachments = attachment.NewResolver(b.Catalog, b.Rules()).Resolve(rec, ov, d)
	}
	batch.MergeFor(d, p.Label())
	return p
}
