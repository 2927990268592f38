// Package diag collects non-fatal problems raised while merging templates and
// resolving attachments, so callers can report them without aborting a batch.
package diag

import (
	"log/slog"
	"strings"
)

// Kind classifies a recovered problem.
type Kind string

const (
	// KindMergeFault marks a template that could not be substituted and was
	// returned unmodified.
	KindMergeFault Kind = "merge_fault"

	// KindAttachmentOmission marks an attachment that was referenced but not
	// found, or found without a payload, and was left out of an email.
	KindAttachmentOmission Kind = "attachment_omission"
)

// Diagnostic is a single recovered problem.
type Diagnostic struct {
	Kind Kind
	// Recipient names the email the problem belongs to. Empty for problems
	// that concern the whole batch.
	Recipient string
	// Subject identifies what the problem is about, e.g. a filename.
	Subject string
	Message string
}

func (d Diagnostic) String() string {
	parts := []string{string(d.Kind)}
	if d.Recipient != "" {
		parts = append(parts, d.Recipient)
	}
	if d.Subject != "" {
		parts = append(parts, d.Subject)
	}
	return strings.Join(append(parts, d.Message), ": ")
}

// Diagnostics is an append-only list of recovered problems. The zero value is
// ready to use; a nil *Diagnostics discards everything.
type Diagnostics struct {
	items []Diagnostic
}

// Add records a diagnostic and logs it at warn level.
func (d *Diagnostics) Add(kind Kind, subject, message string) {
	slog.Warn(message,
		"kind", string(kind),
		"subject", subject,
	)
	if d == nil {
		return
	}
	d.items = append(d.items, Diagnostic{Kind: kind, Subject: subject, Message: message})
}

// Items returns a copy of the recorded diagnostics in insertion order.
func (d *Diagnostics) Items() []Diagnostic {
	if d == nil {
		return nil
	}
	out := make([]Diagnostic, len(d.items))
	copy(out, d.items)
	return out
}

// Len returns the number of recorded diagnostics.
func (d *Diagnostics) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Filter returns the diagnostics of the given kind.
func (d *Diagnostics) Filter(kind Kind) []Diagnostic {
	if d == nil {
		return nil
	}
	var out []Diagnostic
	for _, item := range d.items {
		if item.Kind == kind {
			out = append(out, item)
		}
	}
	return out
}

// Merge appends all diagnostics from other.
func (d *Diagnostics) Merge(other *Diagnostics) {
	if d == nil || other == nil {
		return
	}
	d.items = append(d.items, other.items...)
}

// MergeFor appends all diagnostics from other, attributing those without a
// recipient to recipient.
func (d *Diagnostics) MergeFor(other *Diagnostics, recipient string) {
	if d == nil || other == nil {
		return
	}
	for _, item := range other.items {
		if item.Recipient == "" {
			item.Recipient = recipient
		}
		d.items = append(d.items, item)
	}
}
