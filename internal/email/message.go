// Package email defines the delivery model shared by the send service and
// its providers.
package email

import (
	"net/mail"
)

// Email represents one outgoing message after merging.
type Email struct {
	// From is the bare sender address; FromName is the optional display name.
	From     string
	FromName string

	To  []string
	Cc  []string
	Bcc []string

	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// FromHeader renders the sender as an RFC 5322 address, including the
// display name when set.
func (e *Email) FromHeader() string {
	if e.FromName == "" {
		return e.From
	}
	return (&mail.Address{Name: e.FromName, Address: e.From}).String()
}

// Recipients returns every envelope recipient: To, then Cc, then Bcc.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	out = append(out, e.Bcc...)
	return out
}
