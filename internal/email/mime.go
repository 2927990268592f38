package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewMessageID returns a unique Message-ID for the given sender address.
func NewMessageID(from string) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(from, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// BuildMIME renders msg as an RFC 5322 message. Bcc recipients are not
// written to the headers. When both bodies are set they are sent as
// multipart/alternative; attachments wrap the body in multipart/mixed.
func BuildMIME(msg *Email) ([]byte, error) {
	var buf bytes.Buffer

	// Write headers
	fmt.Fprintf(&buf, "From: %s\r\n", msg.FromHeader())
	if len(msg.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(msg.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	if msg.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", msg.MessageID)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	if len(msg.Attachments) == 0 {
		if err := writeBody(&buf, msg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	writer := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", writer.Boundary())

	bodyHeader, bodyContent, err := renderBody(msg)
	if err != nil {
		return nil, err
	}
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	part.Write(bodyContent)

	// Write attachments
	for _, att := range msg.Attachments {
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", contentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", mime.QEncoding.Encode("UTF-8", att.Filename)))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		part.Write([]byte(EncodeBase64Lines(att.Content)))
	}

	writer.Close()
	return buf.Bytes(), nil
}

// writeBody writes the body headers and content directly after the message
// headers.
func writeBody(buf *bytes.Buffer, msg *Email) error {
	header, content, err := renderBody(msg)
	if err != nil {
		return err
	}
	for key, values := range header {
		for _, v := range values {
			fmt.Fprintf(buf, "%s: %s\r\n", key, v)
		}
	}
	buf.WriteString("\r\n")
	buf.Write(content)
	return nil
}

// renderBody returns the headers and content of the body entity.
func renderBody(msg *Email) (textproto.MIMEHeader, []byte, error) {
	header := make(textproto.MIMEHeader)

	switch {
	case msg.HtmlBody != "" && msg.TextBody != "":
		var body bytes.Buffer
		alt := multipart.NewWriter(&body)
		header.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", alt.Boundary()))

		for _, p := range []struct{ contentType, content string }{
			{"text/plain; charset=UTF-8", msg.TextBody},
			{"text/html; charset=UTF-8", msg.HtmlBody},
		} {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Type", p.contentType)
			part, err := alt.CreatePart(h)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to create alternative part: %w", err)
			}
			part.Write([]byte(p.content))
		}
		alt.Close()
		return header, body.Bytes(), nil

	case msg.HtmlBody != "":
		header.Set("Content-Type", "text/html; charset=UTF-8")
		return header, []byte(msg.HtmlBody), nil

	default:
		header.Set("Content-Type", "text/plain; charset=UTF-8")
		return header, []byte(msg.TextBody), nil
	}
}

// EncodeBase64Lines encodes bytes to base64 with 76-character line breaks per RFC 2045.
func EncodeBase64Lines(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}
