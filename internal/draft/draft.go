// Package draft reads a saved email message (.eml) as a merge template, so a
// template can be composed in a regular mail client.
package draft

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/preview"
)

// Draft is a parsed message. Address headers are kept as written so that
// placeholders such as {{email}} survive.
type Draft struct {
	FromName  string
	FromEmail string
	To        string
	Cc        string
	Bcc       string
	Subject   string
	TextBody  string
	HtmlBody  string

	Attachments []email.Attachment
}

// Template converts the draft into template fields. The HTML body wins over
// the text body.
func (d *Draft) Template() preview.Template {
	body := d.HtmlBody
	if body == "" {
		body = d.TextBody
	}
	return preview.Template{
		FromName:  d.FromName,
		FromEmail: d.FromEmail,
		To:        d.To,
		Cc:        d.Cc,
		Bcc:       d.Bcc,
		Subject:   d.Subject,
		Body:      body,
	}
}

var decoder = &mime.WordDecoder{}

// Parse reads a raw RFC 5322 message.
func Parse(raw []byte) (*Draft, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	d := &Draft{
		To:      header(msg.Header, "To"),
		Cc:      header(msg.Header, "Cc"),
		Bcc:     header(msg.Header, "Bcc"),
		Subject: header(msg.Header, "Subject"),
	}
	d.FromName, d.FromEmail = email.SplitFrom(header(msg.Header, "From"))

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("multipart message missing boundary")
		}
		if err := d.readMultipart(msg.Body, boundary); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return d, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if mediaType == "text/html" {
		d.HtmlBody = string(body)
	} else {
		d.TextBody = string(body)
	}
	return d, nil
}

// header returns a header with encoded words decoded.
func header(h mail.Header, key string) string {
	v := strings.TrimSpace(h.Get(key))
	if decoded, err := decoder.DecodeHeader(v); err == nil {
		return decoded
	}
	return v
}

// readMultipart walks the parts, keeping the first text and HTML bodies and
// collecting everything with a filename as an attachment.
func (d *Draft) readMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextRawPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := d.readMultipart(part, params["boundary"]); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		filename := partFilename(part, params)
		disposition := part.Header.Get("Content-Disposition")
		switch {
		case strings.HasPrefix(disposition, "attachment") || (filename != "" && !isText(mediaType)):
			if filename == "" {
				filename = "attachment"
			}
			d.Attachments = append(d.Attachments, email.Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
		case mediaType == "text/plain":
			if d.TextBody == "" {
				d.TextBody = string(content)
			}
		case mediaType == "text/html":
			if d.HtmlBody == "" {
				d.HtmlBody = string(content)
			}
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
				"disposition", disposition,
			)
		}
	}
}

func isText(mediaType string) bool {
	return mediaType == "text/plain" || mediaType == "text/html"
}

// decodeBody reads r, undoing the transfer encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// partFilename checks Content-Disposition, then the Content-Type name
// parameter.
func partFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		if decoded, err := decoder.DecodeHeader(name); err == nil {
			return decoded
		}
		return name
	}
	return ""
}
