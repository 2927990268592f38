package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// deliver sends the emails of payload one by one. A failing email is
// recorded and the batch continues.
func (s *Server) deliver(ctx context.Context, prov provider.Provider, payload *send.Payload) []send.Result {
	rows := newRowIndex(payload.CSVData)
	results := make([]send.Result, 0, len(payload.Emails))

	for i, oe := range payload.Emails {
		res := send.Result{Email: oe.To, RowNumber: rows.rowNumber(oe, i)}

		if err := s.wait(ctx); err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}

		start := time.Now()
		err := s.deliverOne(ctx, prov, oe)
		s.metrics.RecordEmail(prov.Name(), err == nil, time.Since(start))
		if err != nil {
			slog.Warn("email delivery failed",
				"to", oe.To,
				"row", res.RowNumber,
				"error", err,
			)
			res.Error = err.Error()
		} else {
			res.Success = true
		}
		results = append(results, res)
	}
	return results
}

func (s *Server) wait(ctx context.Context) error {
	if s.limiter == nil {
		return ctx.Err()
	}
	start := time.Now()
	err := s.limiter.Wait(ctx)
	s.metrics.RecordRateLimitWait(time.Since(start))
	return err
}

func (s *Server) deliverOne(ctx context.Context, prov provider.Provider, oe send.OutboundEmail) error {
	msg, err := s.buildEmail(oe)
	if err != nil {
		return err
	}
	return prov.Send(ctx, msg)
}

// buildEmail converts an outbound email into the delivery model, checking
// every address and decoding attachments.
func (s *Server) buildEmail(oe send.OutboundEmail) (*email.Email, error) {
	if err := send.Validate(s.validate, oe, "invalid email"); err != nil {
		return nil, err
	}

	name, from := email.SplitFrom(oe.From)
	if !email.IsValidAddress(from) {
		return nil, fmt.Errorf("invalid from address %q", oe.From)
	}

	to := email.ParseAddressList(oe.To)
	if len(to) == 0 {
		return nil, errors.New("no recipient address")
	}
	cc := email.ParseAddressList(oe.Cc)
	bcc := email.ParseAddressList(oe.Bcc)
	for _, list := range [][]string{to, cc, bcc} {
		for _, addr := range list {
			if !email.IsValidAddress(addr) {
				return nil, fmt.Errorf("invalid recipient address %q", addr)
			}
		}
	}

	msg := &email.Email{
		From:      from,
		FromName:  name,
		To:        to,
		Cc:        cc,
		Bcc:       bcc,
		Subject:   oe.Subject,
		MessageID: email.NewMessageID(from),
	}
	if email.LooksLikeHTML(oe.Body) {
		msg.HtmlBody = oe.Body
		msg.TextBody = email.PlainText(oe.Body)
	} else {
		msg.TextBody = oe.Body
	}

	for _, a := range oe.Attachments {
		content, dataType, err := decodeData(a.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
		contentType := a.Type
		if contentType == "" {
			contentType = dataType
		}
		if contentType == "" {
			contentType = attachment.DetectType(a.Filename, content)
		}
		s.metrics.RecordAttachment(len(content))
		msg.Attachments = append(msg.Attachments, email.Attachment{
			Filename:    a.Filename,
			ContentType: contentType,
			Content:     content,
		})
	}
	return msg, nil
}

// decodeData decodes either a data URL (data:<type>;base64,<payload>) or raw
// base64. The returned type is the data URL's media type, if any.
func decodeData(data string) (content []byte, mediaType string, err error) {
	payload := data
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found {
			return nil, "", errors.New("malformed data URL")
		}
		if !strings.HasSuffix(header, ";base64") {
			return nil, "", errors.New("data URL is not base64 encoded")
		}
		mediaType = strings.TrimSuffix(header, ";base64")
		payload = body
	}

	content, err = base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, "", fmt.Errorf("invalid base64 data: %w", err)
	}
	return content, mediaType, nil
}

// rowIndex maps recipient addresses to the CSV lines they appear on.
type rowIndex map[string][]int

func newRowIndex(csvData string) rowIndex {
	idx := rowIndex{}
	if strings.TrimSpace(csvData) == "" {
		return idx
	}
	records, err := recipient.Parse(csvData)
	if err != nil {
		slog.Debug("csvData not usable for row numbers", "error", err)
		return idx
	}
	for _, rec := range records {
		addr := normalizeAddress(emailColumn(rec))
		if addr != "" {
			idx[addr] = append(idx[addr], rec.RowNumber)
		}
	}
	return idx
}

// rowNumber returns the source line of the i-th email of a batch: the row
// number the client sent, else the line of its address in the CSV, else the
// line the email would have with the header on line 1 and no dropped rows.
func (idx rowIndex) rowNumber(oe send.OutboundEmail, i int) int {
	if oe.RowNumber > 0 {
		return oe.RowNumber
	}
	return idx.claim(oe.To, i+2)
}

// claim returns the next unclaimed line for to, or fallback when the address
// is not in the CSV.
func (idx rowIndex) claim(to string, fallback int) int {
	keys := []string{normalizeAddress(to)}
	if list := email.ParseAddressList(to); len(list) > 0 {
		keys = append(keys, normalizeAddress(list[0]))
	}
	for _, key := range keys {
		if rows := idx[key]; len(rows) > 0 {
			idx[key] = rows[1:]
			return rows[0]
		}
	}
	return fallback
}

func emailColumn(rec recipient.Record) string {
	for _, key := range rec.Keys() {
		if strings.EqualFold(strings.TrimSpace(key), "email") {
			return rec.Value(key)
		}
	}
	return ""
}

func normalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
