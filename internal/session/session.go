// Package session is the mail merge working context: template, recipients,
// attachment pool, account settings and the preview store built from them.
// A Session persists to a single YAML document between CLI invocations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"dario.cat/mergo"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/draft"
	"github.com/shineum/mailmerge-lite/internal/preview"
	"github.com/shineum/mailmerge-lite/internal/recipient"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// Defaults fill template and account fields the user left empty.
type Defaults struct {
	Template preview.Template
	SMTP     send.SMTPSettings
}

// Session holds the state of one merge job. It is not safe for concurrent
// use.
type Session struct {
	Template    preview.Template
	CSV         string
	SMTP        send.SMTPSettings
	Consistent  []string
	Attachments *attachment.Store
	Previews    *preview.Store

	defaults Defaults
	// edits records literal field edits per preview index so they survive
	// a save and load.
	edits map[int]map[preview.Field]string
}

// New creates an empty Session with defaults applied.
func New(defaults Defaults) *Session {
	s := &Session{
		Attachments: attachment.NewStore(),
		Previews:    preview.NewStore(),
		defaults:    defaults,
		edits:       make(map[int]map[preview.Field]string),
	}
	s.applyDefaults()
	return s
}

func (s *Session) applyDefaults() {
	if err := mergo.Merge(&s.Template, s.defaults.Template); err != nil {
		slog.Warn("failed to apply template defaults", "error", err)
	}
	if err := mergo.Merge(&s.SMTP, s.defaults.SMTP); err != nil {
		slog.Warn("failed to apply account defaults", "error", err)
	}
}

// SetCSV replaces the recipient data and regenerates previews.
func (s *Session) SetCSV(text string) error {
	s.CSV = text
	return s.Regenerate()
}

// ImportPasted converts tab, semicolon or comma separated text into CSV and
// regenerates previews.
func (s *Session) ImportPasted(text string) error {
	csv := recipient.FromPasted(text)
	if csv == "" {
		return recipient.ErrNoRows
	}
	return s.SetCSV(csv)
}

// SetTemplate replaces the template fields and regenerates previews.
func (s *Session) SetTemplate(t preview.Template) error {
	s.Template = t
	return s.Regenerate()
}

// ImportDraft replaces the composition fields with those of d and adds its
// attachments to the pool, optionally attaching them to every email. The
// variable attachment settings are kept.
func (s *Session) ImportDraft(d *draft.Draft, consistent bool) error {
	t := d.Template()
	t.VariableAttachments = s.Template.VariableAttachments
	t.AttachmentDelimiter = s.Template.AttachmentDelimiter
	s.Template = t
	s.applyDefaults()

	for _, a := range d.Attachments {
		e := s.Attachments.Add(a.Filename, a.ContentType, a.Content)
		if consistent && !slices.Contains(s.Consistent, e.Filename) {
			s.Consistent = append(s.Consistent, e.Filename)
		}
	}
	return s.Regenerate()
}

// SetConsistent replaces the attachments sent with every email. Unknown
// filenames are rejected.
func (s *Session) SetConsistent(filenames []string) error {
	for _, name := range filenames {
		if _, ok := s.Attachments.Get(name); !ok {
			return fmt.Errorf("%w: %s", attachment.ErrNotFound, name)
		}
	}
	s.Consistent = slices.Clone(filenames)
	return s.Regenerate()
}

// SetAccount replaces the account settings. Previews are rebuilt since the
// account user is the sender fallback; per-preview work is kept.
func (s *Session) SetAccount(settings send.SMTPSettings) error {
	s.SMTP = settings
	return s.refresh()
}

// Recipients parses the current CSV.
func (s *Session) Recipients() ([]recipient.Record, error) {
	return recipient.Parse(s.CSV)
}

// Regenerate rebuilds every preview from the template, the recipients and
// the attachment pool. Edits, overrides and exclusions are discarded.
func (s *Session) Regenerate() error {
	if strings.TrimSpace(s.CSV) == "" {
		s.Previews.Clear()
		s.edits = make(map[int]map[preview.Field]string)
		return nil
	}
	recs, err := s.Recipients()
	if err != nil {
		return fmt.Errorf("failed to parse recipients: %w", err)
	}
	if err := s.Previews.Regenerate(s.batch(recs)); err != nil {
		return err
	}
	s.edits = make(map[int]map[preview.Field]string)

	for _, d := range s.Previews.Diagnostics() {
		slog.Warn("preview problem", "kind", d.Kind, "subject", d.Subject, "message", d.Message)
	}
	return nil
}

func (s *Session) batch(recs []recipient.Record) preview.Batch {
	return preview.Batch{
		Recipients:     recs,
		Template:       s.Template,
		Consistent:     s.Consistent,
		SenderFallback: s.SMTP.User,
		Catalog:        s.Attachments,
	}
}

// Edit overwrites a field of the current preview.
func (s *Session) Edit(field preview.Field, value string) error {
	if err := s.Previews.Edit(field, value); err != nil {
		return err
	}
	i := s.Previews.Cursor()
	if s.edits[i] == nil {
		s.edits[i] = make(map[preview.Field]string)
	}
	s.edits[i][field] = value
	return nil
}

// ResetCurrent discards the edits of the current preview.
func (s *Session) ResetCurrent() error {
	if err := s.Previews.ResetCurrent(); err != nil {
		return err
	}
	delete(s.edits, s.Previews.Cursor())
	return nil
}

// Upload adds files to the attachment pool. Files that cannot be added are
// reported in the returned error while the rest are kept.
func (s *Session) Upload(paths ...string) ([]attachment.Entry, error) {
	entries, err := s.Attachments.UploadFiles(paths)
	if len(entries) > 0 {
		if rerr := s.refresh(); rerr != nil {
			return entries, errors.Join(err, rerr)
		}
	}
	return entries, err
}

// RemoveAttachment deletes a file from the pool and from the consistent
// selection.
func (s *Session) RemoveAttachment(filename string) error {
	if !s.Attachments.Delete(filename) {
		return fmt.Errorf("%w: %s", attachment.ErrNotFound, filename)
	}
	s.Consistent = slices.DeleteFunc(s.Consistent, func(name string) bool { return name == filename })
	return s.refresh()
}

// refresh regenerates previews after a pool or account change while keeping
// the per-preview work.
func (s *Session) refresh() error {
	st := s.State()
	return s.restorePreviews(st)
}

// ClearTemplate resets the template, recipients, exclusions and previews.
func (s *Session) ClearTemplate() {
	s.Template = preview.Template{}
	s.CSV = ""
	s.applyDefaults()
	s.Previews.Clear()
	s.edits = make(map[int]map[preview.Field]string)
}

// ClearAccount restores the default account settings.
func (s *Session) ClearAccount() {
	s.SMTP = send.SMTPSettings{}
	s.applyDefaults()
}

// ClearAttachments empties the pool and the consistent selection.
func (s *Session) ClearAttachments() error {
	s.Attachments.Clear()
	s.Consistent = nil
	return s.Regenerate()
}

// Send dispatches the included previews through o.
func (s *Session) Send(ctx context.Context, o *send.Orchestrator) (*send.Report, error) {
	return o.Send(ctx, send.Request{
		Previews:    s.Previews,
		SMTP:        s.SMTP,
		Attachments: s.Attachments,
		CSVData:     s.CSV,
	})
}
