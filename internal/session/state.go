package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/preview"
	"github.com/shineum/mailmerge-lite/internal/send"
)

// State is the persisted form of a Session.
type State struct {
	Template    preview.Template   `yaml:"template"`
	CSV         string             `yaml:"csv,omitempty"`
	SMTP        send.SMTPSettings  `yaml:"smtp"`
	Attachments []attachment.Entry `yaml:"attachments,omitempty"`
	Consistent  []string           `yaml:"consistent,omitempty"`
	Excluded    []int              `yaml:"excluded,omitempty"`
	Cursor      int                `yaml:"cursor,omitempty"`
	Previews    []PreviewState     `yaml:"previews,omitempty"`
}

// PreviewState is the user work on one preview that a regeneration cannot
// reproduce.
type PreviewState struct {
	Index     int                      `yaml:"index"`
	Fields    map[preview.Field]string `yaml:"fields,omitempty"`
	Overrides attachment.Overrides     `yaml:"overrides,omitempty"`
	Status    preview.Status           `yaml:"status,omitempty"`
	Error     string                   `yaml:"error,omitempty"`
}

func (p PreviewState) empty() bool {
	return len(p.Fields) == 0 && p.Overrides.Empty() &&
		(p.Status == "" || p.Status == preview.StatusPending)
}

// State captures the session.
func (s *Session) State() State {
	st := State{
		Template:    s.Template,
		CSV:         s.CSV,
		SMTP:        s.SMTP,
		Attachments: s.Attachments.Entries(),
		Consistent:  s.Consistent,
		Excluded:    s.Previews.Excluded(),
		Cursor:      s.Previews.Cursor(),
	}
	for _, p := range s.Previews.Previews() {
		ps := PreviewState{
			Index:     p.Index,
			Fields:    s.edits[p.Index],
			Overrides: p.Overrides,
			Status:    p.SendStatus,
			Error:     p.SendError,
		}
		if !ps.empty() {
			st.Previews = append(st.Previews, ps)
		}
	}
	return st
}

// FromState rebuilds a Session. Previews are regenerated and the saved
// edits, overrides, outcomes, exclusions and cursor are replayed on top. When
// the previews cannot be rebuilt the session is returned without them.
func FromState(st State, defaults Defaults) *Session {
	s := New(defaults)
	s.Template = st.Template
	s.CSV = st.CSV
	s.SMTP = st.SMTP
	s.applyDefaults()
	for _, e := range st.Attachments {
		s.Attachments.Upsert(e)
	}
	s.Consistent = st.Consistent

	if err := s.restorePreviews(st); err != nil {
		slog.Warn("previews not restored", "error", err)
	}
	return s
}

// restorePreviews regenerates and replays the per-preview work of st. Saved
// work that no longer applies, such as an override for a deleted file, is
// dropped with a warning.
func (s *Session) restorePreviews(st State) error {
	if err := s.Regenerate(); err != nil {
		return err
	}
	if s.Previews.Len() == 0 {
		return nil
	}

	var outcomes []preview.Outcome
	for _, ps := range st.Previews {
		p, ok := s.Previews.At(ps.Index)
		if !ok {
			slog.Warn("dropping saved preview state", "index", ps.Index)
			continue
		}
		s.moveTo(ps.Index)

		for _, field := range preview.Fields {
			if value, ok := ps.Fields[field]; ok {
				if err := s.Edit(field, value); err != nil {
					return err
				}
			}
		}
		for _, name := range ps.Overrides.Added {
			if err := s.Previews.AddAttachmentOverride(name); err != nil {
				slog.Warn("dropping saved attachment override", "index", ps.Index, "error", err)
			}
		}
		for _, name := range ps.Overrides.Removed {
			if err := s.Previews.RemoveAttachmentOverride(name); err != nil {
				slog.Debug("saved removal no longer applies", "index", ps.Index, "filename", name)
			}
		}

		switch ps.Status {
		case preview.StatusSent, preview.StatusFailed:
			outcomes = append(outcomes, preview.Outcome{
				RowNumber: p.Recipient.RowNumber,
				Success:   ps.Status == preview.StatusSent,
				Error:     ps.Error,
			})
		}
	}
	if len(outcomes) > 0 {
		s.Previews.Reconcile(outcomes)
	}

	s.Previews.SetExcluded(st.Excluded)
	s.moveTo(st.Cursor)
	return nil
}

// moveTo puts the cursor on preview i when it exists.
func (s *Session) moveTo(i int) {
	s.Previews.Navigate(i - s.Previews.Cursor())
}

// Load reads a session file. A missing file yields an empty session.
func Load(path string, defaults Defaults) (*Session, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("no session file, starting empty", "path", path)
		return New(defaults), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return FromState(st, defaults), nil
}

// Save writes the session to path. The file holds the account password and
// is created with owner-only permissions.
func (s *Session) Save(path string) error {
	data, err := yaml.Marshal(s.State())
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".session-*")
	if err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}
