package preview

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/shineum/mailmerge-lite/internal/attachment"
	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/email"
)

var (
	// ErrNoRecipients is returned by Regenerate when the batch is empty.
	ErrNoRecipients = errors.New("no recipients")

	// ErrNoPreviews is returned by cursor-relative operations on an empty store.
	ErrNoPreviews = errors.New("no previews generated")
)

// Field names an editable preview field.
type Field string

const (
	FieldFromName  Field = "from_name"
	FieldFromEmail Field = "from_email"
	FieldTo        Field = "to"
	FieldCc        Field = "cc"
	FieldBcc       Field = "bcc"
	FieldSubject   Field = "subject"
	FieldBody      Field = "body"
)

// Fields lists the editable fields in display order.
var Fields = []Field{FieldFromName, FieldFromEmail, FieldTo, FieldCc, FieldBcc, FieldSubject, FieldBody}

// Outcome is the delivery result for one recipient as reported by the send
// service.
type Outcome struct {
	Email     string
	RowNumber int
	Success   bool
	Error     string
}

// Store is the preview state machine. Invariants: the cursor is within range
// whenever previews exist, and every excluded index is a valid preview index.
// A Store is not safe for concurrent use.
type Store struct {
	previews []Preview
	cursor   int
	excluded map[int]struct{}

	batch Batch
	diags *diag.Diagnostics
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{excluded: make(map[int]struct{}), diags: &diag.Diagnostics{}}
}

// Regenerate replaces every preview with a fresh merge of b, moves the cursor
// to the first preview and clears all exclusions. An empty batch leaves the
// store untouched and returns ErrNoRecipients.
func (s *Store) Regenerate(b Batch) error {
	if len(b.Recipients) == 0 {
		return ErrNoRecipients
	}

	d := &diag.Diagnostics{}
	previews := make([]Preview, len(b.Recipients))
	for i, rec := range b.Recipients {
		previews[i] = build(b, i, rec, attachment.Overrides{}, d)
	}

	s.previews = previews
	s.cursor = 0
	s.excluded = make(map[int]struct{})
	s.batch = b
	s.diags = d
	return nil
}

// Clear drops every preview and exclusion.
func (s *Store) Clear() {
	s.previews = nil
	s.cursor = 0
	s.excluded = make(map[int]struct{})
	s.batch = Batch{}
	s.diags = &diag.Diagnostics{}
}

// Len returns the number of previews.
func (s *Store) Len() int {
	return len(s.previews)
}

// Cursor returns the index of the current preview.
func (s *Store) Cursor() int {
	return s.cursor
}

// Previews returns a copy of all previews in recipient order.
func (s *Store) Previews() []Preview {
	return slices.Clone(s.previews)
}

// At returns the preview at index i.
func (s *Store) At(i int) (Preview, bool) {
	if i < 0 || i >= len(s.previews) {
		return Preview{}, false
	}
	return s.previews[i], true
}

// Current returns the preview under the cursor.
func (s *Store) Current() (Preview, error) {
	if len(s.previews) == 0 {
		return Preview{}, ErrNoPreviews
	}
	return s.previews[s.cursor], nil
}

// Batch returns the input of the last regeneration.
func (s *Store) Batch() Batch {
	return s.batch
}

// Diagnostics returns the problems recorded by the last regeneration, reset
// and override operations.
func (s *Store) Diagnostics() []diag.Diagnostic {
	return s.diags.Items()
}

// Navigate moves the cursor by delta and reports whether it moved. A move
// that would leave the range is ignored.
func (s *Store) Navigate(delta int) bool {
	next := s.cursor + delta
	if len(s.previews) == 0 || delta == 0 || next < 0 || next >= len(s.previews) {
		return false
	}
	s.cursor = next
	return true
}

// Edit overwrites a field of the current preview with a literal value.
// Editing the sender name or address recomposes From.
func (s *Store) Edit(field Field, value string) error {
	if len(s.previews) == 0 {
		return ErrNoPreviews
	}
	p := &s.previews[s.cursor]

	switch field {
	case FieldFromName:
		p.FromName = value
	case FieldFromEmail:
		p.FromEmail = value
	case FieldTo:
		p.To = value
	case FieldCc:
		p.Cc = value
	case FieldBcc:
		p.Bcc = value
	case FieldSubject:
		p.Subject = value
	case FieldBody:
		p.Body = value
	default:
		return fmt.Errorf("unknown field %q", field)
	}

	if field == FieldFromName || field == FieldFromEmail {
		p.From = email.ComposeFrom(p.FromName, p.FromEmail)
	}
	return nil
}

// ResetCurrent re-merges the template for the current recipient, discarding
// edits and attachment overrides. It also clears the exclusions of the whole
// batch.
func (s *Store) ResetCurrent() error {
	if len(s.previews) == 0 {
		return ErrNoPreviews
	}
	old := s.previews[s.cursor]

	fresh := build(s.batch, old.Index, old.Recipient, attachment.Overrides{}, s.diags)
	fresh.SendStatus = old.SendStatus
	fresh.SendError = old.SendError

	s.previews[s.cursor] = fresh
	s.excluded = make(map[int]struct{})
	return nil
}

// ToggleExclude flips whether index i is excluded from sending.
func (s *Store) ToggleExclude(i int) error {
	if i < 0 || i >= len(s.previews) {
		return fmt.Errorf("preview %d out of range [0, %d)", i, len(s.previews))
	}
	if _, ok := s.excluded[i]; ok {
		delete(s.excluded, i)
	} else {
		s.excluded[i] = struct{}{}
	}
	return nil
}

// ToggleExcludeCurrent flips the exclusion of the current preview.
func (s *Store) ToggleExcludeCurrent() error {
	if len(s.previews) == 0 {
		return ErrNoPreviews
	}
	return s.ToggleExclude(s.cursor)
}

// IsExcluded reports whether index i is excluded.
func (s *Store) IsExcluded(i int) bool {
	_, ok := s.excluded[i]
	return ok
}

// Excluded returns the excluded indices in ascending order.
func (s *Store) Excluded() []int {
	out := make([]int, 0, len(s.excluded))
	for i := range s.excluded {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// SetExcluded replaces the exclusion set. Indices outside the preview range
// are ignored.
func (s *Store) SetExcluded(indices []int) {
	s.excluded = make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i >= 0 && i < len(s.previews) {
			s.excluded[i] = struct{}{}
		}
	}
}

// Included returns the previews not excluded, in recipient order.
func (s *Store) Included() []Preview {
	out := make([]Preview, 0, len(s.previews)-len(s.excluded))
	for i, p := range s.previews {
		if !s.IsExcluded(i) {
			out = append(out, p)
		}
	}
	return out
}

// AddAttachmentOverride attaches a store entry to the current preview.
func (s *Store) AddAttachmentOverride(filename string) error {
	if len(s.previews) == 0 {
		return ErrNoPreviews
	}
	if s.batch.Catalog == nil {
		return fmt.Errorf("%w: %s", attachment.ErrNotFound, filename)
	}
	e, ok := s.batch.Catalog.Get(filename)
	if !ok {
		return fmt.Errorf("%w: %s", attachment.ErrNotFound, filename)
	}

	p := &s.previews[s.cursor]
	p.Overrides.Removed = slices.DeleteFunc(p.Overrides.Removed, func(name string) bool { return name == filename })
	if !slices.Contains(p.Overrides.Added, filename) {
		p.Overrides.Added = append(p.Overrides.Added, filename)
	}
	if !p.HasAttachment(filename) {
		p.Attachments = append(p.Attachments, e.Ref())
	}
	return nil
}

// RemoveAttachmentOverride detaches filename from the current preview. The
// removal is remembered so that re-resolution at send time keeps it off.
func (s *Store) RemoveAttachmentOverride(filename string) error {
	if len(s.previews) == 0 {
		return ErrNoPreviews
	}
	p := &s.previews[s.cursor]
	if !p.HasAttachment(filename) {
		return fmt.Errorf("%w: %s is not attached", attachment.ErrNotFound, filename)
	}

	p.Attachments = slices.DeleteFunc(p.Attachments, func(ref attachment.Ref) bool { return ref.Filename == filename })
	p.Overrides.Added = slices.DeleteFunc(p.Overrides.Added, func(name string) bool { return name == filename })
	if !slices.Contains(p.Overrides.Removed, filename) {
		p.Overrides.Removed = append(p.Overrides.Removed, filename)
	}
	return nil
}

// Resolve re-runs attachment resolution for p against the current catalog,
// layering p's overrides on top of the batch rules.
func (s *Store) Resolve(p Preview, d *diag.Diagnostics) []attachment.Ref {
	if s.batch.Catalog == nil {
		return nil
	}
	return attachment.NewResolver(s.batch.Catalog, s.batch.Rules()).Resolve(p.Recipient, p.Overrides, d)
}

// Reconcile records delivery outcomes on the matching previews and returns
// how many were matched. A result is matched by To address first, then by
// recipient row number; each preview is claimed at most once. Excluded
// previews were not sent and are never matched. Unmatched results are
// dropped.
func (s *Store) Reconcile(outcomes []Outcome) int {
	claimed := make(map[int]bool)
	matched := 0

	for _, o := range outcomes {
		i := s.match(o, claimed)
		if i < 0 {
			continue
		}
		claimed[i] = true
		matched++

		p := &s.previews[i]
		if o.Success {
			p.SendStatus = StatusSent
			p.SendError = ""
		} else {
			p.SendStatus = StatusFailed
			p.SendError = o.Error
		}
	}
	return matched
}

func (s *Store) match(o Outcome, claimed map[int]bool) int {
	available := func(i int) bool {
		return !claimed[i] && !s.IsExcluded(i)
	}
	if o.Email != "" {
		for i, p := range s.previews {
			if available(i) && p.To == o.Email {
				return i
			}
		}
	}
	if o.RowNumber > 0 {
		for i, p := range s.previews {
			if available(i) && p.Recipient.RowNumber == o.RowNumber {
				return i
			}
		}
	}
	return -1
}
