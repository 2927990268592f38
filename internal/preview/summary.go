package preview

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

const (
	// NothingSelected is the range summary when every preview is excluded.
	NothingSelected = "No messages selected"
	// NothingToSend is the range summary when no previews exist.
	NothingToSend = "No messages to send"
)

// RangeSummary describes the included previews as 1-based ranges, e.g.
// "1-3, 5, 7-8".
func (s *Store) RangeSummary() string {
	if len(s.previews) == 0 {
		return NothingToSend
	}

	var (
		parts []string
		start = -1
	)
	flush := func(end int) {
		if start == end {
			parts = append(parts, fmt.Sprintf("%d", start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
		start = -1
	}

	for i := range s.previews {
		n := i + 1
		if s.IsExcluded(i) {
			if start > 0 {
				flush(n - 1)
			}
			continue
		}
		if start < 0 {
			start = n
		}
	}
	if start > 0 {
		flush(len(s.previews))
	}

	if len(parts) == 0 {
		return NothingSelected
	}
	return strings.Join(parts, ", ")
}

// Counter renders the status line for the current preview, e.g.
// "Email 2 of 5 - Sent".
func (s *Store) Counter() string {
	if len(s.previews) == 0 {
		return NothingToSend
	}
	p := s.previews[s.cursor]
	line := fmt.Sprintf("Email %d of %d", s.cursor+1, len(s.previews))
	switch p.SendStatus {
	case StatusSent:
		line += " - Sent"
	case StatusFailed:
		line += " - Failed"
	}
	return line
}

// PickerOption is an attachment that can be added to the current preview.
type PickerOption struct {
	Filename string
	MimeType string
	Size     string
}

func (o PickerOption) String() string {
	return fmt.Sprintf("%s (%s)", o.Filename, o.Size)
}

// PickerOptions lists the catalog entries not yet attached to the current
// preview, in catalog order.
func (s *Store) PickerOptions() []PickerOption {
	if len(s.previews) == 0 || s.batch.Catalog == nil {
		return nil
	}
	p := s.previews[s.cursor]

	var out []PickerOption
	for _, e := range s.batch.Catalog.Entries() {
		if p.HasAttachment(e.Filename) {
			continue
		}
		out = append(out, PickerOption{
			Filename: e.Filename,
			MimeType: e.MimeType,
			Size:     humanize.IBytes(uint64(e.Size)),
		})
	}
	return out
}
