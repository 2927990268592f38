package attachment

import (
	"slices"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/merge"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

// DefaultDelimiter separates filenames in a merged variable expression.
const DefaultDelimiter = ";"

// Rules describes which attachments go to every email of a batch.
type Rules struct {
	// Consistent lists filenames attached identically to every recipient.
	Consistent []string `yaml:"consistent"`

	// VariableExpr is merged per recipient and split on Delimiter into
	// candidate filenames.
	VariableExpr string `yaml:"variable_expr"`
	Delimiter    string `yaml:"delimiter"`

	// BodyTemplate is scanned for {{attachment:<template>}} markers.
	BodyTemplate string `yaml:"-"`
}

// Overrides are the manual per-email changes made on top of the automatic
// resolution.
type Overrides struct {
	Added   []string `yaml:"added,omitempty"`
	Removed []string `yaml:"removed,omitempty"`
}

// Empty reports whether no manual change was made.
func (o Overrides) Empty() bool {
	return len(o.Added) == 0 && len(o.Removed) == 0
}

// Resolver combines a catalog with batch rules.
type Resolver struct {
	cat   Catalog
	rules Rules
}

// NewResolver creates a Resolver over cat.
func NewResolver(cat Catalog, rules Rules) *Resolver {
	return &Resolver{cat: cat, rules: rules}
}

// Resolve returns the attachments for one recipient in source order:
// consistent, then variable, then overrides. A filename appears once, at its
// first occurrence. Filenames in ov.Removed are left out. Entries that are
// missing or have no payload are dropped and recorded in d.
func (r *Resolver) Resolve(rec recipient.Record, ov Overrides, d *diag.Diagnostics) []Ref {
	var (
		refs []Ref
		seen = make(map[string]bool)
	)
	add := func(e Entry) {
		if seen[e.Filename] {
			return
		}
		seen[e.Filename] = true
		refs = append(refs, e.Ref())
	}

	for _, name := range r.rules.Consistent {
		e, ok := r.cat.Get(name)
		if !ok {
			d.Add(diag.KindAttachmentOmission, name, "selected attachment not found")
			continue
		}
		add(e)
	}

	for _, candidate := range r.variableCandidates(rec, d) {
		e, ok := Lookup(r.cat, candidate)
		if !ok {
			d.Add(diag.KindAttachmentOmission, candidate, "variable attachment not found")
			continue
		}
		add(e)
	}

	for _, name := range ov.Added {
		e, ok := r.cat.Get(name)
		if !ok {
			d.Add(diag.KindAttachmentOmission, name, "added attachment no longer exists")
			continue
		}
		add(e)
	}

	valid := make([]Ref, 0, len(refs))
	for _, ref := range refs {
		if slices.Contains(ov.Removed, ref.Filename) {
			continue
		}
		if ref.Filename == "" || ref.Payload == "" {
			d.Add(diag.KindAttachmentOmission, ref.Filename, "attachment has no data")
			continue
		}
		valid = append(valid, ref)
	}
	return valid
}

// variableCandidates merges the variable expression and splits it into
// trimmed, non-empty filenames, followed by any legacy body markers.
func (r *Resolver) variableCandidates(rec recipient.Record, d *diag.Diagnostics) []string {
	var candidates []string

	if r.rules.VariableExpr != "" {
		delim := r.rules.Delimiter
		if delim == "" {
			delim = DefaultDelimiter
		}
		merged := merge.MergeDiag(r.rules.VariableExpr, rec, d)
		for _, part := range strings.Split(merged, delim) {
			if name := strings.TrimSpace(part); name != "" {
				candidates = append(candidates, name)
			}
		}
	}

	if r.rules.BodyTemplate != "" {
		candidates = append(candidates, merge.AttachmentRefs(r.rules.BodyTemplate, rec, d)...)
	}

	return candidates
}
