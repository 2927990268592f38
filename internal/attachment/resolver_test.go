package attachment

import (
	"reflect"
	"testing"

	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

// fakeCatalog is an in-memory Catalog independent of Store.
type fakeCatalog []Entry

func (f fakeCatalog) Get(name string) (Entry, bool) {
	for _, e := range f {
		if e.Filename == name {
			return e, true
		}
	}
	return Entry{}, false
}

func (f fakeCatalog) Entries() []Entry { return f }

func TestLookup_RankedStrategies(t *testing.T) {
	t.Parallel()

	cat := fakeCatalog{
		{Filename: "report_2024_ann.pdf"},
		{Filename: "ann.pdf"},
		{Filename: "bob"},
	}

	tests := []struct {
		name      string
		candidate string
		want      string
		found     bool
	}{
		{"exact beats earlier substring", "ann.pdf", "ann.pdf", true},
		{"store key contains candidate", "2024", "report_2024_ann.pdf", true},
		{"candidate contains store key", "bob_contract.docx", "bob", true},
		{"first match in catalog order", "ann", "report_2024_ann.pdf", true},
		{"no match", "zzz", "", false},
		{"empty candidate", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, ok := Lookup(cat, tt.candidate)
			if ok != tt.found {
				t.Fatalf("found: got %v, want %v", ok, tt.found)
			}
			if e.Filename != tt.want {
				t.Errorf("Filename: got %q, want %q", e.Filename, tt.want)
			}
		})
	}
}

func TestLookup_ExactOnly(t *testing.T) {
	t.Parallel()

	cat := fakeCatalog{{Filename: "ann.pdf"}}
	if _, ok := Lookup(cat, "ann", Exact); ok {
		t.Error("Exact-only lookup must not fall back to substring")
	}
}

func newTestStore() *Store {
	s := NewStore()
	s.Add("terms.pdf", "application/pdf", []byte("terms"))
	s.Add("invoice_1.pdf", "application/pdf", []byte("inv1"))
	s.Add("invoice_2.pdf", "application/pdf", []byte("inv2"))
	s.Add("logo.png", "image/png", []byte("logo"))
	return s
}

func filenames(refs []Ref) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.Filename)
	}
	return out
}

func rec(id string) recipient.Record {
	return recipient.NewRecord([]string{"email", "id", "files"}, []string{"a@x.com", id, "logo.png; terms.pdf"}, 2)
}

func TestResolve_SourceOrderAndDedup(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(), Rules{
		Consistent:   []string{"terms.pdf"},
		VariableExpr: "invoice_{{id}}.pdf;{{files}}",
	})

	var d diag.Diagnostics
	refs := r.Resolve(rec("2"), Overrides{Added: []string{"invoice_1.pdf", "logo.png"}}, &d)

	want := []string{"terms.pdf", "invoice_2.pdf", "logo.png", "invoice_1.pdf"}
	if got := filenames(refs); !reflect.DeepEqual(got, want) {
		t.Errorf("filenames: got %v, want %v", got, want)
	}
	if d.Len() != 0 {
		t.Errorf("diagnostics: got %v, want none", d.Items())
	}
	if refs[1].Payload == "" || refs[1].MimeType != "application/pdf" || refs[1].Size != 4 {
		t.Errorf("invoice ref: got %+v", refs[1])
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(), Rules{
		Consistent:   []string{"logo.png"},
		VariableExpr: "invoice_{{id}}",
	})

	first := r.Resolve(rec("1"), Overrides{}, nil)
	second := r.Resolve(rec("1"), Overrides{}, nil)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolution not idempotent: %v vs %v", first, second)
	}
}

func TestResolve_CustomDelimiterAndSubstringFallback(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(), Rules{
		VariableExpr: " invoice_{{id}} | logo ",
		Delimiter:    "|",
	})

	refs := r.Resolve(rec("1"), Overrides{}, nil)
	want := []string{"invoice_1.pdf", "logo.png"}
	if got := filenames(refs); !reflect.DeepEqual(got, want) {
		t.Errorf("filenames: got %v, want %v", got, want)
	}
}

func TestResolve_MissingEntriesRecordedAsOmissions(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	s.Upsert(Entry{Filename: "empty.pdf", MimeType: "application/pdf"})

	r := NewResolver(s, Rules{
		Consistent:   []string{"gone.pdf", "empty.pdf"},
		VariableExpr: "nothing-like-this.xyz",
	})

	var d diag.Diagnostics
	refs := r.Resolve(rec("1"), Overrides{Added: []string{"deleted.pdf"}}, &d)
	if len(refs) != 0 {
		t.Errorf("refs: got %v, want none", filenames(refs))
	}

	omissions := d.Filter(diag.KindAttachmentOmission)
	var subjects []string
	for _, o := range omissions {
		subjects = append(subjects, o.Subject)
	}
	want := []string{"gone.pdf", "nothing-like-this.xyz", "deleted.pdf", "empty.pdf"}
	if !reflect.DeepEqual(subjects, want) {
		t.Errorf("omissions: got %v, want %v", subjects, want)
	}
}

func TestResolve_RemovedOverride(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(), Rules{Consistent: []string{"terms.pdf", "logo.png"}})
	refs := r.Resolve(rec("1"), Overrides{Removed: []string{"terms.pdf"}}, nil)

	if got := filenames(refs); !reflect.DeepEqual(got, []string{"logo.png"}) {
		t.Errorf("filenames: got %v", got)
	}
}

func TestResolve_DeletedStoreEntryDoesNotBreakSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestStore()
	r := NewResolver(s, Rules{Consistent: []string{"terms.pdf"}})
	refs := r.Resolve(rec("1"), Overrides{}, nil)

	s.Delete("terms.pdf")
	if refs[0].Payload == "" {
		t.Error("snapshot lost its payload after store deletion")
	}

	if again := r.Resolve(rec("1"), Overrides{}, nil); len(again) != 0 {
		t.Errorf("re-resolution after delete: got %v, want none", filenames(again))
	}
}

func TestResolve_LegacyBodyMarkers(t *testing.T) {
	t.Parallel()

	r := NewResolver(newTestStore(), Rules{
		Consistent:   []string{"terms.pdf"},
		BodyTemplate: "See {{attachment:invoice_{{id}}.pdf}} and {{attachment:terms.pdf}}",
	})

	refs := r.Resolve(rec("2"), Overrides{}, nil)
	want := []string{"terms.pdf", "invoice_2.pdf"}
	if got := filenames(refs); !reflect.DeepEqual(got, want) {
		t.Errorf("filenames: got %v, want %v", got, want)
	}
}
