package merge

import (
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

func record(pairs ...string) recipient.Record {
	var keys, values []string
	for i := 0; i+1 < len(pairs); i += 2 {
		keys = append(keys, pairs[i])
		values = append(values, pairs[i+1])
	}
	return recipient.NewRecord(keys, values, 2)
}

func TestMerge(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		rec      recipient.Record
		want     string
	}{
		{"simple", "Hi {{name}}!", record("name", "Ann"), "Hi Ann!"},
		{"empty value removes placeholder", "Hi {{name}}!", record("name", ""), "Hi !"},
		{"absent key left verbatim", "Hi {{name}}!", record(), "Hi {{name}}!"},
		{"whitespace inside braces", "Hi {{  name }}!", record("name", "Ann"), "Hi Ann!"},
		{"every occurrence", "{{n}}-{{n}}-{{ n }}", record("n", "x"), "x-x-x"},
		{"several keys", "{{a}} {{b}} {{c}}", record("a", "1", "b", "2"), "1 2 {{c}}"},
		{"regex metacharacters in key", "Total: {{amount ($)}}", record("amount ($)", "10"), "Total: 10"},
		{"dollar signs in value are literal", "Price {{p}}", record("p", "$1.00"), "Price $1.00"},
		{"malformed markup tolerated", "{{name} {name}} {{", record("name", "Ann"), "{{name} {name}} {{"},
		{"empty template", "", record("name", "Ann"), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Merge(tt.template, tt.rec); got != tt.want {
				t.Errorf("Merge(): got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMerge_ReplacementFollowsHeaderOrder(t *testing.T) {
	t.Parallel()

	// The value of "a" introduces a {{b}} placeholder that is then replaced
	// because "b" comes later in the header.
	rec := record("a", "{{b}}", "b", "B")
	if got := Merge("{{a}}", rec); got != "B" {
		t.Errorf("Merge(): got %q, want %q", got, "B")
	}

	// Reversed order leaves the introduced placeholder in place.
	rec = record("b", "B", "a", "{{b}}")
	if got := Merge("{{a}}", rec); got != "{{b}}" {
		t.Errorf("Merge(): got %q, want %q", got, "{{b}}")
	}
}

func TestMergeDiag_NoDiagnosticsOnSuccess(t *testing.T) {
	t.Parallel()

	var d diag.Diagnostics
	MergeDiag("Hi {{name}}", record("name", "Ann"), &d)
	if d.Len() != 0 {
		t.Errorf("diagnostics: got %v, want none", d.Items())
	}
}

// Not parallel: swaps the package compiler.
func TestMergeDiag_FaultReturnsTemplate(t *testing.T) {
	orig := compile
	t.Cleanup(func() { compile = orig })

	tests := []struct {
		name    string
		key     string
		compile func(string) (*regexp.Regexp, error)
	}{
		{
			name:    "compile error",
			key:     "fault_compile_error",
			compile: func(string) (*regexp.Regexp, error) { return nil, errors.New("bad pattern") },
		},
		{
			name:    "panic during substitution",
			key:     "fault_nil_pattern",
			compile: func(string) (*regexp.Regexp, error) { return nil, nil },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compile = tt.compile
			defer func() { compile = orig }()

			var d diag.Diagnostics
			tmpl := "Hi {{" + tt.key + "}}"
			if got := MergeDiag(tmpl, record(tt.key, "Ann"), &d); got != tmpl {
				t.Errorf("MergeDiag(): got %q, want %q", got, tmpl)
			}
			faults := d.Filter(diag.KindMergeFault)
			if len(faults) != 1 {
				t.Fatalf("merge faults: got %v", d.Items())
			}
		})
	}
}

func TestAttachmentRefs(t *testing.T) {
	t.Parallel()

	rec := record("id", "7", "name", "Ann")
	body := "Hello {{name}}, see {{attachment:invoice_{{id}}.pdf}} and {{attachment: terms.pdf }}. {{attachment:{{missing}}}}"

	got := AttachmentRefs(body, rec, nil)
	want := []string{"invoice_7.pdf", "terms.pdf", "{{missing}}"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AttachmentRefs(): got %v, want %v", got, want)
	}

	if refs := AttachmentRefs("no markers", rec, nil); refs != nil {
		t.Errorf("AttachmentRefs(no markers): got %v, want nil", refs)
	}
}

func TestStripAttachmentRefs(t *testing.T) {
	t.Parallel()

	merged := Merge("Hi {{name}}{{attachment:invoice_{{id}}.pdf}}!", record("name", "Ann", "id", "7"))
	if got := StripAttachmentRefs(merged); got != "Hi Ann!" {
		t.Errorf("StripAttachmentRefs(): got %q, want %q", got, "Hi Ann!")
	}
}
