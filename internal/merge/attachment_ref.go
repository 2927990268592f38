package merge

import (
	"regexp"
	"strings"

	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

var (
	// attachmentRefPattern matches {{attachment:<template>}} where the inner
	// template may itself hold {{placeholders}}.
	attachmentRefPattern = regexp.MustCompile(`\{\{attachment:((?:[^{}]|\{\{[^{}]*\}\})+)\}\}`)

	// mergedRefPattern matches a marker whose inner placeholders are resolved.
	mergedRefPattern = regexp.MustCompile(`\{\{attachment:[^{}]*\}\}`)
)

// AttachmentRefs extracts the legacy {{attachment:<template>}} markers from a
// body template and merges each inner template against rec. Empty results
// are skipped.
func AttachmentRefs(body string, rec recipient.Record, d *diag.Diagnostics) []string {
	matches := attachmentRefPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}

	refs := make([]string, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(MergeDiag(m[1], rec, d))
		if name != "" {
			refs = append(refs, name)
		}
	}
	return refs
}

// StripAttachmentRefs removes merged {{attachment:...}} markers from text.
func StripAttachmentRefs(text string) string {
	return mergedRefPattern.ReplaceAllString(text, "")
}
