package email

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once

	// blockBreaks turns block-level closing tags and <br> into newlines
	// before the tags are stripped.
	blockBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|h[1-6]|tr)>`)
	blankLines  = regexp.MustCompile(`\n{3,}`)
)

// PlainText derives a plain-text alternative from an HTML body.
func PlainText(htmlBody string) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})

	withBreaks := blockBreaks.ReplaceAllString(htmlBody, "\n")
	stripped := html.UnescapeString(strictPolicy.Sanitize(withBreaks))

	lines := strings.Split(stripped, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// LooksLikeHTML reports whether body contains markup.
func LooksLikeHTML(body string) bool {
	return strings.Contains(body, "<") && strings.Contains(body, ">")
}
