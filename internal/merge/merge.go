// Package merge substitutes {{placeholder}} variables in template strings
// with values from a recipient record.
package merge

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/shineum/mailmerge-lite/internal/diag"
	"github.com/shineum/mailmerge-lite/internal/recipient"
)

var (
	// patterns caches the compiled placeholder expression per column name.
	patterns sync.Map

	compile = regexp.Compile
)

// Merge replaces every {{key}} (whitespace around key optional) with the
// record's value for key. Placeholders naming a column the record does not
// have are left untouched. It never fails: on an internal fault the template
// is returned unmodified.
func Merge(template string, rec recipient.Record) string {
	return MergeDiag(template, rec, nil)
}

// MergeDiag is Merge with faults recorded in d.
func MergeDiag(template string, rec recipient.Record, d *diag.Diagnostics) (result string) {
	defer func() {
		if r := recover(); r != nil {
			d.Add(diag.KindMergeFault, "", fmt.Sprintf("template merge error: %v", r))
			result = template
		}
	}()

	result = template
	for _, key := range rec.Keys() {
		re, err := placeholder(key)
		if err != nil {
			d.Add(diag.KindMergeFault, key, fmt.Sprintf("template merge error: %v", err))
			return template
		}
		result = re.ReplaceAllLiteralString(result, rec.Value(key))
	}
	return result
}

func placeholder(key string) (*regexp.Regexp, error) {
	if cached, ok := patterns.Load(key); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := compile(`\{\{\s*` + regexp.QuoteMeta(key) + `\s*\}\}`)
	if err != nil {
		return nil, err
	}
	patterns.Store(key, re)
	return re, nil
}
