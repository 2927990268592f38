package recipient

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTooFewLines is returned when the input has no header plus data line.
	ErrTooFewLines = errors.New("CSV must have at least a header row and one data row")

	// ErrNoRows is returned when no data row survives filtering.
	ErrNoRows = errors.New("no data rows found in CSV, please check your CSV format")
)

// FormatError reports malformed or insufficient CSV input.
type FormatError struct {
	Err error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("CSV parsing error: %v", e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Parse splits comma-delimited text into records. The first line is the
// header. A data row is kept only when its field count equals the header's
// and at least one field is non-empty after trimming; other rows are dropped
// without error. Fields are not quoted or unescaped.
func Parse(text string) ([]Record, error) {
	lines := strings.Split(strings.TrimSpace(text), "\n")

	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return nil, &FormatError{Err: ErrTooFewLines}
	}

	header := splitFields(lines[0], ",")

	records := make([]Record, 0, len(lines)-1)
	for i := 1; i < len(lines); i++ {
		values := splitFields(lines[i], ",")
		if len(values) != len(header) || !anyNonEmpty(values) {
			continue
		}
		records = append(records, NewRecord(header, values, i+1))
	}

	if len(records) == 0 {
		return nil, &FormatError{Err: ErrNoRows}
	}

	return records, nil
}

// Header returns the trimmed column names of the first line of text.
func Header(text string) []string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	if strings.TrimSpace(first) == "" {
		return nil
	}
	return splitFields(first, ",")
}

// splitFields splits a line on sep and trims every field, including a
// trailing carriage return.
func splitFields(line, sep string) []string {
	fields := strings.Split(line, sep)
	for i, f := range fields {
		fields[i] = strings.TrimSpace(f)
	}
	return fields
}

func anyNonEmpty(values []string) bool {
	for _, v := range values {
		if v != "" {
			return true
		}
	}
	return false
}
