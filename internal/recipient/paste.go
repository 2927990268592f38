package recipient

import (
	"fmt"
	"strings"
)

// DetectDelimiter picks the delimiter of free-form pasted data by counting
// tabs, commas and semicolons in the first line. Tab wins ties.
func DetectDelimiter(text string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")

	tabs := strings.Count(first, "\t")
	commas := strings.Count(first, ",")
	semicolons := strings.Count(first, ";")

	switch {
	case commas > tabs && commas > semicolons:
		return ","
	case semicolons > tabs && semicolons > commas:
		return ";"
	default:
		return "\t"
	}
}

// SplitPasted splits pasted spreadsheet data into trimmed cells using the
// detected delimiter. Blank input yields nil.
func SplitPasted(text string) [][]string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	delim := DetectDelimiter(trimmed)
	lines := strings.Split(trimmed, "\n")
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, splitFields(line, delim))
	}
	return rows
}

// JoinCSV renders a table into the canonical comma-delimited text that Parse
// reads. The first row is the header; empty header cells are named
// "Column N". Data rows are padded or cut to the header width.
func JoinCSV(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		if cell == "" {
			cell = fmt.Sprintf("Column %d", i+1)
		}
		header[i] = cell
	}

	var b strings.Builder
	b.WriteString(strings.Join(header, ","))
	for _, row := range rows[1:] {
		cells := make([]string, len(header))
		copy(cells, row)
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, ","))
	}
	return b.String()
}

// FromPasted converts pasted data into canonical CSV text.
func FromPasted(text string) string {
	return JoinCSV(SplitPasted(text))
}
