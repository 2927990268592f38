// Package recipient turns tabular recipient data into ordered records that
// templates are merged against.
package recipient

// Record is one parsed data row bound to the header's column names. Key order
// follows the header. A Record is read-only once parsed.
type Record struct {
	keys   []string
	values map[string]string

	// RowNumber is the 1-based line of the row in the source text, counting
	// the header as line 1.
	RowNumber int
}

// NewRecord binds values to keys positionally. Missing values become empty
// strings and extra values are ignored. When a key repeats, it keeps its first
// position and takes the last value.
func NewRecord(keys, values []string, rowNumber int) Record {
	r := Record{
		keys:      make([]string, 0, len(keys)),
		values:    make(map[string]string, len(keys)),
		RowNumber: rowNumber,
	}
	for i, key := range keys {
		if _, seen := r.values[key]; !seen {
			r.keys = append(r.keys, key)
		}
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r.values[key] = v
	}
	return r
}

// Keys returns the column names in header order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the value for key and whether the key exists.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Value returns the value for key, or an empty string if the key is absent.
func (r Record) Value(key string) string {
	return r.values[key]
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.keys)
}

// Each calls fn for every column in header order.
func (r Record) Each(fn func(key, value string)) {
	for _, key := range r.keys {
		fn(key, r.values[key])
	}
}
