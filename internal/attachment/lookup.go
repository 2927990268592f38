package attachment

import "strings"

// Strategy finds the entry for a candidate filename in a catalog.
type Strategy func(cat Catalog, candidate string) (Entry, bool)

// DefaultStrategies is the ranked lookup used for variable attachments:
// exact filename first, then substring in either direction.
var DefaultStrategies = []Strategy{Exact, Substring}

// Exact matches the candidate against filenames verbatim.
func Exact(cat Catalog, candidate string) (Entry, bool) {
	return cat.Get(candidate)
}

// Substring returns the first entry, in catalog order, whose filename
// contains the candidate or is contained in it.
func Substring(cat Catalog, candidate string) (Entry, bool) {
	if candidate == "" {
		return Entry{}, false
	}
	for _, e := range cat.Entries() {
		if strings.Contains(e.Filename, candidate) || strings.Contains(candidate, e.Filename) {
			return e, true
		}
	}
	return Entry{}, false
}

// Lookup tries each strategy in rank order and returns the first hit.
func Lookup(cat Catalog, candidate string, strategies ...Strategy) (Entry, bool) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	for _, strategy := range strategies {
		if e, ok := strategy(cat, candidate); ok {
			return e, true
		}
	}
	return Entry{}, false
}
