package email

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidAddress reports whether s looks like a bare email address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// ComposeFrom builds the From string shown in previews: `"Name" <addr>` when
// a display name is set, otherwise the bare address. Without an address the
// result is empty.
func ComposeFrom(name, addr string) string {
	if addr == "" {
		return ""
	}
	if name == "" {
		return addr
	}
	return fmt.Sprintf(`"%s" <%s>`, strings.ReplaceAll(name, `"`, `\"`), addr)
}

// SplitFrom parses a From string into display name and address. Strings
// that are not valid RFC 5322 addresses are returned trimmed as the address.
func SplitFrom(from string) (name, addr string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}
	parsed, err := mail.ParseAddress(from)
	if err != nil {
		return "", from
	}
	return parsed.Name, parsed.Address
}

// ParseAddressList splits a comma-separated address list into individual
// addresses.
func ParseAddressList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma/semicolon split if RFC 5322 parsing fails
		parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' })
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
