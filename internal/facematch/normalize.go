package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/kozaktomas/facegate/internal/constants"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// SanitizeName turns a user supplied identity label into a safe storage key.
// The result contains only ASCII letters, digits, space, '_', '-' and '.', never
// starts with a dot and is at most constants.MaxNameLength bytes long.
// An empty result means the label carried nothing usable.
func SanitizeName(name string) string {
	name = strings.TrimSpace(RemoveDiacritics(name))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	s := strings.TrimLeft(b.String(), ".")
	s = strings.TrimSpace(s)
	if len(s) > constants.MaxNameLength {
		s = strings.TrimSpace(s[:constants.MaxNameLength])
	}
	if strings.Trim(s, "_") == "" {
		return ""
	}
	return s
}
