// Package normalize canonicalizes user-supplied text at the API edge.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Text returns s trimmed of surrounding whitespace and in Unicode NFC form,
// so visually identical names and prefixes compare equal byte for byte.
// Case is preserved.
func Text(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Email returns a normalized form of an email address suitable for keys and
// comparisons: NFC, trimmed and lower-cased.
func Email(e string) string {
	return strings.ToLower(Text(e))
}
