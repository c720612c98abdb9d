package principal

import "strings"

// NormalizeSubjectID canonicalizes an upstream subject identifier.
// Subject identifiers are opaque and case-sensitive; only surrounding
// whitespace is stripped.
func NormalizeSubjectID(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
