package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces     = regexp.MustCompile(`[\s\p{Zs}\x{FEFF}]+`)
	reNonAllowed = regexp.MustCompile(`[^\p{L}\p{N}\s\-]`)
)

// CollapseSpaces replaces every whitespace run, newlines included, with a
// single space and trims the result.
func CollapseSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// NormalizeText repairs invalid UTF-8, turns Unicode space separators such
// as the no-break space into plain spaces and composes the text to NFC so
// that "Süd" typed with a combining diaeresis still matches the registry.
func NormalizeText(input string) string {
	return norm.NFC.String(strings.Map(plainSpace, strings.ToValidUTF8(input, "")))
}

func plainSpace(r rune) rune {
	if r == '\uFEFF' || (r != ' ' && unicode.Is(unicode.Zs, r)) {
		return ' '
	}
	return r
}

// NormalizeName is the lookup key used for location names.
func NormalizeName(input string) string {
	s := strings.ToLower(NormalizeText(input))
	s = strings.ReplaceAll(s, "_", " ")
	s = reNonAllowed.ReplaceAllString(s, " ")
	return CollapseSpaces(s)
}

// TruncateRunes keeps the first max characters of input.
func TruncateRunes(input string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	for i := range input {
		if count == max {
			return input[:i]
		}
		count++
	}
	return input
}

func StringPtr(v string) *string { return &v }

func IntPtr(v int) *int { return &v }

func DerefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
