// Package globmatch translates the glob grammar used by KEYS, PUBSUB
// CHANNELS, and PUBLISH's pattern fan-out into a regular expression.
package globmatch

import (
	"regexp"
	"strings"
)

// translate rewrites pattern into a regex body: an unescaped '*' becomes
// '.*', an unescaped '?' becomes '.', a backslash disables the
// substitution on the following character — and that character is
// emitted through regexp.QuoteMeta so an escaped metacharacter (`\*`,
// `\?`, `\.`, ...) compiles as the literal byte rather than a live regex
// operator — and every other byte (including '[' and ']', so character
// classes work) passes through to the regex engine unchanged.
func translate(pattern string) string {
	var b strings.Builder
	escaped := false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(c)))
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		// trailing lone backslash: keep it literal
		b.WriteString(regexp.QuoteMeta(`\`))
	}
	return b.String()
}

// CompileFull compiles pattern anchored at both ends, for a full-string
// match. This is the KEYS and PUBSUB CHANNELS semantics.
func CompileFull(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("^" + translate(pattern) + "$")
}

// CompileSearch compiles pattern without anchors, for a leftmost,
// non-full-string match. This is PUBLISH's pattern fan-out semantics,
// which is deliberately not anchored (match, not fullmatch).
func CompileSearch(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(translate(pattern))
}
