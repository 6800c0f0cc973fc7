package algebra

import (
	"regexp"
	"strings"
)

// metaChars are the regex metacharacters that must be escaped before a
// resource pattern's '*' is turned into a regex wildcard. Hyphen is
// included for safety inside character classes, matching the escaping
// list called out in the spec's design notes.
const metaChars = `-/\^$+?.()|[]{}`

// WildcardPattern is a compiled '*'-bearing resource (or action) pattern.
// Compilation is cheap but not free, so callers that test a pattern
// against many candidates should compile it once and reuse the matcher.
type WildcardPattern struct {
	raw string
	re  *regexp.Regexp
}

// CompilePattern compiles a pattern string into a WildcardPattern. Regex
// metacharacters are escaped first, then '*' is substituted for the
// '.*' wildcard and the result anchored to the full string.
func CompilePattern(pattern string) *WildcardPattern {
	var b strings.Builder
	for _, r := range pattern {
		if r == '*' {
			b.WriteString(".*")
			continue
		}
		if strings.ContainsRune(metaChars, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	re := regexp.MustCompile("(?s)^" + b.String() + "$")
	return &WildcardPattern{raw: pattern, re: re}
}

// Raw returns the original, uncompiled pattern string.
func (p *WildcardPattern) Raw() string { return p.raw }

// Matches reports whether candidate satisfies the compiled pattern.
func (p *WildcardPattern) Matches(candidate string) bool {
	return p.re.MatchString(candidate)
}

// PatternIncludes reports whether the set of strings matched by p2 is a
// subset of the set of strings matched by p1 — "p1 includes p2". This is
// the conservative, standard approximation used throughout IAM tooling:
// p2's wildcards are treated as their widest possible expansion, and p1
// includes p2 iff p1's compiled matcher accepts the literal pattern string
// of p2.
func PatternIncludes(p1, p2 *WildcardPattern) bool {
	return p1.Matches(p2.raw)
}
