// Package rules compiles the serve-compatible glob/bracket-extension
// pattern language into anchored regular expressions and applies
// capture-group substitution for rewrite and redirect destinations.
package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// Compiled is a source pattern compiled into an anchored regex, built once
// at config-load time and shared read-only across all request workers.
type Compiled struct {
	Source   string
	Regexp   *regexp.Regexp
	NumGroup int
}

// Rewrite is a single internal URL substitution (serve.json "rewrites").
type Rewrite struct {
	Source      Compiled
	Destination string
}

// RedirectStatus constrains redirect rules to the four statuses serve.json
// allows.
type RedirectStatus int

const (
	StatusMovedPermanently  RedirectStatus = 301
	StatusFound             RedirectStatus = 302
	StatusTemporaryRedirect RedirectStatus = 307
	StatusPermanentRedirect RedirectStatus = 308
)

// ValidRedirectStatus reports whether code is one of the four allowed
// redirect statuses.
func ValidRedirectStatus(code int) bool {
	switch RedirectStatus(code) {
	case StatusMovedPermanently, StatusFound, StatusTemporaryRedirect, StatusPermanentRedirect:
		return true
	}
	return false
}

// Redirect is a single external URL substitution (serve.json "redirects").
type Redirect struct {
	Source      Compiled
	Destination string
	Status      int
}

// HeaderRule applies a set of response headers to every request path
// matching Source. Later rules in the same set override earlier ones on
// the same header key (first-match-wins does not apply here — spec.md
// §3: "all matches apply").
type HeaderRule struct {
	Source  Compiled
	Headers []HeaderPair
}

type HeaderPair struct {
	Key   string
	Value string
}

// Compile translates a serve.json-style source pattern into an anchored
// regular expression.
//
// Pattern language (spec.md §4.1):
//
//	*        -> [^/]*
//	**       -> .*
//	?        -> [^/]
//	@(a|b|c) -> (?:a|b|c)
//
// A pattern may also be literal regex containing bracket capture groups
// (e.g. "/api/(.*)"), used verbatim for rewrite/redirect sources — such
// patterns are detected by the presence of an unescaped "(" and passed
// through the translator untouched except for anchoring.
func Compile(source string) (Compiled, error) {
	// A "(" that neither opens an "@(...)" group nor follows a backslash
	// marks a literal regex source, which skips glob translation.
	literal := false
	for i := 0; i < len(source); i++ {
		if source[i] == '(' && (i == 0 || (source[i-1] != '@' && source[i-1] != '\\')) {
			literal = true
			break
		}
	}
	translated := source
	if !literal {
		translated = translateGlob(source)
	}

	anchored := translated
	if !strings.HasPrefix(anchored, "^") {
		anchored = "^" + anchored
	}
	if !strings.HasSuffix(anchored, "$") {
		anchored = anchored + "$"
	}

	re, err := regexp.Compile(anchored)
	if err != nil {
		return Compiled{}, fmt.Errorf("compiling pattern %q: %w", source, err)
	}
	return Compiled{Source: source, Regexp: re, NumGroup: re.NumSubexp()}, nil
}

// translateGlob rewrites glob/bracket-extension tokens into their regex
// equivalents while leaving existing regex metacharacters (used directly
// in rewrite/redirect "from" patterns, e.g. "/api/(.*)") untouched.
//
// Tokens recognized, longest-match first: "**", "@(a|b|c)", "*", "?".
// Everything else is regexp.QuoteMeta-escaped except the regex
// metacharacters isRegexMeta lists (parentheses, pipes, dots, brackets,
// braces, "+", "^", "$", "\") already present in the source — those are
// assumed to be deliberate regex syntax, matching how serve's rewrite
// sources mix plain path segments with capture groups.
func translateGlob(pattern string) string {
	var b strings.Builder
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(".*")
			i += 2
		case strings.HasPrefix(pattern[i:], "@("):
			end := findMatchingParen(pattern, i+1)
			if end < 0 {
				// Unbalanced — treat '@' literally and continue.
				b.WriteString("@")
				i++
				continue
			}
			alt := pattern[i+2 : end]
			b.WriteString("(?:")
			b.WriteString(alt)
			b.WriteString(")")
			i = end + 1
		case pattern[i] == '*':
			b.WriteString("[^/]*")
			i++
		case pattern[i] == '?':
			b.WriteString("[^/]")
			i++
		case isRegexMeta(pattern[i]):
			// Pass regex metacharacters (., (, ), |, [, ], +, ^, $, \, {, })
			// through untouched so capture-group rewrite sources keep
			// working (e.g. "/api/(.*)").
			b.WriteByte(pattern[i])
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	return b.String()
}

func isRegexMeta(c byte) bool {
	switch c {
	case '.', '(', ')', '|', '[', ']', '+', '^', '$', '\\', '{', '}':
		return true
	}
	return false
}

func findMatchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// Expand substitutes $1..$9 capture groups from match into destination. An
// unbound group (index beyond the number of captures, or a non-matching
// optional group) substitutes empty, per spec.md §4.1.
func Expand(re *regexp.Regexp, destination, path string) string {
	loc := re.FindStringSubmatchIndex(path)
	if loc == nil {
		return destination
	}
	return string(re.ExpandString(nil, toDollarTemplate(destination), path, loc))
}

// toDollarTemplate rewrites "$1".."$9" references into Go regexp's
// "${1}".."${9}" expansion syntax so digits immediately following a
// capture reference aren't misread as part of the group number.
func toDollarTemplate(destination string) string {
	var b strings.Builder
	for i := 0; i < len(destination); i++ {
		c := destination[i]
		if c == '$' && i+1 < len(destination) && destination[i+1] >= '1' && destination[i+1] <= '9' {
			b.WriteString("${")
			b.WriteByte(destination[i+1])
			b.WriteString("}")
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
