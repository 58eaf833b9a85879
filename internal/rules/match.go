package rules

import "sort"

// MatchRewrite returns the destination path for the first rewrite whose
// source matches reqPath, and true. Rewrites are tried in declaration
// order — first match wins (spec.md §4.2 step 4).
func MatchRewrite(reqPath string, rewrites []Rewrite) (string, bool) {
	for _, rw := range rewrites {
		if rw.Source.Regexp.MatchString(reqPath) {
			return Expand(rw.Source.Regexp, rw.Destination, reqPath), true
		}
	}
	return "", false
}

// MatchRedirect returns the destination and status for the first redirect
// whose source matches reqPath, and true. Redirects are tried in
// declaration order, before rewrites (spec.md §4.2 step 3).
func MatchRedirect(reqPath string, redirects []Redirect) (string, int, bool) {
	for _, rd := range redirects {
		if rd.Source.Regexp.MatchString(reqPath) {
			status := rd.Status
			if status == 0 {
				status = int(StatusMovedPermanently)
			}
			return Expand(rd.Source.Regexp, rd.Destination, reqPath), status, true
		}
	}
	return "", 0, false
}

// ApplyHeaders returns the header key/value pairs to apply to reqPath, in
// the order they should be set. All matching rules apply (not
// first-match-wins); rules are sorted by pattern so that more specific
// patterns (longer, containing no wildcard) are applied after less
// specific ones, letting a later Set on the same key win deterministically
// — mirrors tspages/internal/serve/handler.go's applyHeaders.
func ApplyHeaders(reqPath string, headerRules []HeaderRule) []HeaderPair {
	ordered := make([]HeaderRule, len(headerRules))
	copy(ordered, headerRules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return specificity(ordered[i].Source.Source) < specificity(ordered[j].Source.Source)
	})

	var out []HeaderPair
	for _, rule := range ordered {
		if rule.Source.Regexp.MatchString(reqPath) {
			out = append(out, rule.Headers...)
		}
	}
	return out
}

// specificity scores a pattern so that rules with no wildcard and greater
// length sort after (and therefore override) shorter/wildcard-heavy ones.
func specificity(pattern string) int {
	score := len(pattern) * 2
	for _, c := range pattern {
		if c == '*' || c == '?' {
			score--
		}
	}
	return score
}
