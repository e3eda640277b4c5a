// Package tokenize extracts identifier-like tokens from finding text and code.
//
// A word in prose counts as an identifier when it looks like code: it contains
// an underscore, has an inner upper-case letter (camelCase), is a "::" path
// (only the last segment is kept), is wrapped in backticks, or is directly
// followed by "(".
// Identifiers shorter than MinIdentifierLength and common keywords are
// dropped.
package tokenize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// MinIdentifierLength is the shortest token treated as an identifier.
const MinIdentifierLength = 3

var (
	// word with optional path qualification, e.g. pool::borrow or coin.value
	qualifiedRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:(?:::|\.)[A-Za-z_][A-Za-z0-9_]*)*`)
	backtickRe  = regexp.MustCompile("`([^`]+)`")
	wordRe      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
)

// keywords are language keywords and prose words that look like identifiers
// but never name anything in the audited code.
var keywords = map[string]struct{}{
	"fun": {}, "public": {}, "entry": {}, "struct": {}, "module": {}, "use": {},
	"let": {}, "mut": {}, "return": {}, "abort": {}, "assert": {}, "if": {},
	"else": {}, "while": {}, "loop": {}, "break": {}, "continue": {}, "const": {},
	"friend": {}, "has": {}, "key": {}, "store": {}, "copy": {}, "drop": {},
	"true": {}, "false": {}, "u8": {}, "u16": {}, "u32": {}, "u64": {}, "u128": {},
	"u256": {}, "bool": {}, "address": {}, "vector": {}, "signer": {}, "self": {},
	"function": {}, "contract": {}, "mapping": {}, "require": {}, "uint256": {},
	"msg": {}, "sender": {}, "etc": {}, "the": {}, "and": {},
	"for": {}, "not": {}, "can": {}, "this": {}, "that": {}, "with": {},
}

// stopWords are dropped from Words output.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "not": {}, "can": {}, "this": {}, "that": {},
	"with": {}, "from": {}, "into": {}, "when": {}, "which": {}, "does": {},
	"there": {}, "their": {}, "these": {}, "those": {}, "then": {}, "than": {},
	"will": {}, "would": {}, "could": {}, "should": {}, "have": {}, "been": {},
	"being": {}, "were": {}, "also": {}, "only": {}, "such": {}, "any": {},
	"all": {}, "its": {}, "are": {}, "was": {}, "but": {}, "may": {}, "might": {},
	"via": {}, "allows": {}, "allow": {}, "lead": {}, "leads": {}, "cause": {},
	"causes": {}, "issue": {}, "function": {}, "functions": {}, "code": {},
	"value": {}, "values": {}, "other": {}, "some": {}, "more": {}, "must": {},
	"without": {}, "where": {}, "after": {}, "before": {}, "because": {},
	"user": {}, "users": {}, "call": {}, "calls": {}, "called": {}, "used": {},
	"uses": {}, "using": {}, "missing": {}, "lack": {}, "lacks": {}, "check": {},
	"checks": {}, "potential": {}, "possible": {}, "vulnerability": {},
}

// Identifiers returns the distinct identifier-like tokens of text, in order of
// first appearance.
func Identifiers(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(tok string) {
		tok = strings.Trim(tok, ".:_")
		if len(tok) < MinIdentifierLength {
			return
		}
		if _, ok := keywords[strings.ToLower(tok)]; ok {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, m := range backtickRe.FindAllStringSubmatch(text, -1) {
		for _, q := range qualifiedRe.FindAllString(m[1], -1) {
			add(lastSegment(q))
		}
	}

	for _, loc := range qualifiedRe.FindAllStringIndex(text, -1) {
		tok := text[loc[0]:loc[1]]
		followedByParen := loc[1] < len(text) && text[loc[1]] == '('
		qualified := strings.Contains(tok, "::")
		if qualified {
			add(lastSegment(tok))
			continue
		}
		// dotted prose like "e.g" is not qualification; only keep the parts
		// that look like code on their own
		parts := strings.Split(tok, ".")
		for i, part := range parts {
			if (followedByParen && i == len(parts)-1) || looksLikeIdentifier(part) {
				add(part)
			}
		}
	}
	return out
}

// CodeTokens returns the set of words appearing in code, lower-cased.
func CodeTokens(code string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(code, -1) {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// Overlap is the result of comparing description identifiers with code.
type Overlap struct {
	Identifiers  []string `json:"identifiers"`
	Missing      []string `json:"missing"`
	MissingRatio float64  `json:"missing_ratio"`
}

// Empty reports whether the description yielded no identifiers.
func (o Overlap) Empty() bool {
	return len(o.Identifiers) == 0
}

// CompareWithCode computes which identifiers of description are absent from
// code. Comparison ignores case.
func CompareWithCode(description, code string) Overlap {
	ids := Identifiers(description)
	if len(ids) == 0 {
		return Overlap{}
	}
	present := CodeTokens(code)
	var missing []string
	for _, id := range ids {
		if _, ok := present[strings.ToLower(id)]; !ok {
			missing = append(missing, id)
		}
	}
	return Overlap{
		Identifiers:  ids,
		Missing:      missing,
		MissingRatio: float64(len(missing)) / float64(len(ids)),
	}
}

// Without drops names from the comparison and recomputes the ratio. Names
// match case-insensitively.
func (o Overlap) Without(names ...string) Overlap {
	if len(names) == 0 || o.Empty() {
		return o
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[strings.ToLower(n)] = struct{}{}
	}
	keep := func(ids []string) []string {
		var out []string
		for _, id := range ids {
			if _, ok := drop[strings.ToLower(id)]; !ok {
				out = append(out, id)
			}
		}
		return out
	}
	ids := keep(o.Identifiers)
	if len(ids) == 0 {
		return Overlap{}
	}
	missing := keep(o.Missing)
	return Overlap{
		Identifiers:  ids,
		Missing:      missing,
		MissingRatio: float64(len(missing)) / float64(len(ids)),
	}
}

// Words returns the distinct lower-cased content words of text, with
// identifiers split on underscores and case changes. The result is sorted.
func Words(text string) []string {
	set := make(map[string]struct{})
	for _, w := range wordRe.FindAllString(text, -1) {
		for _, part := range SplitIdentifier(w) {
			part = strings.ToLower(part)
			if len(part) < MinIdentifierLength {
				continue
			}
			if _, ok := stopWords[part]; ok {
				continue
			}
			if _, ok := keywords[part]; ok {
				continue
			}
			set[part] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// SplitIdentifier splits snake_case and camelCase identifiers into parts.
func SplitIdentifier(id string) []string {
	var parts []string
	for _, chunk := range strings.Split(id, "_") {
		if chunk == "" {
			continue
		}
		start := 0
		runes := []rune(chunk)
		for i := 1; i < len(runes); i++ {
			if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
				parts = append(parts, string(runes[start:i]))
				start = i
			}
		}
		parts = append(parts, string(runes[start:]))
	}
	return parts
}

func looksLikeIdentifier(tok string) bool {
	if strings.Contains(strings.Trim(tok, "_"), "_") {
		return true
	}
	runes := []rune(tok)
	for i := 1; i < len(runes); i++ {
		if unicode.IsUpper(runes[i]) && unicode.IsLower(runes[i-1]) {
			return true
		}
	}
	return false
}

func lastSegment(tok string) string {
	if i := strings.LastIndex(tok, "::"); i >= 0 {
		return tok[i+2:]
	}
	return tok
}
