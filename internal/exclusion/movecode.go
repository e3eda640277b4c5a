package exclusion

import (
	"regexp"
	"strings"
)

// moveFunc is the source of one Move function located in a code context.
type moveFunc struct {
	Found      bool
	Attributes string
	Modifiers  string
	Params     string
	Body       string
}

// findFunction locates fun name in code. When name is empty or absent the
// whole code is returned as Body with Found unset.
func findFunction(code, name string) moveFunc {
	if name == "" {
		return moveFunc{Body: code}
	}
	re, err := regexp.Compile(`((?:#\[[^\]]*\]\s*)*)((?:(?:public(?:\s*\(\s*\w+\s*\))?|entry|native)\s+)*)fun\s+` +
		regexp.QuoteMeta(name) + `\b\s*(?:<[^>{(]*>)?\s*\(`)
	if err != nil {
		return moveFunc{Body: code}
	}
	loc := re.FindStringSubmatchIndex(code)
	if loc == nil {
		return moveFunc{Body: code}
	}

	fn := moveFunc{
		Found:      true,
		Attributes: code[loc[2]:loc[3]],
		Modifiers:  strings.TrimSpace(code[loc[4]:loc[5]]),
	}

	open := loc[1] - 1
	closeIdx := matching(code, open, '(', ')')
	if closeIdx < 0 {
		fn.Params = code[open+1:]
		return fn
	}
	fn.Params = code[open+1 : closeIdx]

	rest := code[closeIdx+1:]
	brace := strings.IndexByte(rest, '{')
	if semi := strings.IndexByte(rest, ';'); brace < 0 || (semi >= 0 && semi < brace) {
		return fn
	}
	start := closeIdx + 1 + brace
	end := matching(code, start, '{', '}')
	if end < 0 {
		fn.Body = code[start:]
	} else {
		fn.Body = code[start : end+1]
	}
	return fn
}

// matching returns the index of the bracket closing the one at open, or -1.
func matching(s string, open int, l, r byte) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case l:
			depth++
		case r:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func (fn moveFunc) isPublic() bool {
	return strings.Contains(fn.Modifiers, "public")
}

func (fn moveFunc) isEntry() bool {
	for _, m := range strings.Fields(fn.Modifiers) {
		if m == "entry" {
			return true
		}
	}
	return false
}

var funDeclRe = regexp.MustCompile(`\bfun\s+([A-Za-z_][A-Za-z0-9_]*)`)

// declaredFunctions returns the names of every function declared in code.
func declaredFunctions(code string) []string {
	var names []string
	for _, m := range funDeclRe.FindAllStringSubmatch(code, -1) {
		names = append(names, m[1])
	}
	return names
}
