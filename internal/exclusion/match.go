package exclusion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/types"
)

// MatchConfig is a data-driven predicate over a finding.
//
// Each non-empty field is a clause. With MatchAll unset the config matches
// when any clause holds; with MatchAll set every specified clause must hold.
// A config with no clauses matches nothing.
type MatchConfig struct {
	TitleContains       []string           `json:"title_contains,omitempty" yaml:"title_contains,omitempty" mapstructure:"title_contains"`
	DescriptionContains []string           `json:"description_contains,omitempty" yaml:"description_contains,omitempty" mapstructure:"description_contains"`
	FunctionPattern     string             `json:"function_pattern,omitempty" yaml:"function_pattern,omitempty" mapstructure:"function_pattern"`
	FilePattern         string             `json:"file_pattern,omitempty" yaml:"file_pattern,omitempty" mapstructure:"file_pattern"`
	Severities          []finding.Severity `json:"severities,omitempty" yaml:"severities,omitempty" mapstructure:"severities"`
	MatchAll            bool               `json:"match_all,omitempty" yaml:"match_all,omitempty" mapstructure:"match_all"`
}

// IsEmpty reports whether the config has no clauses.
func (m MatchConfig) IsEmpty() bool {
	return len(nonBlank(m.TitleContains)) == 0 &&
		len(nonBlank(m.DescriptionContains)) == 0 &&
		m.FunctionPattern == "" &&
		m.FilePattern == "" &&
		len(m.Severities) == 0
}

// Validate compiles the patterns and checks severities.
func (m MatchConfig) Validate() error {
	_, err := m.Compile()
	return err
}

// Compile returns an evaluable matcher for the config.
func (m MatchConfig) Compile() (*Matcher, error) {
	if m.IsEmpty() {
		return nil, types.NewError(types.EXCLUSION_INVALID_RULE, "match config has no clauses")
	}

	mt := &Matcher{
		title:       lowerAll(nonBlank(m.TitleContains)),
		description: lowerAll(nonBlank(m.DescriptionContains)),
		matchAll:    m.MatchAll,
	}

	var err error
	if m.FunctionPattern != "" {
		if mt.function, err = regexp.Compile(m.FunctionPattern); err != nil {
			return nil, types.WrapError(types.EXCLUSION_INVALID_RULE,
				fmt.Sprintf("invalid function_pattern %q", m.FunctionPattern), err)
		}
	}
	if m.FilePattern != "" {
		if mt.file, err = regexp.Compile(m.FilePattern); err != nil {
			return nil, types.WrapError(types.EXCLUSION_INVALID_RULE,
				fmt.Sprintf("invalid file_pattern %q", m.FilePattern), err)
		}
	}
	if len(m.Severities) > 0 {
		mt.severities = make(finding.SeveritySet, len(m.Severities))
		for _, s := range m.Severities {
			if !s.IsValid() {
				return nil, types.NewError(types.EXCLUSION_INVALID_RULE,
					fmt.Sprintf("unknown severity %q", s))
			}
			mt.severities[s] = struct{}{}
		}
	}
	return mt, nil
}

// Matcher is a compiled MatchConfig.
type Matcher struct {
	title       []string
	description []string
	function    *regexp.Regexp
	file        *regexp.Regexp
	severities  finding.SeveritySet
	matchAll    bool
}

// Match evaluates the matcher against f. file overrides the finding's
// location file when the code context names one.
func (m *Matcher) Match(f *finding.Finding, file string) bool {
	if m == nil || f == nil {
		return false
	}
	if file == "" {
		file = f.Location.File
	}

	var clauses []bool
	if len(m.title) > 0 {
		clauses = append(clauses, containsAny(f.Title, m.title))
	}
	if len(m.description) > 0 {
		clauses = append(clauses, containsAny(f.Description, m.description))
	}
	if m.function != nil {
		clauses = append(clauses, f.Location.Function != "" && m.function.MatchString(f.Location.Function))
	}
	if m.file != nil {
		clauses = append(clauses, file != "" && m.file.MatchString(file))
	}
	if m.severities != nil {
		clauses = append(clauses, m.severities.Contains(f.Severity))
	}

	if len(clauses) == 0 {
		return false
	}
	for _, ok := range clauses {
		if m.matchAll && !ok {
			return false
		}
		if !m.matchAll && ok {
			return true
		}
	}
	return m.matchAll
}

func containsAny(text string, needles []string) bool {
	text = strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func nonBlank(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func lowerAll(in []string) []string {
	for i, s := range in {
		in[i] = strings.ToLower(s)
	}
	return in
}
