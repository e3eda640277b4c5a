// Package coverage scores confirmed findings against the formally verified
// specification of their module and aggregates the scores into a module risk
// level.
package coverage

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/verdict/internal/types"
)

// ClauseKind names the part of a specification a clause comes from.
type ClauseKind string

const (
	ClausePrecondition  ClauseKind = "precondition"
	ClausePostcondition ClauseKind = "postcondition"
	ClauseInvariant     ClauseKind = "invariant"
)

// Clause is one verified statement of a module specification.
type Clause struct {
	Kind ClauseKind `json:"kind"`
	Text string     `json:"text"`
}

// String renders the clause as "kind: text".
func (c Clause) String() string {
	return fmt.Sprintf("%s: %s", c.Kind, c.Text)
}

// ModuleSpec is the verified specification reported by the prover for one
// module.
type ModuleSpec struct {
	Module         string   `json:"module" yaml:"module"`
	Preconditions  []string `json:"preconditions,omitempty" yaml:"preconditions,omitempty"`
	Postconditions []string `json:"postconditions,omitempty" yaml:"postconditions,omitempty"`
	Invariants     []string `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

// Clauses flattens the specification, skipping blank statements.
func (s *ModuleSpec) Clauses() []Clause {
	var out []Clause
	add := func(kind ClauseKind, texts []string) {
		for _, t := range texts {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, Clause{Kind: kind, Text: t})
			}
		}
	}
	add(ClausePrecondition, s.Preconditions)
	add(ClausePostcondition, s.Postconditions)
	add(ClauseInvariant, s.Invariants)
	return out
}

// Wildcard is the module key of a specification applying to every module.
const Wildcard = "*"

// Specs maps module names to their specifications. Lookups ignore case.
type Specs map[string]*ModuleSpec

// For returns the specification of module, falling back to the wildcard
// entry.
func (s Specs) For(module string) (*ModuleSpec, bool) {
	if spec, ok := s[strings.ToLower(module)]; ok {
		return spec, true
	}
	spec, ok := s[Wildcard]
	return spec, ok
}

// Modules returns the module keys in sorted order.
func (s Specs) Modules() []string {
	out := make([]string, 0, len(s))
	for m := range s {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// ParseSpecs reads specifications from YAML or JSON. The document is a
// mapping from module name to specification:
//
//	lending:
//	  preconditions: ["amount > 0"]
//	  postconditions: ["pool.balance == old(pool.balance) + fee"]
//	  invariants: []
func ParseSpecs(data []byte) (Specs, error) {
	var raw map[string]*ModuleSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, types.WrapError(types.COVERAGE_INVALID_SPEC, "failed to parse specifications", err)
	}
	out := make(Specs, len(raw))
	for name, spec := range raw {
		if spec == nil {
			spec = &ModuleSpec{}
		}
		if spec.Module == "" {
			spec.Module = name
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if _, dup := out[key]; dup {
			return nil, types.NewError(types.COVERAGE_INVALID_SPEC,
				fmt.Sprintf("module %q is specified twice", name))
		}
		out[key] = spec
	}
	return out, nil
}

// LoadSpecs reads a specification file.
func LoadSpecs(path string) (Specs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.COVERAGE_INVALID_SPEC,
			fmt.Sprintf("failed to read specifications %s", path), err)
	}
	return ParseSpecs(data)
}
