package exclusion

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/verdict/internal/types"
)

// customFile is the on-disk layout of a custom exclusion file:
//
//	exclusions:
//	  - id: skip-oracle-mocks
//	    name: Oracle mocks
//	    match:
//	      file_pattern: "mock_oracle"
type customFile struct {
	Exclusions []customEntry `yaml:"exclusions"`
}

type customEntry struct {
	ID          string      `yaml:"id"`
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Match       MatchConfig `yaml:"match"`
	Scope       Scope       `yaml:"scope"`
	Enabled     *bool       `yaml:"enabled"`
	Priority    int         `yaml:"priority"`
}

// LoadCustomFile reads custom exclusions from a YAML file. Entries are
// enabled unless they say otherwise.
func LoadCustomFile(path string) ([]CustomExclusion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.WrapError(types.CONFIG_LOAD_FAILED, fmt.Sprintf("failed to read %s", path), err)
	}
	return ParseCustom(data)
}

// ParseCustom decodes and validates custom exclusions from YAML.
func ParseCustom(data []byte) ([]CustomExclusion, error) {
	var file customFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, types.WrapError(types.CONFIG_PARSE_FAILED, "failed to parse custom exclusions", err)
	}

	seen := make(map[string]struct{}, len(file.Exclusions))
	out := make([]CustomExclusion, 0, len(file.Exclusions))
	for _, entry := range file.Exclusions {
		c := CustomExclusion{
			ID:          entry.ID,
			Name:        entry.Name,
			Description: entry.Description,
			Match:       entry.Match,
			Scope:       entry.Scope,
			Enabled:     entry.Enabled == nil || *entry.Enabled,
			Priority:    entry.Priority,
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.ID]; dup {
			return nil, types.NewError(types.EXCLUSION_INVALID_RULE, fmt.Sprintf("duplicate custom exclusion id %s", c.ID))
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}
