package agent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zero-day-ai/verdict/internal/finding"
	"github.com/zero-day-ai/verdict/internal/llm"
	"github.com/zero-day-ai/verdict/internal/types"
)

// RejectionNaming marks a false positive justified only by a name mismatch.
const RejectionNaming = "naming"

// confidence accepts integers, floats (0.85 is read as 85) and numeric
// strings.
type confidence int

func (c *confidence) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	s = strings.TrimSuffix(s, "%")
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid confidence %q", s)
	}
	if v > 0 && v <= 1 && strings.Contains(s, ".") {
		v *= 100
	}
	*c = confidence(finding.ClampConfidence(int(math.Round(v))))
	return nil
}

type assessmentResponse struct {
	Verdict        string     `json:"verdict"`
	Confidence     confidence `json:"confidence"`
	Rationale      string     `json:"rationale"`
	Justification  string     `json:"justification"`
	RejectionBasis string     `json:"rejection_basis"`
	Perspectives   struct {
		Pattern    string `json:"pattern"`
		TypeSystem string `json:"type_system"`
		Economics  string `json:"economics"`
	} `json:"perspectives"`
}

func (r *assessmentResponse) reasoning() string {
	if r.Rationale != "" {
		return r.Rationale
	}
	return r.Justification
}

type exploitResponse struct {
	EntryPoint string   `json:"entry_point"`
	Steps      []string `json:"steps"`
	Impact     string   `json:"impact"`
	Proof      string   `json:"proof"`
	Verified   bool     `json:"verified"`
}

// parseResponse extracts and decodes the JSON object of a model reply.
func parseResponse[T any](role, content string) (*T, error) {
	raw, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, types.WrapError(types.AGENT_INVALID_RESPONSE,
			fmt.Sprintf("%s response contains no JSON", role), err)
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, types.WrapError(types.AGENT_INVALID_RESPONSE,
			fmt.Sprintf("%s response is not a valid object", role), err)
	}
	return &out, nil
}
