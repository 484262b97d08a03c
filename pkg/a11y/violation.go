// Package a11y scans pages with axe-core and decides which accessibility
// violations block a run.
package a11y

import "strings"

// Impact is the axe-core severity of a rule result.
type Impact string

const (
	ImpactMinor    Impact = "minor"
	ImpactModerate Impact = "moderate"
	ImpactSerious  Impact = "serious"
	ImpactCritical Impact = "critical"
)

// ParseImpact normalizes an impact string. Unknown values map to "".
func ParseImpact(s string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(s))) {
	case ImpactMinor:
		return ImpactMinor
	case ImpactModerate:
		return ImpactModerate
	case ImpactSerious:
		return ImpactSerious
	case ImpactCritical:
		return ImpactCritical
	default:
		return ""
	}
}

// Failing reports whether the impact is severe enough to block.
func (i Impact) Failing() bool {
	switch ParseImpact(string(i)) {
	case ImpactCritical, ImpactSerious:
		return true
	default:
		return false
	}
}

// Node is one DOM element a rule matched.
type Node struct {
	HTML   string   `json:"html"`
	Target []string `json:"target,omitempty"`
}

// Violation is one axe-core rule result.
type Violation struct {
	RuleID      string `json:"id"`
	Impact      Impact `json:"impact,omitempty"`
	Description string `json:"description,omitempty"`
	Help        string `json:"help,omitempty"`
	HelpURL     string `json:"helpUrl,omitempty"`
	Nodes       []Node `json:"nodes,omitempty"`
}

// Results is the subset of an axe-core run the checker consumes.
type Results struct {
	URL          string      `json:"url,omitempty"`
	Violations   []Violation `json:"violations"`
	Passes       []Violation `json:"passes"`
	Incomplete   []Violation `json:"incomplete"`
	Inapplicable []Violation `json:"inapplicable"`
}

// RuleIDs returns every rule ID the scan evaluated, in any outcome.
func (r *Results) RuleIDs() map[string]struct{} {
	ids := make(map[string]struct{})
	if r == nil {
		return ids
	}
	for _, group := range [][]Violation{r.Violations, r.Passes, r.Incomplete, r.Inapplicable} {
		for _, v := range group {
			ids[v.RuleID] = struct{}{}
		}
	}
	return ids
}
