package a11y

import "sync"

// Verdict is the outcome of filtering one scan.
type Verdict struct {
	// Blocking holds critical or serious violations not accepted by the
	// whitelist. It is reported even when Passed is true.
	Blocking    []Violation
	Whitelisted []Violation
	// Passed is false only when Blocking is non-empty in strict mode.
	Passed bool
	Strict bool
}

// Evaluate applies the blocking policy to violations found on scope.
func Evaluate(violations []Violation, scope string, whitelist *Whitelist, strict bool) Verdict {
	v := Verdict{Blocking: []Violation{}, Strict: strict}
	for _, violation := range violations {
		if !violation.Impact.Failing() {
			continue
		}
		if whitelist.Contains(scope, violation.RuleID) {
			v.Whitelisted = append(v.Whitelisted, violation)
			continue
		}
		v.Blocking = append(v.Blocking, violation)
	}
	v.Passed = !(strict && len(v.Blocking) > 0)
	return v
}

// BlockingIDs returns the rule IDs of the blocking violations.
func (v Verdict) BlockingIDs() []string {
	ids := make([]string, 0, len(v.Blocking))
	for _, b := range v.Blocking {
		ids = append(ids, b.RuleID)
	}
	return ids
}

// UnknownRules returns whitelist rule IDs for scope that the scan never
// evaluated. Such entries are usually typos or rules dropped by a newer
// axe-core release.
func UnknownRules(results *Results, scope string, whitelist *Whitelist) []string {
	seen := results.RuleIDs()
	var unknown []string
	for _, id := range whitelist.Rules(scope) {
		if _, ok := seen[id]; !ok {
			unknown = append(unknown, id)
		}
	}
	return unknown
}

// onceSet remembers (scope, rule) pairs already warned about.
type onceSet struct {
	mu   sync.Mutex
	seen map[[2]string]struct{}
}

func (s *onceSet) first(scope, rule string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[[2]string]struct{})
	}
	key := [2]string{scope, rule}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
