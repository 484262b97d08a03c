package a11y

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Whitelist maps a scope name to the rule IDs accepted on that scope. It is
// safe for concurrent use. The zero value is an empty whitelist.
type Whitelist struct {
	mu    sync.RWMutex
	rules map[string]map[string]struct{}
}

// NewWhitelist creates an empty whitelist.
func NewWhitelist() *Whitelist {
	return &Whitelist{rules: make(map[string]map[string]struct{})}
}

// LoadWhitelist reads a scope -> [rule IDs] mapping from a JSON or YAML file.
func LoadWhitelist(path string) (*Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	return ParseWhitelist(data)
}

// ParseWhitelist decodes a scope -> [rule IDs] mapping. JSON input is
// accepted since it is valid YAML.
func ParseWhitelist(data []byte) (*Whitelist, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse whitelist: %w", err)
	}
	wl := NewWhitelist()
	for scope, ids := range raw {
		wl.Add(scope, ids...)
	}
	return wl, nil
}

// Add accepts ruleIDs on scope. Adding to a nil whitelist does nothing.
func (w *Whitelist) Add(scope string, ruleIDs ...string) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rules == nil {
		w.rules = make(map[string]map[string]struct{})
	}
	set, ok := w.rules[scope]
	if !ok {
		set = make(map[string]struct{})
		w.rules[scope] = set
	}
	for _, id := range ruleIDs {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
}

// Contains reports whether ruleID is accepted on scope. A nil whitelist
// contains nothing.
func (w *Whitelist) Contains(scope, ruleID string) bool {
	if w == nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.rules[scope][ruleID]
	return ok
}

// Rules returns the sorted rule IDs accepted on scope.
func (w *Whitelist) Rules(scope string) []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	set := w.rules[scope]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Scopes returns the sorted scope names.
func (w *Whitelist) Scopes() []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.rules))
	for scope := range w.rules {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// Clear removes every entry.
func (w *Whitelist) Clear() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules = make(map[string]map[string]struct{})
}
