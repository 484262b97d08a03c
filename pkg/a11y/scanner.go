package a11y

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/odvcencio/greenlight/pkg/browser"
)

// DefaultAxeScriptURL is the axe-core build injected when the page does not
// already provide one.
const DefaultAxeScriptURL = "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.10.2/axe.min.js"

// DefaultTags limits scans to WCAG 2.0 A and AA rules.
var DefaultTags = []string{"wcag2a", "wcag2aa"}

const axeLoadedJS = `() => typeof window.axe !== 'undefined'`

const axeRunJS = `async (tags) => {
  const slim = (rules) => (rules || []).map((r) => ({
    id: r.id,
    impact: r.impact,
    description: r.description,
    help: r.help,
    helpUrl: r.helpUrl,
    nodes: (r.nodes || []).map((n) => ({
      html: n.html,
      target: (n.target || []).map((t) => Array.isArray(t) ? t.join(' >>> ') : String(t)),
    })),
  }));
  const opts = tags && tags.length ? { runOnly: { type: 'tag', values: tags } } : {};
  const r = await window.axe.run(document, opts);
  return {
    url: r.url,
    violations: slim(r.violations),
    passes: slim(r.passes),
    incomplete: slim(r.incomplete),
    inapplicable: slim(r.inapplicable),
  };
}`

// Scanner runs axe-core inside a browser session.
type Scanner struct {
	script browser.ScriptTag
	tags   []string
}

// NewScanner creates a scanner that injects script when axe is missing.
// Empty arguments fall back to DefaultAxeScriptURL and DefaultTags.
func NewScanner(script browser.ScriptTag, tags []string) *Scanner {
	if script == (browser.ScriptTag{}) {
		script = browser.ScriptTag{URL: DefaultAxeScriptURL}
	}
	if len(tags) == 0 {
		tags = DefaultTags
	}
	return &Scanner{script: script, tags: append([]string(nil), tags...)}
}

// Tags returns the rule tags the scanner runs.
func (s *Scanner) Tags() []string {
	return append([]string(nil), s.tags...)
}

// Scan analyzes the current page of sess.
func (s *Scanner) Scan(ctx context.Context, sess browser.Session) (*Results, error) {
	if sess == nil || sess.Closed() {
		return nil, browser.ErrSessionClosed
	}
	loaded, err := sess.Evaluate(ctx, axeLoadedJS, nil)
	if err != nil {
		return nil, fmt.Errorf("probe axe-core: %w", err)
	}
	if ok, _ := loaded.(bool); !ok {
		if err := sess.InjectScript(ctx, s.script); err != nil {
			return nil, fmt.Errorf("inject axe-core: %w", err)
		}
	}
	raw, err := sess.Evaluate(ctx, axeRunJS, s.tags)
	if err != nil {
		return nil, fmt.Errorf("run axe-core: %w", err)
	}
	return decodeResults(raw)
}

// decodeResults converts the driver's generic JSON value into Results.
func decodeResults(raw any) (*Results, error) {
	if raw == nil {
		return nil, fmt.Errorf("axe-core returned no results")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode axe results: %w", err)
	}
	var results Results
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("decode axe results: %w", err)
	}
	return &results, nil
}
