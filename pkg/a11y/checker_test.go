package a11y

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/browser/browsertest"
	gerrors "github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
)

// axeSession returns a fake session whose page answers the axe probes.
func axeSession(loaded bool, results map[string]any) *browsertest.Session {
	sess := browsertest.NewSession("a11y")
	sess.EvaluateFunc = func(expression string, arg any) (any, error) {
		switch expression {
		case axeLoadedJS:
			return loaded, nil
		case axeRunJS:
			return results, nil
		default:
			return nil, errors.New("unexpected expression")
		}
	}
	return sess
}

func sampleResults() map[string]any {
	return map[string]any{
		"url": "http://localhost/login",
		"violations": []any{
			map[string]any{
				"id":     "label",
				"impact": "critical",
				"nodes":  []any{map[string]any{"html": "<input>", "target": []any{"#user"}}},
			},
			map[string]any{"id": "region", "impact": "moderate"},
		},
		"passes":       []any{map[string]any{"id": "document-title", "impact": nil}},
		"incomplete":   []any{},
		"inapplicable": []any{map[string]any{"id": "video-caption"}},
	}
}

func TestScanner_InjectsAxeWhenMissing(t *testing.T) {
	sess := axeSession(false, sampleResults())
	scanner := NewScanner(browser.ScriptTag{}, nil)

	results, err := scanner.Scan(context.Background(), sess)
	require.NoError(t, err)

	require.Len(t, sess.Scripts(), 1)
	assert.Equal(t, DefaultAxeScriptURL, sess.Scripts()[0].URL)
	assert.Equal(t, DefaultTags, scanner.Tags())
	require.Len(t, results.Violations, 2)
	assert.Equal(t, "label", results.Violations[0].RuleID)
	assert.Equal(t, ImpactCritical, results.Violations[0].Impact)
	assert.Equal(t, []string{"#user"}, results.Violations[0].Nodes[0].Target)
	assert.Equal(t, Impact(""), results.Passes[0].Impact)
}

func TestScanner_SkipsInjectionWhenLoaded(t *testing.T) {
	sess := axeSession(true, sampleResults())
	_, err := NewScanner(browser.ScriptTag{Path: "/vendor/axe.min.js"}, []string{"wcag21aa"}).Scan(context.Background(), sess)
	require.NoError(t, err)
	assert.Empty(t, sess.Scripts())
}

func TestScanner_ClosedSession(t *testing.T) {
	sess := browsertest.NewSession("x")
	require.NoError(t, sess.Close(context.Background()))
	_, err := NewScanner(browser.ScriptTag{}, nil).Scan(context.Background(), sess)
	assert.ErrorIs(t, err, browser.ErrSessionClosed)
}

func TestChecker_StrictFailureWritesReport(t *testing.T) {
	layout := artifact.NewLayout(t.TempDir())
	checker := NewChecker(NewScanner(browser.ScriptTag{}, nil), CheckerOptions{
		Strict: true,
		Layout: layout,
		Now:    func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) },
	})

	report, err := checker.Check(context.Background(), axeSession(true, sampleResults()), "login")
	require.Error(t, err)
	assert.True(t, gerrors.IsAssertion(err))
	assert.Contains(t, err.Error(), "accessibility blocking issues found on login (1 critical/serious violations)")

	require.NotNil(t, report)
	assert.False(t, report.Passed)
	assert.Equal(t, []string{"label"}, report.Blocking)
	assert.Equal(t, 2, report.ViolationCount)
	assert.Equal(t, 1, report.PassCount)
	assert.Equal(t, 1, report.InapplicableCount)

	assert.Equal(t, layout.Dir(artifact.KindA11yReport), filepath.Dir(report.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(report.Path), "a11y-report-login-"))
	data, err := os.ReadFile(report.Path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, float64(2), onDisk["violationCount"])
	assert.Equal(t, false, onDisk["passed"])
}

func TestChecker_SoftFailContinues(t *testing.T) {
	checker := NewChecker(NewScanner(browser.ScriptTag{}, nil), CheckerOptions{Strict: false})

	report, err := checker.Check(context.Background(), axeSession(true, sampleResults()), "login")
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, []string{"label"}, report.Blocking)
	assert.Empty(t, report.Path, "no layout, no report file")
}

func TestChecker_WhitelistedStrictPasses(t *testing.T) {
	wl := NewWhitelist()
	wl.Add("login", "label")
	checker := NewChecker(NewScanner(browser.ScriptTag{}, nil), CheckerOptions{Strict: true, Whitelist: wl})

	report, err := checker.Check(context.Background(), axeSession(true, sampleResults()), "login")
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, []string{"label"}, report.Whitelisted)
}

func TestChecker_UnknownWhitelistRuleWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New("a11y", logging.Options{Level: slog.LevelWarn, Writer: &buf})
	wl := NewWhitelist()
	wl.Add("login", "lable")
	checker := NewChecker(NewScanner(browser.ScriptTag{}, nil), CheckerOptions{Whitelist: wl, Logger: logger})

	results := &Results{Passes: []Violation{{RuleID: "label"}}}
	for i := 0; i < 3; i++ {
		report, err := checker.Judge("login", results)
		require.NoError(t, err)
		assert.Equal(t, []string{"lable"}, report.UnknownWhitelist)
	}
	assert.Equal(t, 1, strings.Count(buf.String(), "whitelist names a rule the scan never evaluated"))
}

func TestChecker_ScanFailureIsNotAssertion(t *testing.T) {
	sess := browsertest.NewSession("x")
	sess.EvaluateFunc = func(string, any) (any, error) { return nil, errors.New("page crashed") }

	_, err := NewChecker(NewScanner(browser.ScriptTag{}, nil), CheckerOptions{}).Check(context.Background(), sess, "home")
	require.Error(t, err)
	assert.False(t, gerrors.IsAssertion(err))
	assert.True(t, gerrors.IsInfrastructure(err))
}

func TestCheckKeyboardNavigation(t *testing.T) {
	sess := browsertest.NewSession("kb")
	calls := 0
	sess.EvaluateFunc = func(expression string, _ any) (any, error) {
		calls++
		if calls < 2 {
			return "BODY", nil
		}
		return "A", nil
	}

	tag, err := CheckKeyboardNavigation(context.Background(), sess, "home", nil)
	require.NoError(t, err)
	assert.Equal(t, "A", tag)
	assert.Equal(t, []string{"Tab"}, sess.Keys())
}

func TestCheckKeyboardNavigation_NothingFocusable(t *testing.T) {
	old := FocusWait
	FocusWait.Timeout = 50 * time.Millisecond
	FocusWait.PollInterval = 10 * time.Millisecond
	defer func() { FocusWait = old }()

	sess := browsertest.NewSession("kb")
	sess.EvaluateFunc = func(string, any) (any, error) { return "BODY", nil }

	tag, err := CheckKeyboardNavigation(context.Background(), sess, "blank", nil)
	require.NoError(t, err)
	assert.Empty(t, tag)
}

func TestValidateLandmarks(t *testing.T) {
	sess := browsertest.NewSession("lm")
	sess.EvaluateFunc = func(string, any) (any, error) {
		return `<html><body><div role="main"><h1>Home</h1></div><footer>(c)</footer></body></html>`, nil
	}

	got, err := ValidateLandmarks(context.Background(), sess, "home", nil)
	require.NoError(t, err)
	assert.Equal(t, Landmarks{Main: true, ContentInfo: true}, got)
}
