package a11y

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var r1 = Violation{RuleID: "r1", Impact: ImpactCritical}

func TestEvaluate_StrictEmptyWhitelistFails(t *testing.T) {
	v := Evaluate([]Violation{r1}, "scope", NewWhitelist(), true)
	assert.False(t, v.Passed)
	assert.Equal(t, []string{"r1"}, v.BlockingIDs())
}

func TestEvaluate_WhitelistedPasses(t *testing.T) {
	wl := NewWhitelist()
	wl.Add("scope", "r1")

	v := Evaluate([]Violation{r1}, "scope", wl, true)
	assert.True(t, v.Passed)
	assert.Empty(t, v.Blocking)
	require.Len(t, v.Whitelisted, 1)
	assert.Equal(t, "r1", v.Whitelisted[0].RuleID)
}

func TestEvaluate_SoftFailReportsBlocking(t *testing.T) {
	v := Evaluate([]Violation{r1}, "scope", NewWhitelist(), false)
	assert.True(t, v.Passed)
	assert.Equal(t, []string{"r1"}, v.BlockingIDs())
}

func TestEvaluate_WhitelistIsPerScope(t *testing.T) {
	wl := NewWhitelist()
	wl.Add("checkout", "r1")

	v := Evaluate([]Violation{r1}, "login", wl, true)
	assert.False(t, v.Passed)
}

func TestEvaluate_MinorAndModerateNeverBlock(t *testing.T) {
	v := Evaluate([]Violation{
		{RuleID: "a", Impact: ImpactMinor},
		{RuleID: "b", Impact: ImpactModerate},
		{RuleID: "c"},
		{RuleID: "d", Impact: "SERIOUS"},
	}, "scope", nil, true)
	assert.Equal(t, []string{"d"}, v.BlockingIDs())
	assert.False(t, v.Passed)
}

func TestEvaluate_PolicyProperty(t *testing.T) {
	impacts := []Impact{ImpactMinor, ImpactModerate, ImpactSerious, ImpactCritical, ""}
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 12).Draw(rt, "n")
		strict := rapid.Bool().Draw(rt, "strict")
		wl := NewWhitelist()
		var violations []Violation
		for i := 0; i < n; i++ {
			id := rapid.SampledFrom([]string{"r1", "r2", "r3", "r4"}).Draw(rt, "id")
			violations = append(violations, Violation{RuleID: id, Impact: rapid.SampledFrom(impacts).Draw(rt, "impact")})
			if rapid.Bool().Draw(rt, "whitelist") {
				wl.Add("scope", id)
			}
		}

		v := Evaluate(violations, "scope", wl, strict)

		if v.Passed != !(strict && len(v.Blocking) > 0) {
			rt.Fatalf("passed=%v strict=%v blocking=%d", v.Passed, strict, len(v.Blocking))
		}
		for _, b := range v.Blocking {
			if !b.Impact.Failing() || wl.Contains("scope", b.RuleID) {
				rt.Fatalf("%+v should not block", b)
			}
		}
		for _, w := range v.Whitelisted {
			if !wl.Contains("scope", w.RuleID) {
				rt.Fatalf("%+v is not whitelisted", w)
			}
		}
	})
}

func TestUnknownRules(t *testing.T) {
	wl := NewWhitelist()
	wl.Add("home", "color-contrast", "colour-contrast", "region")

	results := &Results{
		Violations:   []Violation{{RuleID: "color-contrast", Impact: ImpactSerious}},
		Inapplicable: []Violation{{RuleID: "region"}},
	}
	assert.Equal(t, []string{"colour-contrast"}, UnknownRules(results, "home", wl))
	assert.Empty(t, UnknownRules(results, "other", wl))
}

func TestParseWhitelist_JSONAndYAML(t *testing.T) {
	fromJSON, err := ParseWhitelist([]byte(`{"login": ["color-contrast", "label"], "home": []}`))
	require.NoError(t, err)
	assert.True(t, fromJSON.Contains("login", "label"))
	assert.Equal(t, []string{"home", "login"}, fromJSON.Scopes())

	fromYAML, err := ParseWhitelist([]byte("checkout:\n  - region\n  - ' landmark-one-main '\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"landmark-one-main", "region"}, fromYAML.Rules("checkout"))

	_, err = ParseWhitelist([]byte(`["not", "a", "map"]`))
	assert.Error(t, err)
}

func TestLoadWhitelist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whitelist.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"login": ["label"]}`), 0o644))

	wl, err := LoadWhitelist(path)
	require.NoError(t, err)
	assert.True(t, wl.Contains("login", "label"))

	_, err = LoadWhitelist(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	wl.Clear()
	assert.Empty(t, wl.Scopes())
}

func TestWhitelist_ZeroValueAndNil(t *testing.T) {
	var wl Whitelist
	wl.Add("home", "color-contrast")
	assert.True(t, wl.Contains("home", "color-contrast"))
	assert.Equal(t, []string{"home"}, wl.Scopes())

	var cleared Whitelist
	cleared.Clear()
	cleared.Add("home", "label")
	assert.True(t, cleared.Contains("home", "label"))

	var missing *Whitelist
	assert.NotPanics(t, func() {
		missing.Add("home", "label")
		missing.Clear()
	})
	assert.False(t, missing.Contains("home", "label"))
}
