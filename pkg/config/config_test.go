package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/config"
	gerrors "github.com/odvcencio/greenlight/pkg/errors"
)

var envKeys = []string{
	"GREENLIGHT_CONFIG",
	"GREENLIGHT_BROWSER",
	"GREENLIGHT_HEADLESS",
	"GREENLIGHT_TIMEOUT_MS",
	"GREENLIGHT_BASE_URL",
	"GREENLIGHT_VIDEO_RECORD",
	"GREENLIGHT_VIDEO_RECORD_ALWAYS",
	"GREENLIGHT_TRACE_RECORD",
	"GREENLIGHT_A11Y_STRICT",
	"GREENLIGHT_A11Y_WHITELIST",
	"GREENLIGHT_A11Y_TAGS",
	"GREENLIGHT_ARTIFACTS_DIR",
	"GREENLIGHT_LOG_LEVEL",
	"GREENLIGHT_LOG_FORMAT",
	"GREENLIGHT_METRICS_ADDR",
	"GREENLIGHT_DB",
	"GREENLIGHT_DRIVER_DIR",
	"GREENLIGHT_PROJECT_ROOT",
	"CI",
}

// isolate points HOME at an empty directory, clears GREENLIGHT_* variables
// and moves into a fresh project directory.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range envKeys {
		t.Setenv(key, "")
	}

	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(oldWD)
	})
	if err := os.Chdir(project); err != nil {
		t.Fatalf("chdir project: %v", err)
	}
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Browser.Engine != "chromium" || !cfg.Browser.Headless {
		t.Fatalf("expected headless chromium by default, got %+v", cfg.Browser)
	}
	if cfg.Browser.DefaultInteractionTimeoutMS != 30000 {
		t.Fatalf("expected 30s interaction timeout, got %d", cfg.Browser.DefaultInteractionTimeoutMS)
	}
	if cfg.Video.Record || cfg.Video.RecordAlways || cfg.Trace.Record || cfg.A11y.StrictMode {
		t.Fatalf("recording and strict mode should be off by default: %+v", cfg)
	}
	if cfg.Artifacts.Root != "target/test-artifacts" {
		t.Fatalf("unexpected artifact root %q", cfg.Artifacts.Root)
	}
	if cfg.Wait.TimeoutMS != 5000 || cfg.Wait.PollIntervalMS != 500 {
		t.Fatalf("unexpected wait defaults: %+v", cfg.Wait)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelayMS != 100 {
		t.Fatalf("unexpected retry defaults: %+v", cfg.Retry)
	}
}

func TestLoadHierarchy(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".greenlight", "config.yaml"), `
browser:
  engine: firefox
  base_url: http://user.local
video:
  record: true
`)
	writeFile(t, filepath.Join(project, ".greenlight", "config.yaml"), `
browser:
  base_url: http://project.local
a11y:
  strict_mode: true
`)
	t.Setenv("GREENLIGHT_TIMEOUT_MS", "12000")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Browser.Engine != "firefox" {
		t.Fatalf("expected user engine override, got %s", cfg.Browser.Engine)
	}
	if cfg.Browser.BaseURL != "http://project.local" {
		t.Fatalf("expected project base url override, got %s", cfg.Browser.BaseURL)
	}
	if !cfg.Video.Record {
		t.Fatalf("expected video recording from user config")
	}
	if !cfg.A11y.StrictMode {
		t.Fatalf("expected strict mode from project config")
	}
	if cfg.Browser.DefaultInteractionTimeoutMS != 12000 {
		t.Fatalf("expected env timeout override, got %d", cfg.Browser.DefaultInteractionTimeoutMS)
	}
}

func TestLoadExplicitConfigFileWinsOverProject(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, ".greenlight", "config.yaml"), "artifacts:\n  root: project-artifacts\n")
	explicit := filepath.Join(t.TempDir(), "ci.yaml")
	writeFile(t, explicit, "artifacts:\n  root: ci-artifacts\n")
	t.Setenv("GREENLIGHT_CONFIG", explicit)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Artifacts.Root != "ci-artifacts" {
		t.Fatalf("expected explicit config to win, got %s", cfg.Artifacts.Root)
	}
}

func TestLoadMissingExplicitConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("GREENLIGHT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := config.Load(); err == nil {
		t.Fatalf("expected error for missing GREENLIGHT_CONFIG file")
	}
}

func TestLoadExplicitFalseOverridesTrueDefault(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, ".greenlight", "config.yaml"), "browser:\n  headless: false\n")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Browser.Headless {
		t.Fatalf("explicit headless: false should override the default")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, ".greenlight", "config.yaml"), "browser: [unterminated\n")

	_, err := config.Load()
	if err == nil {
		t.Fatalf("expected parse error")
	}
	if gerrors.GetCode(err) != gerrors.ErrCodeConfigLoad {
		t.Fatalf("expected CONFIG_LOAD, got %s (%v)", gerrors.GetCode(err), err)
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)

	t.Setenv("GREENLIGHT_BROWSER", "webkit")
	t.Setenv("GREENLIGHT_HEADLESS", "false")
	t.Setenv("GREENLIGHT_BASE_URL", "http://env.local")
	t.Setenv("GREENLIGHT_VIDEO_RECORD", "yes")
	t.Setenv("GREENLIGHT_VIDEO_RECORD_ALWAYS", "on")
	t.Setenv("GREENLIGHT_TRACE_RECORD", "1")
	t.Setenv("GREENLIGHT_A11Y_STRICT", "true")
	t.Setenv("GREENLIGHT_A11Y_TAGS", "wcag2a, best-practice ,")
	t.Setenv("GREENLIGHT_ARTIFACTS_DIR", "out")
	t.Setenv("GREENLIGHT_LOG_LEVEL", "debug")
	t.Setenv("GREENLIGHT_DB", "ledger.db")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	if cfg.Browser.Engine != "webkit" || cfg.Browser.Headless {
		t.Fatalf("unexpected browser config: %+v", cfg.Browser)
	}
	if cfg.Browser.BaseURL != "http://env.local" {
		t.Fatalf("unexpected base url %s", cfg.Browser.BaseURL)
	}
	if !cfg.Video.Record || !cfg.Video.RecordAlways || !cfg.Trace.Record || !cfg.A11y.StrictMode {
		t.Fatalf("boolean env overrides not applied: %+v", cfg)
	}
	if strings.Join(cfg.A11y.Tags, "|") != "wcag2a|best-practice" {
		t.Fatalf("unexpected tags %v", cfg.A11y.Tags)
	}
	if cfg.Artifacts.Root != "out" || cfg.Logging.Level != "debug" || cfg.Storage.Path != "ledger.db" {
		t.Fatalf("string env overrides not applied: %+v", cfg)
	}
}

func TestEnvBoolIgnoresGarbage(t *testing.T) {
	isolate(t)
	t.Setenv("GREENLIGHT_HEADLESS", "maybe")
	t.Setenv("GREENLIGHT_TIMEOUT_MS", "-5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if !cfg.Browser.Headless {
		t.Fatalf("unparseable bool should leave default in place")
	}
	if cfg.Browser.DefaultInteractionTimeoutMS != 30000 {
		t.Fatalf("non-positive timeout should be ignored, got %d", cfg.Browser.DefaultInteractionTimeoutMS)
	}
}

func TestConfigEnvFileFallback(t *testing.T) {
	home, _ := isolate(t)

	writeFile(t, filepath.Join(home, ".greenlight", "config.env"), `
# comment
export GREENLIGHT_BROWSER="firefox"
GREENLIGHT_ARTIFACTS_DIR=from-file
`)
	t.Setenv("GREENLIGHT_ARTIFACTS_DIR", "from-env")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Browser.Engine != "firefox" {
		t.Fatalf("expected engine from config.env, got %s", cfg.Browser.Engine)
	}
	if cfg.Artifacts.Root != "from-env" {
		t.Fatalf("process env should win over config.env, got %s", cfg.Artifacts.Root)
	}
}

func TestLoadFromPath(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "greenlight.yaml")
	writeFile(t, path, `
wait:
  timeout_ms: 0
  poll_interval_ms: 50
retry:
  max_attempts: 5
  base_delay_ms: 0
`)

	cfg, err := config.LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath returned error: %v", err)
	}
	if cfg.Wait.TimeoutMS != 0 || cfg.Wait.PollIntervalMS != 50 {
		t.Fatalf("unexpected wait config %+v", cfg.Wait)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelayMS != 0 {
		t.Fatalf("unexpected retry config %+v", cfg.Retry)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown engine", func(c *config.Config) { c.Browser.Engine = "netscape" }},
		{"zero interaction timeout", func(c *config.Config) { c.Browser.DefaultInteractionTimeoutMS = 0 }},
		{"negative slow mo", func(c *config.Config) { c.Browser.SlowMoMS = -1 }},
		{"zero poll interval", func(c *config.Config) { c.Wait.PollIntervalMS = 0 }},
		{"zero attempts", func(c *config.Config) { c.Retry.MaxAttempts = 0 }},
		{"empty artifact root", func(c *config.Config) { c.Artifacts.Root = " " }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"no tags", func(c *config.Config) { c.A11y.Tags = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if gerrors.GetCode(err) != gerrors.ErrCodeConfigInvalid {
				t.Fatalf("expected CONFIG_INVALID, got %s", gerrors.GetCode(err))
			}
		})
	}
}

func TestValidationWarnings(t *testing.T) {
	t.Setenv("CI", "")
	cfg := config.DefaultConfig()
	if warnings := cfg.ValidationWarnings(); len(warnings) != 0 {
		t.Fatalf("defaults should not warn: %v", warnings)
	}

	cfg.Video.RecordAlways = true
	cfg.Wait.TimeoutMS = 100
	cfg.Wait.PollIntervalMS = 200
	cfg.Telemetry.MetricsAddr = "0.0.0.0:9090"
	warnings := cfg.ValidationWarnings()
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %d: %v", len(warnings), warnings)
	}

	cfg = config.DefaultConfig()
	cfg.Telemetry.MetricsAddr = "127.0.0.1:9090"
	if warnings := cfg.ValidationWarnings(); len(warnings) != 0 {
		t.Fatalf("loopback metrics address should not warn: %v", warnings)
	}
}

func TestHeadedOnCIWarns(t *testing.T) {
	t.Setenv("CI", "true")
	cfg := config.DefaultConfig()
	cfg.Browser.Headless = false
	warnings := cfg.ValidationWarnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "CI") {
		t.Fatalf("expected CI warning, got %v", warnings)
	}
}

func TestConversions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Browser.Engine = "firefox"
	cfg.Browser.SlowMoMS = 250
	cfg.Browser.BaseURL = "http://app.local"
	cfg.Trace.Record = true
	cfg.Retry.BaseDelayMS = 40

	launch := cfg.LaunchOptions()
	if launch.Engine != browser.EngineFirefox || launch.SlowMo != 250*time.Millisecond || !launch.Headless {
		t.Fatalf("unexpected launch options %+v", launch)
	}

	session := cfg.SessionOptions()
	if session.BaseURL != "http://app.local" || !session.Trace || session.DefaultTimeout != 30*time.Second {
		t.Fatalf("unexpected session options %+v", session)
	}
	if session.Viewport.Width != 1280 || session.Viewport.Height != 720 {
		t.Fatalf("unexpected viewport %+v", session.Viewport)
	}

	wait := cfg.WaitOptions()
	if wait.Timeout != 5*time.Second || wait.PollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected wait options %+v", wait)
	}

	retry := cfg.RetryPolicy()
	if retry.MaxAttempts != 3 || retry.BaseDelay != 40*time.Millisecond {
		t.Fatalf("unexpected retry policy %+v", retry)
	}
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()
	t.Setenv("GREENLIGHT_PROJECT_ROOT", root)

	if got := config.ResolveProjectRoot(); got != root {
		t.Fatalf("expected %s, got %s", root, got)
	}
	if got := config.ResolvePath("a11y/whitelist.yaml"); got != filepath.Join(root, "a11y", "whitelist.yaml") {
		t.Fatalf("relative path not anchored: %s", got)
	}
	if got := config.ResolvePath("/etc/greenlight.yaml"); got != "/etc/greenlight.yaml" {
		t.Fatalf("absolute path changed: %s", got)
	}
}
