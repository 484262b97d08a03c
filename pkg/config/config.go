package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/greenlight/pkg/a11y"
	"github.com/odvcencio/greenlight/pkg/artifact"
	"github.com/odvcencio/greenlight/pkg/browser"
	"github.com/odvcencio/greenlight/pkg/errors"
	"github.com/odvcencio/greenlight/pkg/logging"
	"github.com/odvcencio/greenlight/pkg/reliability"
)

// Config holds every greenlight setting.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Driver    DriverConfig    `yaml:"driver"`
	Video     VideoConfig     `yaml:"video"`
	Trace     TraceConfig     `yaml:"trace"`
	A11y      A11yConfig      `yaml:"a11y"`
	Artifacts ArtifactsConfig `yaml:"artifacts"`
	Wait      WaitConfig      `yaml:"wait"`
	Retry     RetryConfig     `yaml:"retry"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
}

// BrowserConfig selects and tunes the shared browser and its sessions.
type BrowserConfig struct {
	Engine                      string         `yaml:"engine"`
	Headless                    bool           `yaml:"headless"`
	DefaultInteractionTimeoutMS int            `yaml:"default_interaction_timeout_ms"`
	SlowMoMS                    int            `yaml:"slow_mo_ms"`
	BaseURL                     string         `yaml:"base_url"`
	Viewport                    ViewportConfig `yaml:"viewport"`
}

// ViewportConfig is the page size of new sessions.
type ViewportConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// DriverConfig controls the browser automation driver.
type DriverConfig struct {
	Directory       string `yaml:"directory"`
	Install         bool   `yaml:"install"`
	LaunchTimeoutMS int    `yaml:"launch_timeout_ms"`
}

// VideoConfig controls session recording.
type VideoConfig struct {
	Record       bool `yaml:"record"`
	RecordAlways bool `yaml:"record_always"`
}

// TraceConfig controls driver tracing.
type TraceConfig struct {
	Record bool `yaml:"record"`
}

// A11yConfig controls accessibility checks.
type A11yConfig struct {
	StrictMode    bool     `yaml:"strict_mode"`
	WhitelistPath string   `yaml:"whitelist_path"`
	Tags          []string `yaml:"tags"`
	AxeScriptURL  string   `yaml:"axe_script_url"`
}

// ArtifactsConfig locates diagnostic output.
type ArtifactsConfig struct {
	Root string `yaml:"root"`
}

// WaitConfig sets WaitFor defaults.
type WaitConfig struct {
	TimeoutMS      int `yaml:"timeout_ms"`
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// RetryConfig sets Retry defaults.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
}

// LoggingConfig configures structured logging. Format is json, text or auto
// (text on a terminal, json otherwise).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// TelemetryConfig enables the metrics endpoint and span export.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// StorageConfig locates the run ledger.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			Engine:                      string(browser.EngineChromium),
			Headless:                    true,
			DefaultInteractionTimeoutMS: 30000,
			Viewport:                    ViewportConfig{Width: 1280, Height: 720},
		},
		Driver: DriverConfig{
			LaunchTimeoutMS: 60000,
		},
		A11y: A11yConfig{
			Tags:         append([]string(nil), a11y.DefaultTags...),
			AxeScriptURL: a11y.DefaultAxeScriptURL,
		},
		Artifacts: ArtifactsConfig{
			Root: artifact.DefaultRoot,
		},
		Wait: WaitConfig{
			TimeoutMS:      int(reliability.DefaultWaitTimeout / time.Millisecond),
			PollIntervalMS: int(reliability.DefaultPollInterval / time.Millisecond),
		},
		Retry: RetryConfig{
			MaxAttempts: reliability.DefaultMaxAttempts,
			BaseDelayMS: int(reliability.DefaultBaseDelay / time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Dir:    filepath.Join("target", "logs"),
		},
		Storage: StorageConfig{
			Path: filepath.Join("target", "greenlight.db"),
		},
	}
}

// Load loads configuration with this precedence, lowest first: defaults,
// ~/.greenlight/config.yaml, ./.greenlight/config.yaml, the file named by
// GREENLIGHT_CONFIG, then environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".greenlight", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading user config")
		}
	}

	projectConfigPath := filepath.Join(".", ".greenlight", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading project config")
	}

	if path := strings.TrimSpace(os.Getenv("GREENLIGHT_CONFIG")); path != "" {
		if err := loadAndMerge(cfg, expandHomeDir(path)); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading "+path)
		}
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads defaults, then path, then environment overrides.
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, expandHomeDir(path)); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config from "+path)
	}

	applyEnvOverrides(cfg, configEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies GREENLIGHT_* variables. Values from
// ~/.greenlight/config.env are used when the process environment lacks them.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	getenv := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}
	boolEnv := func(key string) (bool, bool) {
		return parseBool(getenv(key))
	}

	if v := getenv("GREENLIGHT_BROWSER"); v != "" {
		cfg.Browser.Engine = v
	}
	if val, ok := boolEnv("GREENLIGHT_HEADLESS"); ok {
		cfg.Browser.Headless = val
	}
	if v := getenv("GREENLIGHT_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Browser.DefaultInteractionTimeoutMS = n
		}
	}
	if v := getenv("GREENLIGHT_BASE_URL"); v != "" {
		cfg.Browser.BaseURL = v
	}
	if val, ok := boolEnv("GREENLIGHT_VIDEO_RECORD"); ok {
		cfg.Video.Record = val
	}
	if val, ok := boolEnv("GREENLIGHT_VIDEO_RECORD_ALWAYS"); ok {
		cfg.Video.RecordAlways = val
	}
	if val, ok := boolEnv("GREENLIGHT_TRACE_RECORD"); ok {
		cfg.Trace.Record = val
	}
	if val, ok := boolEnv("GREENLIGHT_A11Y_STRICT"); ok {
		cfg.A11y.StrictMode = val
	}
	if v := getenv("GREENLIGHT_A11Y_WHITELIST"); v != "" {
		cfg.A11y.WhitelistPath = v
	}
	if v := getenv("GREENLIGHT_A11Y_TAGS"); v != "" {
		cfg.A11y.Tags = splitCommaList(v)
	}
	if v := getenv("GREENLIGHT_ARTIFACTS_DIR"); v != "" {
		cfg.Artifacts.Root = v
	}
	if v := getenv("GREENLIGHT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("GREENLIGHT_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := getenv("GREENLIGHT_METRICS_ADDR"); v != "" {
		cfg.Telemetry.MetricsAddr = v
	}
	if v := getenv("GREENLIGHT_DB"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("GREENLIGHT_DRIVER_DIR"); v != "" {
		cfg.Driver.Directory = v
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseBool(val string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
	}

	if _, err := browser.ParseEngine(c.Browser.Engine); err != nil {
		return invalid("invalid browser engine: %s (valid: chromium, firefox, webkit)", c.Browser.Engine)
	}
	if c.Browser.DefaultInteractionTimeoutMS <= 0 {
		return invalid("browser.default_interaction_timeout_ms must be > 0, got %d", c.Browser.DefaultInteractionTimeoutMS)
	}
	if c.Browser.SlowMoMS < 0 {
		return invalid("browser.slow_mo_ms must be >= 0, got %d", c.Browser.SlowMoMS)
	}
	if c.Browser.Viewport.Width < 0 || c.Browser.Viewport.Height < 0 {
		return invalid("browser.viewport must not be negative, got %dx%d", c.Browser.Viewport.Width, c.Browser.Viewport.Height)
	}
	if c.Driver.LaunchTimeoutMS < 0 {
		return invalid("driver.launch_timeout_ms must be >= 0, got %d", c.Driver.LaunchTimeoutMS)
	}
	if c.Wait.TimeoutMS < 0 {
		return invalid("wait.timeout_ms must be >= 0, got %d", c.Wait.TimeoutMS)
	}
	if c.Wait.PollIntervalMS <= 0 {
		return invalid("wait.poll_interval_ms must be > 0, got %d", c.Wait.PollIntervalMS)
	}
	if c.Retry.MaxAttempts < 1 {
		return invalid("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelayMS < 0 {
		return invalid("retry.base_delay_ms must be >= 0, got %d", c.Retry.BaseDelayMS)
	}
	if strings.TrimSpace(c.Artifacts.Root) == "" {
		return invalid("artifacts.root is required")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return invalid("invalid logging level: %s (valid: trace, debug, info, warn, error)", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text", "auto":
	default:
		return invalid("invalid logging format: %s (valid: json, text, auto)", c.Logging.Format)
	}
	if len(c.A11y.Tags) == 0 {
		return invalid("a11y.tags must name at least one rule tag")
	}
	return nil
}

// ValidationWarnings returns non-fatal problems with the configuration.
func (c *Config) ValidationWarnings() []string {
	var warnings []string

	if c.Video.RecordAlways && !c.Video.Record {
		warnings = append(warnings, "video.record_always has no effect while video.record is false")
	}
	if c.Wait.TimeoutMS > 0 && c.Wait.PollIntervalMS > c.Wait.TimeoutMS {
		warnings = append(warnings, fmt.Sprintf("wait.poll_interval_ms (%d) exceeds wait.timeout_ms (%d); conditions are evaluated at most twice", c.Wait.PollIntervalMS, c.Wait.TimeoutMS))
	}
	if addr := strings.TrimSpace(c.Telemetry.MetricsAddr); addr != "" && !isLoopbackBindAddress(addr) {
		warnings = append(warnings, fmt.Sprintf("SECURITY: telemetry.metrics_addr %s is reachable from other hosts; bind to 127.0.0.1 unless that is intended", addr))
	}
	if !c.Browser.Headless && os.Getenv("CI") != "" {
		warnings = append(warnings, "browser.headless is false on a CI runner; launching will fail without a display")
	}
	if c.A11y.WhitelistPath != "" {
		if _, err := os.Stat(ResolvePath(c.A11y.WhitelistPath)); err != nil {
			warnings = append(warnings, fmt.Sprintf("a11y.whitelist_path %s is not readable: %v", c.A11y.WhitelistPath, err))
		}
	}
	return warnings
}

// LaunchOptions converts the browser section.
func (c *Config) LaunchOptions() browser.LaunchOptions {
	engine, err := browser.ParseEngine(c.Browser.Engine)
	if err != nil {
		engine = browser.EngineChromium
	}
	return browser.LaunchOptions{
		Engine:   engine,
		Headless: c.Browser.Headless,
		SlowMo:   time.Duration(c.Browser.SlowMoMS) * time.Millisecond,
	}
}

// SessionOptions converts the browser and trace sections.
func (c *Config) SessionOptions() browser.SessionOptions {
	return browser.SessionOptions{
		BaseURL: c.Browser.BaseURL,
		Viewport: browser.Viewport{
			Width:  c.Browser.Viewport.Width,
			Height: c.Browser.Viewport.Height,
		},
		DefaultTimeout: time.Duration(c.Browser.DefaultInteractionTimeoutMS) * time.Millisecond,
		Trace:          c.Trace.Record,
	}.Normalize()
}

// WaitOptions converts the wait section.
func (c *Config) WaitOptions() reliability.WaitOptions {
	return reliability.WaitOptions{
		Timeout:      time.Duration(c.Wait.TimeoutMS) * time.Millisecond,
		PollInterval: time.Duration(c.Wait.PollIntervalMS) * time.Millisecond,
	}
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() reliability.RetryPolicy {
	return reliability.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
	}
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, ".greenlight", "config.env")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
