package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odvcencio/greenlight/pkg/errors"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parsing YAML").WithContext("path", path)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Strings and numbers win when
// non-zero; booleans and lists win only when the key appears in raw, so an
// explicit false or empty list can override a default.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Browser.Engine != "" {
		base.Browser.Engine = override.Browser.Engine
	}
	if boolFieldSet(raw, "browser", "headless") {
		base.Browser.Headless = override.Browser.Headless
	}
	if override.Browser.DefaultInteractionTimeoutMS != 0 {
		base.Browser.DefaultInteractionTimeoutMS = override.Browser.DefaultInteractionTimeoutMS
	}
	if boolFieldSet(raw, "browser", "slow_mo_ms") {
		base.Browser.SlowMoMS = override.Browser.SlowMoMS
	}
	if override.Browser.BaseURL != "" {
		base.Browser.BaseURL = override.Browser.BaseURL
	}
	if override.Browser.Viewport.Width != 0 {
		base.Browser.Viewport.Width = override.Browser.Viewport.Width
	}
	if override.Browser.Viewport.Height != 0 {
		base.Browser.Viewport.Height = override.Browser.Viewport.Height
	}

	if override.Driver.Directory != "" {
		base.Driver.Directory = override.Driver.Directory
	}
	if boolFieldSet(raw, "driver", "install") {
		base.Driver.Install = override.Driver.Install
	}
	if override.Driver.LaunchTimeoutMS != 0 {
		base.Driver.LaunchTimeoutMS = override.Driver.LaunchTimeoutMS
	}

	if boolFieldSet(raw, "video", "record") {
		base.Video.Record = override.Video.Record
	}
	if boolFieldSet(raw, "video", "record_always") {
		base.Video.RecordAlways = override.Video.RecordAlways
	}
	if boolFieldSet(raw, "trace", "record") {
		base.Trace.Record = override.Trace.Record
	}

	if boolFieldSet(raw, "a11y", "strict_mode") {
		base.A11y.StrictMode = override.A11y.StrictMode
	}
	if override.A11y.WhitelistPath != "" {
		base.A11y.WhitelistPath = override.A11y.WhitelistPath
	}
	if boolFieldSet(raw, "a11y", "tags") {
		base.A11y.Tags = append([]string{}, override.A11y.Tags...)
	}
	if override.A11y.AxeScriptURL != "" {
		base.A11y.AxeScriptURL = override.A11y.AxeScriptURL
	}

	if override.Artifacts.Root != "" {
		base.Artifacts.Root = override.Artifacts.Root
	}

	if boolFieldSet(raw, "wait", "timeout_ms") {
		base.Wait.TimeoutMS = override.Wait.TimeoutMS
	}
	if override.Wait.PollIntervalMS != 0 {
		base.Wait.PollIntervalMS = override.Wait.PollIntervalMS
	}
	if override.Retry.MaxAttempts != 0 {
		base.Retry.MaxAttempts = override.Retry.MaxAttempts
	}
	if boolFieldSet(raw, "retry", "base_delay_ms") {
		base.Retry.BaseDelayMS = override.Retry.BaseDelayMS
	}

	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		base.Logging.Format = override.Logging.Format
	}
	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}

	if override.Telemetry.MetricsAddr != "" {
		base.Telemetry.MetricsAddr = override.Telemetry.MetricsAddr
	}
	if boolFieldSet(raw, "telemetry", "tracing") {
		base.Telemetry.Tracing = override.Telemetry.Tracing
	}

	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
