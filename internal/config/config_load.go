package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Harness: HarnessConfig{
			Enabled:  true,
			Autonomy: "normal",
			Browser: BrowserConfig{
				Enabled:          true,
				Provider:         "auto",
				HardStopPayments: true,
			},
		},
		Invoker: InvokerConfig{
			Binary: "claude",
			Family: "framed",
			Model:  "claude-sonnet-4-5",
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads settings.json from the state home, then overlays env vars.
// A missing file yields defaults, not an error.
func Load(home string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(home, "settings.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes settings.json atomically (tmp file + rename) so readers never
// observe a partial document.
func Save(home string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	path := filepath.Join(home, "settings.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename settings: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		switch strings.ToLower(os.Getenv(key)) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	envBool("TINYAGI_HARNESS_ENABLED", &c.Harness.Enabled)
	envStr("TINYAGI_HARNESS_AUTONOMY", &c.Harness.Autonomy)
	envStr("TINYAGI_INVOKER_BINARY", &c.Invoker.Binary)
	envStr("TINYAGI_INVOKER_MODEL", &c.Invoker.Model)
	envStr("TINYAGI_INVOKER_FALLBACK_MODEL", &c.Invoker.FallbackModel)
	envStr("TINYAGI_BROWSER_DEBUGGER_URL", &c.Harness.Browser.DebuggerURL)
	envBool("TINYAGI_BROWSER_ENABLED", &c.Harness.Browser.Enabled)
	envStr("TINYAGI_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	envBool("TINYAGI_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
}

// SetHarnessEnabled flips harness.enabled and persists the change.
func (c *Config) SetHarnessEnabled(home string, enabled bool) error {
	c.mu.Lock()
	c.Harness.Enabled = enabled
	c.mu.Unlock()
	return Save(home, c)
}

// SetAutonomy sets harness.autonomy and persists the change.
func (c *Config) SetAutonomy(home, level string) error {
	switch level {
	case "low", "normal", "strict":
	default:
		return fmt.Errorf("invalid autonomy level %q (want low|normal|strict)", level)
	}
	c.mu.Lock()
	c.Harness.Autonomy = level
	c.mu.Unlock()
	return Save(home, c)
}
