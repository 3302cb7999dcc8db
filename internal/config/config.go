// Package config resolves, parses, and clamps the interactive-shell
// configuration file. Discovery order and tolerant-of-missing-file
// semantics follow the teacher's own config loader; the clamping logic is
// new, required by the data model's documented ranges.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// UpdateMode selects how hands-free driver updates are emitted.
type UpdateMode string

const (
	UpdateModeOnQuiet  UpdateMode = "on_quiet"
	UpdateModeInterval UpdateMode = "interval"
)

// Config is the validated, clamped configuration for one engine instance.
// Treated as immutable once loaded; per-session overrides (update interval,
// quiet threshold) are applied by the controller, not by mutating this value.
type Config struct {
	OverlayWidthPct  int `json:"overlay_width_pct"`
	OverlayHeightPct int `json:"overlay_height_pct"`
	ScrollbackLines  int `json:"scrollback_lines"`

	ExitAutoCloseDelaySeconds int  `json:"exit_auto_close_delay_seconds"`
	DoubleEscapeThresholdMs   int  `json:"double_escape_threshold_ms"`
	AnsiReemit                bool `json:"ansi_reemit"`

	HandoffPreviewEnabled   bool `json:"handoff_preview_enabled"`
	HandoffPreviewLines     int  `json:"handoff_preview_lines"`
	HandoffPreviewMaxChars  int  `json:"handoff_preview_max_chars"`
	HandoffSnapshotEnabled  bool `json:"handoff_snapshot_enabled"`
	HandoffSnapshotLines    int  `json:"handoff_snapshot_lines"`
	HandoffSnapshotMaxChars int  `json:"handoff_snapshot_max_chars"`

	HandsFreeUpdateMode        UpdateMode `json:"hands_free_update_mode"`
	HandsFreeUpdateIntervalMs  int        `json:"hands_free_update_interval_ms"`
	QuietThresholdMs           int        `json:"quiet_threshold_ms"`
	UpdateMaxChars             int        `json:"update_max_chars"`
	TotalBudgetMaxChars        int        `json:"total_budget_max_chars"`
	MinQueryIntervalSeconds    int        `json:"min_query_interval_seconds"`
}

// Default returns the configuration used when no file is found and no
// overrides are given, with every field already inside its clamp range.
func Default() Config {
	return Config{
		OverlayWidthPct:  60,
		OverlayHeightPct: 60,
		ScrollbackLines:  5000,

		ExitAutoCloseDelaySeconds: 5,
		DoubleEscapeThresholdMs:   500,
		AnsiReemit:                false,

		HandoffPreviewEnabled:   true,
		HandoffPreviewLines:     50,
		HandoffPreviewMaxChars:  8000,
		HandoffSnapshotEnabled:  false,
		HandoffSnapshotLines:    500,
		HandoffSnapshotMaxChars: 100000,

		HandsFreeUpdateMode:       UpdateModeOnQuiet,
		HandsFreeUpdateIntervalMs: 30000,
		QuietThresholdMs:          5000,
		UpdateMaxChars:            2000,
		TotalBudgetMaxChars:       100000,
		MinQueryIntervalSeconds:   10,
	}
}

// ConfigDir returns the pi agent configuration directory (~/.pi/agent).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".pi", "agent")
	}
	return filepath.Join(home, ".pi", "agent")
}

// CacheDir returns the directory handoff snapshots are written under.
func CacheDir() string {
	return filepath.Join(ConfigDir(), "cache", "interactive-shell")
}

// candidatePaths returns the preferred-order config file locations: project
// (cwd-relative) then global, per spec.md §6.
func candidatePaths(cwd string) []string {
	home, err := os.UserHomeDir()
	var global string
	if err == nil {
		global = filepath.Join(home, ".pi", "agent", "interactive-shell.json")
	}
	paths := []string{filepath.Join(cwd, ".pi", "interactive-shell.json")}
	if global != "" {
		paths = append(paths, global)
	}
	return paths
}

// Warner receives a human-readable warning when a config file fails to
// parse; the caller decides how to surface it (the engine proper uses
// internal/activitylog).
type Warner func(msg string)

// Load discovers, parses, and clamps the configuration for cwd. Absent
// files are silent; a malformed file emits a warning via warn (if non-nil)
// and contributes nothing, and Load moves on to the next candidate. The
// first candidate that parses wins; defaults apply when none does.
func Load(cwd string, warn Warner) Config {
	cfg := Default()
	for _, path := range candidatePaths(cwd) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			if warn != nil {
				warn(fmt.Sprintf("config: %s: %v", path, err))
			}
			continue
		}
		applyRaw(&cfg, raw, warn, path)
		return clamp(cfg)
	}
	return clamp(cfg)
}

// applyRaw overlays recognized keys from raw JSON onto cfg. Unknown keys
// are ignored per spec.md §6.
func applyRaw(cfg *Config, raw map[string]json.RawMessage, warn Warner, path string) {
	setInt := func(key string, dst *int) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			if warn != nil {
				warn(fmt.Sprintf("config: %s: field %q: %v", path, key, err))
			}
			return
		}
		*dst = n
	}
	setBool := func(key string, dst *bool) {
		v, ok := raw[key]
		if !ok {
			return
		}
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			if warn != nil {
				warn(fmt.Sprintf("config: %s: field %q: %v", path, key, err))
			}
			return
		}
		*dst = b
	}

	setInt("overlay_width_pct", &cfg.OverlayWidthPct)
	setInt("overlay_height_pct", &cfg.OverlayHeightPct)
	setInt("scrollback_lines", &cfg.ScrollbackLines)
	setInt("exit_auto_close_delay_seconds", &cfg.ExitAutoCloseDelaySeconds)
	setInt("double_escape_threshold_ms", &cfg.DoubleEscapeThresholdMs)
	setBool("ansi_reemit", &cfg.AnsiReemit)
	setBool("handoff_preview_enabled", &cfg.HandoffPreviewEnabled)
	setInt("handoff_preview_lines", &cfg.HandoffPreviewLines)
	setInt("handoff_preview_max_chars", &cfg.HandoffPreviewMaxChars)
	setBool("handoff_snapshot_enabled", &cfg.HandoffSnapshotEnabled)
	setInt("handoff_snapshot_lines", &cfg.HandoffSnapshotLines)
	setInt("handoff_snapshot_max_chars", &cfg.HandoffSnapshotMaxChars)
	setInt("hands_free_update_interval_ms", &cfg.HandsFreeUpdateIntervalMs)
	setInt("quiet_threshold_ms", &cfg.QuietThresholdMs)
	setInt("update_max_chars", &cfg.UpdateMaxChars)
	setInt("total_budget_max_chars", &cfg.TotalBudgetMaxChars)
	setInt("min_query_interval_seconds", &cfg.MinQueryIntervalSeconds)

	if v, ok := raw["hands_free_update_mode"]; ok {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			switch UpdateMode(s) {
			case UpdateModeOnQuiet, UpdateModeInterval:
				cfg.HandsFreeUpdateMode = UpdateMode(s)
			default:
				if warn != nil {
					warn(fmt.Sprintf("config: %s: invalid hands_free_update_mode %q", path, s))
				}
			}
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clamp applies every documented range from spec.md §3. Out-of-range values
// are silently clamped, never rejected.
func clamp(c Config) Config {
	c.OverlayWidthPct = clampInt(c.OverlayWidthPct, 10, 100)
	c.OverlayHeightPct = clampInt(c.OverlayHeightPct, 20, 90)
	c.ScrollbackLines = clampInt(c.ScrollbackLines, 200, 50000)
	c.HandsFreeUpdateIntervalMs = clampInt(c.HandsFreeUpdateIntervalMs, 5000, 300000)
	c.QuietThresholdMs = clampInt(c.QuietThresholdMs, 1000, 30000)
	c.TotalBudgetMaxChars = clampInt(c.TotalBudgetMaxChars, 10000, 1000000)
	c.MinQueryIntervalSeconds = clampInt(c.MinQueryIntervalSeconds, 5, 300)
	if c.ExitAutoCloseDelaySeconds < 0 {
		c.ExitAutoCloseDelaySeconds = 0
	}
	if c.DoubleEscapeThresholdMs < 0 {
		c.DoubleEscapeThresholdMs = 0
	}
	if c.UpdateMaxChars < 0 {
		c.UpdateMaxChars = 0
	}
	if c.HandoffPreviewLines < 0 {
		c.HandoffPreviewLines = 0
	}
	if c.HandoffPreviewMaxChars < 0 {
		c.HandoffPreviewMaxChars = 0
	}
	if c.HandoffSnapshotLines < 0 {
		c.HandoffSnapshotLines = 0
	}
	if c.HandoffSnapshotMaxChars < 0 {
		c.HandoffSnapshotMaxChars = 0
	}
	if c.HandsFreeUpdateMode == "" {
		c.HandsFreeUpdateMode = UpdateModeOnQuiet
	}
	return c
}
