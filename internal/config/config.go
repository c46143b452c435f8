// Package config loads and validates the review engine's configuration:
// a versioned passes/limits/models/reporting/gating/path_filters schema
// with typed validation errors.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/oddessentials/odd-ai-reviewers/internal/errs"
)

// SchemaVersion is the only version this loader currently accepts.
const SchemaVersion = 1

// PassConfig names one orchestrator pass and which agent ids run in it.
type PassConfig struct {
	Name     string   `koanf:"name"`
	Agents   []string `koanf:"agents"`
	Enabled  bool     `koanf:"enabled"`
	Required bool     `koanf:"required"`
}

// LimitsConfig mirrors internal/orchestrator.Limits in wire form.
type LimitsConfig struct {
	MaxFiles          int     `koanf:"max_files"`
	MaxDiffLines      int     `koanf:"max_diff_lines"`
	MaxEstimatedTokens int    `koanf:"max_estimated_tokens"`
	PerPRUSDCap       float64 `koanf:"per_pr_usd_cap"`
	MonthlyUSDCap     float64 `koanf:"monthly_usd_cap"`
	DriftWarnPercent  float64 `koanf:"drift_warn_percent"`
	DriftFailPercent  float64 `koanf:"drift_fail_percent"`
}

// ModelsConfig carries the default model selection, overridable per agent.
type ModelsConfig struct {
	Default   string            `koanf:"default"`
	PerAgent  map[string]string `koanf:"per_agent"`
}

// ReportingPlatformConfig is the per-platform reporting toggle block.
type ReportingPlatformConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Token        string `koanf:"token"`
	GroupComments bool  `koanf:"group_comments"`
}

// ReportingConfig holds the github/ado reporting blocks.
type ReportingConfig struct {
	GitHub ReportingPlatformConfig `koanf:"github"`
	ADO    ReportingPlatformConfig `koanf:"ado"`
}

// GatingConfig controls whether a failing review blocks a check run.
type GatingConfig struct {
	FailOnError bool `koanf:"fail_on_error"`
	FailOnWarn  bool `koanf:"fail_on_warn"`
}

// Config is the full, validated configuration tree.
type Config struct {
	Version     int          `koanf:"version"`
	Passes      []PassConfig `koanf:"passes"`
	Limits      LimitsConfig `koanf:"limits"`
	Models      ModelsConfig `koanf:"models"`
	Reporting   ReportingConfig `koanf:"reporting"`
	Gating      GatingConfig `koanf:"gating"`
	PathFilters []string     `koanf:"path_filters"`
}

// migrations maps a legacy top-level key to the current schema's key, so
// unrecognized keys can be distinguished from renamed ones.
var migrations = map[string]string{
	"ai":        "models",
	"providers": "reporting",
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"version":                    SchemaVersion,
		"limits.max_files":           500,
		"limits.max_diff_lines":      20000,
		"limits.max_estimated_tokens": 200000,
		"limits.drift_warn_percent":  20.0,
		"limits.drift_fail_percent":  50.0,
		"gating.fail_on_error":       true,
		"gating.fail_on_warn":        false,
	}
}

// Load reads configPath (a TOML file) layered over schema defaults and
// the REVIEWENGINE_-prefixed environment. Returns a typed
// *errs.ConfigError on any parse/schema/value problem rather than a bare
// error.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, &errs.ConfigError{Kind: errs.ParseError, Path: configPath, Err: err}
	}

	if configPath != "" {
		if _, statErr := os.Stat(configPath); statErr != nil {
			return nil, &errs.ConfigError{Kind: errs.ParseError, Path: configPath, Err: statErr}
		}
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, &errs.ConfigError{Kind: errs.ParseError, Path: configPath, Err: err}
		}
	}

	if err := k.Load(env.Provider("REVIEWENGINE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "REVIEWENGINE_")), "_", ".")
	}), nil); err != nil {
		return nil, &errs.ConfigError{Kind: errs.ParseError, Path: "env", Err: err}
	}

	if err := checkUnrecognizedKeys(k); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, &errs.ConfigError{Kind: errs.InvalidSchema, Path: configPath, Err: err}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var knownTopLevel = map[string]bool{
	"version": true, "passes": true, "limits": true, "models": true,
	"reporting": true, "gating": true, "path_filters": true,
}

func checkUnrecognizedKeys(k *koanf.Koanf) error {
	for _, key := range k.Keys() {
		top := strings.SplitN(key, ".", 2)[0]
		if knownTopLevel[top] {
			continue
		}
		if mapped, ok := migrations[top]; ok {
			return &errs.ConfigError{
				Kind: errs.InvalidSchema,
				Path: top,
				Err:  fmt.Errorf("key %q was renamed to %q; update your config", top, mapped),
			}
		}
		return &errs.ConfigError{Kind: errs.InvalidSchema, Path: top, Err: fmt.Errorf("unrecognized config key %q", top)}
	}
	return nil
}

// Validate checks schema version and cross-field invariants that
// koanf's Unmarshal alone can't express: a PR with gating.fail_on_error
// but zero configured passes, a reporting block enabled with no token,
// or limits that leave no budget headroom at all.
func Validate(cfg *Config) error {
	if cfg.Version != SchemaVersion {
		return &errs.ConfigError{
			Kind: errs.InvalidValue,
			Path: "version",
			Err:  fmt.Errorf("unsupported config version %d, expected %d", cfg.Version, SchemaVersion),
		}
	}
	if len(cfg.Passes) == 0 {
		return &errs.ConfigError{Kind: errs.InvalidValue, Path: "passes", Err: fmt.Errorf("at least one pass must be configured")}
	}
	seen := make(map[string]bool, len(cfg.Passes))
	for _, p := range cfg.Passes {
		if p.Name == "" {
			return &errs.ConfigError{Kind: errs.InvalidValue, Path: "passes[].name", Err: fmt.Errorf("pass name must not be empty")}
		}
		if seen[p.Name] {
			return &errs.ConfigError{Kind: errs.InvalidValue, Path: "passes[].name", Err: fmt.Errorf("duplicate pass name %q", p.Name)}
		}
		seen[p.Name] = true
		if p.Enabled && len(p.Agents) == 0 {
			return &errs.ConfigError{Kind: errs.InvalidValue, Path: fmt.Sprintf("passes[%s].agents", p.Name), Err: fmt.Errorf("enabled pass %q has no agents", p.Name)}
		}
	}
	if cfg.Limits.MaxFiles <= 0 {
		return &errs.ConfigError{Kind: errs.InvalidValue, Path: "limits.max_files", Err: fmt.Errorf("max_files must be positive")}
	}
	if cfg.Limits.DriftWarnPercent < 0 || cfg.Limits.DriftFailPercent < cfg.Limits.DriftWarnPercent {
		return &errs.ConfigError{Kind: errs.InvalidValue, Path: "limits.drift_fail_percent", Err: fmt.Errorf("drift_fail_percent must be >= drift_warn_percent")}
	}
	if cfg.Models.Default == "" {
		return &errs.ConfigError{Kind: errs.InvalidValue, Path: "models.default", Err: fmt.Errorf("models.default is required")}
	}
	if cfg.Reporting.GitHub.Enabled && cfg.Reporting.GitHub.Token == "" && os.Getenv("GITHUB_TOKEN") == "" {
		return &errs.ConfigError{Kind: errs.InvalidValue, Path: "reporting.github.token", Err: fmt.Errorf("github reporting enabled but no token configured or GITHUB_TOKEN set")}
	}
	return nil
}
