// Package config loads and validates the orchestrator configuration.
// Recognized keys only: any unknown key in the config file is rejected
// rather than silently ignored, so typos fail fast instead of running a
// project with defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jcushman97/MAOFinal/internal/provider"
	"github.com/jcushman97/MAOFinal/pkg/models"
)

// Defaults applied when the config file omits a key.
const (
	// DefaultMaxAttempts is the per-task retry budget.
	DefaultMaxAttempts = 3
	// DefaultBaseTimeoutS is the unscaled CLI timeout in seconds.
	DefaultBaseTimeoutS = 90
)

// ResourceLimits configures the resource manager's dimensions. Zero
// means unlimited in that dimension.
type ResourceLimits struct {
	// TokensPerMin caps estimated tokens in any sliding 60s window.
	TokensPerMin int64 `mapstructure:"tokens_per_min"`
	// MemoryMB caps instantaneous allocated memory.
	MemoryMB float64 `mapstructure:"memory_mb"`
	// CPUPct caps instantaneous allocated CPU percentage.
	CPUPct float64 `mapstructure:"cpu_pct"`
	// ConcurrentAgents caps live agents.
	ConcurrentAgents int `mapstructure:"concurrent_agents"`
}

// Limit converts the limits to an Allocation for the resource manager.
func (r ResourceLimits) Limit() models.Allocation {
	return models.Allocation{
		Tokens:   r.TokensPerMin,
		MemoryMB: r.MemoryMB,
		CPUPct:   r.CPUPct,
		Agents:   r.ConcurrentAgents,
	}
}

// Config is the validated effective configuration.
type Config struct {
	// MaxAttempts is the per-task retry budget.
	MaxAttempts int `mapstructure:"max_attempts"`
	// BaseTimeoutS is the unscaled CLI timeout in seconds.
	BaseTimeoutS int `mapstructure:"base_timeout_s"`
	// Strategy is the analyzer grouping strategy.
	Strategy models.Strategy `mapstructure:"strategy"`
	// Mode is the orchestrator execution mode.
	Mode models.Mode `mapstructure:"mode"`
	// ResourceLimits bound parallel admission.
	ResourceLimits ResourceLimits `mapstructure:"resource_limits"`
	// ProjectsDir is where project state lives.
	ProjectsDir string `mapstructure:"projects_dir"`
	// Providers maps role names to CLI specs.
	Providers map[string]provider.Spec `mapstructure:"providers"`
}

// BaseTimeout returns the base timeout as a duration.
func (c *Config) BaseTimeout() time.Duration {
	return time.Duration(c.BaseTimeoutS) * time.Second
}

// Snapshot returns the configuration as a generic map for embedding in a
// project's config_snapshot.
func (c *Config) Snapshot() map[string]any {
	roles := make([]string, 0, len(c.Providers))
	for role := range c.Providers {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return map[string]any{
		"max_attempts":   c.MaxAttempts,
		"base_timeout_s": c.BaseTimeoutS,
		"strategy":       string(c.Strategy),
		"mode":           string(c.Mode),
		"projects_dir":   c.ProjectsDir,
		"provider_roles": roles,
		"resource_limits": map[string]any{
			"tokens_per_min":    c.ResourceLimits.TokensPerMin,
			"memory_mb":         c.ResourceLimits.MemoryMB,
			"cpu_pct":           c.ResourceLimits.CPUPct,
			"concurrent_agents": c.ResourceLimits.ConcurrentAgents,
		},
	}
}

// recognizedKeys is the closed set of acceptable config file keys.
// Nested maps are matched by prefix.
var recognizedKeys = []string{
	"max_attempts",
	"base_timeout_s",
	"strategy",
	"mode",
	"projects_dir",
	"resource_limits.tokens_per_min",
	"resource_limits.memory_mb",
	"resource_limits.cpu_pct",
	"resource_limits.concurrent_agents",
	"providers.",
}

// recognized reports whether one flattened viper key is acceptable.
func recognized(key string) bool {
	for _, k := range recognizedKeys {
		if key == k || (strings.HasSuffix(k, ".") && strings.HasPrefix(key, k)) {
			return true
		}
	}
	return false
}

// Default returns the built-in configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		MaxAttempts:  DefaultMaxAttempts,
		BaseTimeoutS: DefaultBaseTimeoutS,
		Strategy:     models.StrategyBalanced,
		Mode:         models.ModeHybrid,
		ResourceLimits: ResourceLimits{
			TokensPerMin:     10000,
			MemoryMB:         2048,
			CPUPct:           80,
			ConcurrentAgents: 8,
		},
		ProjectsDir: filepath.Join(home, ".maos", "projects"),
		Providers:   map[string]provider.Spec{},
	}
}

// Load reads configuration from the given file path (optional; "" means
// defaults only), layered with MAOS_-prefixed environment variables, and
// validates the result. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("max_attempts", cfg.MaxAttempts)
	v.SetDefault("base_timeout_s", cfg.BaseTimeoutS)
	v.SetDefault("strategy", string(cfg.Strategy))
	v.SetDefault("mode", string(cfg.Mode))
	v.SetDefault("projects_dir", cfg.ProjectsDir)
	v.SetDefault("resource_limits.tokens_per_min", cfg.ResourceLimits.TokensPerMin)
	v.SetDefault("resource_limits.memory_mb", cfg.ResourceLimits.MemoryMB)
	v.SetDefault("resource_limits.cpu_pct", cfg.ResourceLimits.CPUPct)
	v.SetDefault("resource_limits.concurrent_agents", cfg.ResourceLimits.ConcurrentAgents)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Reject unrecognized keys from the file itself (defaults and
		// env vars are ours, file keys are the user's).
		fileKeys := viper.New()
		fileKeys.SetConfigFile(path)
		if err := fileKeys.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		for _, key := range fileKeys.AllKeys() {
			if !recognized(key) {
				return nil, fmt.Errorf("unrecognized config key %q", key)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProviders reads a providers.yaml role registry and merges it over
// any providers already configured.
func (c *Config) LoadProviders(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read providers file: %w", err)
	}
	var specs map[string]provider.Spec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("decode providers file: %w", err)
	}
	if c.Providers == nil {
		c.Providers = make(map[string]provider.Spec)
	}
	for role, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", role, err)
		}
		c.Providers[role] = spec
	}
	return nil
}

// Validate checks enum values, numeric ranges and provider specs.
func (c *Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.BaseTimeoutS < 1 {
		return fmt.Errorf("base_timeout_s must be >= 1, got %d", c.BaseTimeoutS)
	}
	if !c.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.ProjectsDir == "" {
		return fmt.Errorf("projects_dir must not be empty")
	}
	for role, spec := range c.Providers {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", role, err)
		}
	}
	return nil
}
