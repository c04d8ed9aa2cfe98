// Package config loads and validates the autoscaler configuration: global
// loop settings plus per-tier scaling policies. The configuration is read
// once at startup; validation failures here are the only fatal errors in
// the process.
package config

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// GlobalDefaultsKey is the tiers-map entry holding defaults that every
	// tier policy inherits before applying its own overrides.
	GlobalDefaultsKey = "default"

	// DefaultPollInterval is the control loop tick interval when unset.
	DefaultPollInterval = 60 * time.Second

	// DefaultCooldown is the per-tier cooldown when a tier does not set one.
	DefaultCooldown = 30 * time.Minute

	// DefaultOperationTimeout bounds how long a submitted operation may stay
	// pending before it is treated as failed and the tier is released.
	DefaultOperationTimeout = 45 * time.Minute

	// DefaultUnreachableFraction is the safety fraction: once the
	// unreachable share of a tier's snapshot reaches it, the tier is
	// skipped for the cycle (3 of 10 unreachable skips at 0.30).
	DefaultUnreachableFraction = 0.30

	// DefaultMinPerZone is the floor below which decommission selection will
	// never take a zone.
	DefaultMinPerZone = 1
)

// TierPolicy is the scaling policy for a single tier. Thresholds are disk
// used percentages in [0, 100].
type TierPolicy struct {
	// Tier is the tier name (e.g., "hot"). Filled from the map key.
	Tier string `yaml:"tier,omitempty"`

	// NodePrefix is the node id prefix for this tier ("hot" -> hot-1,
	// hot-2, ...). Defaults to the tier name.
	NodePrefix string `yaml:"nodePrefix,omitempty"`

	// DownThreshold: nodes below this disk usage count toward downscaling.
	DownThreshold float64 `yaml:"downThreshold,omitempty"`

	// BelowCountThreshold: downscale when at least this many nodes are
	// below DownThreshold.
	BelowCountThreshold int `yaml:"belowCountThreshold,omitempty"`

	// DecommissionCount: maximum nodes removed per cycle.
	DecommissionCount int `yaml:"decommissionCount,omitempty"`

	// UpThreshold: nodes below this disk usage still have headroom.
	UpThreshold float64 `yaml:"upThreshold,omitempty"`

	// BelowUpCheckThreshold: upscale when fewer than this many nodes have
	// headroom.
	BelowUpCheckThreshold int `yaml:"belowUpCheckThreshold,omitempty"`

	// ProvisionCount: nodes added per upscale action.
	ProvisionCount int `yaml:"provisionCount,omitempty"`

	// Cooldown is the minimum time between completed actions on this tier,
	// as a duration string (e.g., "30m"). Empty inherits the global default.
	Cooldown string `yaml:"cooldown,omitempty"`

	// Zones is the ordered list of availability zones the tier spans.
	Zones []string `yaml:"zones,omitempty"`

	// MinPerZone is the per-zone node floor honored by decommission
	// selection. Zero inherits DefaultMinPerZone.
	MinPerZone int `yaml:"minPerZone,omitempty"`
}

// CooldownDuration returns the parsed cooldown, falling back to def when the
// tier does not set one.
func (p TierPolicy) CooldownDuration(def time.Duration) time.Duration {
	if p.Cooldown == "" {
		return def
	}
	d, err := time.ParseDuration(p.Cooldown)
	if err != nil {
		return def
	}
	return d
}

// Validate checks threshold and zone sanity for a fully merged policy.
func (p TierPolicy) Validate() error {
	if p.Tier == "" {
		return fmt.Errorf("tier name must not be empty")
	}
	if p.DownThreshold < 0 || p.DownThreshold > 100 {
		return fmt.Errorf("downThreshold must be between 0 and 100, got %.1f", p.DownThreshold)
	}
	if p.UpThreshold < 0 || p.UpThreshold > 100 {
		return fmt.Errorf("upThreshold must be between 0 and 100, got %.1f", p.UpThreshold)
	}
	if p.DownThreshold > p.UpThreshold {
		return fmt.Errorf("downThreshold (%.1f) must not exceed upThreshold (%.1f)", p.DownThreshold, p.UpThreshold)
	}
	if p.BelowCountThreshold < 0 {
		return fmt.Errorf("belowCountThreshold must be >= 0, got %d", p.BelowCountThreshold)
	}
	if p.BelowUpCheckThreshold < 0 {
		return fmt.Errorf("belowUpCheckThreshold must be >= 0, got %d", p.BelowUpCheckThreshold)
	}
	if p.DecommissionCount < 0 {
		return fmt.Errorf("decommissionCount must be >= 0, got %d", p.DecommissionCount)
	}
	if p.ProvisionCount <= 0 {
		return fmt.Errorf("provisionCount must be > 0, got %d", p.ProvisionCount)
	}
	if len(p.Zones) == 0 {
		return fmt.Errorf("tier %q must list at least one zone", p.Tier)
	}
	seen := make(map[string]bool, len(p.Zones))
	for _, z := range p.Zones {
		if z == "" {
			return fmt.Errorf("tier %q has an empty zone name", p.Tier)
		}
		if seen[z] {
			return fmt.Errorf("tier %q lists zone %q twice", p.Tier, z)
		}
		seen[z] = true
	}
	if p.MinPerZone < 0 {
		return fmt.Errorf("minPerZone must be >= 0, got %d", p.MinPerZone)
	}
	if p.Cooldown != "" {
		if _, err := time.ParseDuration(p.Cooldown); err != nil {
			return fmt.Errorf("invalid cooldown: %w", err)
		}
	}
	return nil
}

// PrometheusConfig configures the Prometheus-backed node source.
type PrometheusConfig struct {
	// URL of the Prometheus API, e.g. "http://prometheus:9090".
	URL string `yaml:"url,omitempty"`

	// DiskUsageQuery is an optional PromQL template overriding the default
	// disk usage query. The literal $TIER is replaced with the tier name;
	// the query must yield one sample per node with "node" and "zone"
	// labels.
	DiskUsageQuery string `yaml:"diskUsageQuery,omitempty"`

	// MembershipQuery optionally overrides the default per-tier membership
	// query (same $TIER substitution and label rules; value 0 means
	// unreachable).
	MembershipQuery string `yaml:"membershipQuery,omitempty"`
}

// ClusterAPIConfig configures the storage-cluster HTTP node source.
type ClusterAPIConfig struct {
	// URL is the base URL of the cluster's allocation API.
	URL string `yaml:"url,omitempty"`
}

// ExecutorConfig configures the external job runner client.
type ExecutorConfig struct {
	// URL is the base URL of the job runner API.
	URL string `yaml:"url,omitempty"`

	// Parameters are passed verbatim with every job submission (e.g.,
	// credentials profile name, playbook selection).
	Parameters map[string]string `yaml:"parameters,omitempty"`
}

// HealthConfig configures the optional node health confirmation collaborator.
type HealthConfig struct {
	// URL is the base URL of the health endpoint. Empty disables health
	// confirmation: newly provisioned nodes are immediately eligible.
	URL string `yaml:"url,omitempty"`
}

// Config is the full autoscaler configuration.
type Config struct {
	// PollInterval is the control loop tick interval, as a duration string.
	PollInterval string `yaml:"pollInterval,omitempty"`

	// DefaultCooldown applies to tiers that do not set their own cooldown.
	DefaultCooldown string `yaml:"defaultCooldown,omitempty"`

	// OperationTimeout bounds pending operations, as a duration string.
	OperationTimeout string `yaml:"operationTimeout,omitempty"`

	// CallTimeout bounds individual metrics/executor calls.
	CallTimeout string `yaml:"callTimeout,omitempty"`

	// DryRun logs decisions without submitting jobs.
	DryRun bool `yaml:"dryRun,omitempty"`

	// UnreachableFraction is the per-tier skip threshold (0..1).
	UnreachableFraction float64 `yaml:"unreachableFraction,omitempty"`

	// MetricsAddr is the listen address for the /metrics endpoint.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`

	Prometheus PrometheusConfig `yaml:"prometheus,omitempty"`
	ClusterAPI ClusterAPIConfig `yaml:"clusterAPI,omitempty"`
	Executor   ExecutorConfig   `yaml:"executor,omitempty"`
	Health     HealthConfig     `yaml:"health,omitempty"`

	// Tiers maps tier name to its policy. The "default" entry holds values
	// inherited by every tier.
	Tiers map[string]TierPolicy `yaml:"tiers"`
}

// Load reads and parses the YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides layers viper-provided flag/env values over the file
// configuration. Only keys the caller actually set are applied.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if v.IsSet("dry-run") {
		c.DryRun = v.GetBool("dry-run")
	}
	if v.IsSet("metrics-addr") {
		c.MetricsAddr = v.GetString("metrics-addr")
	}
	if v.IsSet("poll-interval") {
		c.PollInterval = v.GetString("poll-interval")
	}
}

// PollIntervalDuration returns the parsed poll interval or the default.
func (c *Config) PollIntervalDuration() time.Duration {
	return parseOrDefault(c.PollInterval, DefaultPollInterval)
}

// DefaultCooldownDuration returns the parsed global cooldown or the default.
func (c *Config) DefaultCooldownDuration() time.Duration {
	return parseOrDefault(c.DefaultCooldown, DefaultCooldown)
}

// OperationTimeoutDuration returns the parsed operation timeout or the default.
func (c *Config) OperationTimeoutDuration() time.Duration {
	return parseOrDefault(c.OperationTimeout, DefaultOperationTimeout)
}

// CallTimeoutDuration returns the parsed per-call timeout. The default keeps
// a stalled collector or executor call well inside one poll interval.
func (c *Config) CallTimeoutDuration() time.Duration {
	return parseOrDefault(c.CallTimeout, 15*time.Second)
}

// SafetyFraction returns the unreachable-node skip fraction.
func (c *Config) SafetyFraction() float64 {
	if c.UnreachableFraction <= 0 {
		return DefaultUnreachableFraction
	}
	return c.UnreachableFraction
}

func parseOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// TierPolicies returns the merged, validated per-tier policies in sorted
// tier order. Each tier inherits unset fields from the "default" entry.
func (c *Config) TierPolicies() ([]TierPolicy, error) {
	defaults := c.Tiers[GlobalDefaultsKey]

	names := make([]string, 0, len(c.Tiers))
	for name := range c.Tiers {
		if name == GlobalDefaultsKey {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no tiers configured")
	}
	sort.Strings(names)

	out := make([]TierPolicy, 0, len(names))
	for _, name := range names {
		p := mergePolicy(defaults, c.Tiers[name])
		p.Tier = name
		if p.NodePrefix == "" {
			p.NodePrefix = name
		}
		if p.MinPerZone == 0 {
			p.MinPerZone = DefaultMinPerZone
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("tier %q: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// mergePolicy overlays tier-specific values on the defaults entry. Zero
// values inherit; this mirrors how per-model overrides merge elsewhere in
// the config.
func mergePolicy(defaults, tier TierPolicy) TierPolicy {
	result := defaults
	if tier.NodePrefix != "" {
		result.NodePrefix = tier.NodePrefix
	}
	if tier.DownThreshold != 0 {
		result.DownThreshold = tier.DownThreshold
	}
	if tier.BelowCountThreshold != 0 {
		result.BelowCountThreshold = tier.BelowCountThreshold
	}
	if tier.DecommissionCount != 0 {
		result.DecommissionCount = tier.DecommissionCount
	}
	if tier.UpThreshold != 0 {
		result.UpThreshold = tier.UpThreshold
	}
	if tier.BelowUpCheckThreshold != 0 {
		result.BelowUpCheckThreshold = tier.BelowUpCheckThreshold
	}
	if tier.ProvisionCount != 0 {
		result.ProvisionCount = tier.ProvisionCount
	}
	if tier.Cooldown != "" {
		result.Cooldown = tier.Cooldown
	}
	if len(tier.Zones) != 0 {
		result.Zones = tier.Zones
	}
	if tier.MinPerZone != 0 {
		result.MinPerZone = tier.MinPerZone
	}
	return result
}

// Validate checks the global configuration. Tier policies are validated by
// TierPolicies.
func (c *Config) Validate() error {
	if c.UnreachableFraction < 0 || c.UnreachableFraction > 1 {
		return fmt.Errorf("unreachableFraction must be between 0 and 1, got %.2f", c.UnreachableFraction)
	}
	for field, s := range map[string]string{
		"pollInterval":     c.PollInterval,
		"defaultCooldown":  c.DefaultCooldown,
		"operationTimeout": c.OperationTimeout,
		"callTimeout":      c.CallTimeout,
	} {
		if s == "" {
			continue
		}
		if _, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("invalid %s: %w", field, err)
		}
	}
	if c.Prometheus.URL == "" && c.ClusterAPI.URL == "" {
		return fmt.Errorf("one of prometheus.url or clusterAPI.url must be set")
	}
	if !c.DryRun && c.Executor.URL == "" {
		return fmt.Errorf("executor.url must be set unless dryRun is enabled")
	}
	if _, err := c.TierPolicies(); err != nil {
		return err
	}
	return nil
}
