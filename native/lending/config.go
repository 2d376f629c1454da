package lending

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config captures the runtime configuration for the circle lending module.
type Config struct {
	MaxLTVBps       uint64       `toml:"MaxLTVBps"`
	BaseRateBps     uint64       `toml:"BaseRateBps"`
	SlopeBps        uint64       `toml:"SlopeBps"`
	MaxRateBps      uint64       `toml:"MaxRateBps"`
	MinMembers      int          `toml:"MinMembers"`
	MaxMembers      int          `toml:"MaxMembers"`
	MaxCycleLength  int64        `toml:"MaxCycleLength"`
	OracleTimeoutMs uint64       `toml:"OracleTimeoutMs"`
	Pauses          ActionPauses `toml:"pauses"`
}

const (
	defaultMaxLTVBps       = 8_000
	defaultMinMembers      = 3
	defaultMaxMembers      = 4
	defaultMaxCycleLength  = SecondsPerYear
	defaultOracleTimeoutMs = 3_000
)

// DefaultConfig returns the production parameters: 80% LTV, a 5%–50% rate
// curve and circles of three or four members.
func DefaultConfig() Config {
	return Config{
		MaxLTVBps:       defaultMaxLTVBps,
		BaseRateBps:     DefaultInterestRateModel.BaseRateBps,
		SlopeBps:        DefaultInterestRateModel.SlopeBps,
		MaxRateBps:      DefaultInterestRateModel.MaxRateBps,
		MinMembers:      defaultMinMembers,
		MaxMembers:      defaultMaxMembers,
		MaxCycleLength:  defaultMaxCycleLength,
		OracleTimeoutMs: defaultOracleTimeoutMs,
	}
}

// LoadConfig decodes a TOML parameter file on top of DefaultConfig. Unknown
// keys are rejected so typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode lending config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return Config{}, fmt.Errorf("lending config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	cfg.EnsureDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnsureDefaults fills zero values that have no meaningful zero setting.
func (c *Config) EnsureDefaults() {
	if c.MaxLTVBps == 0 {
		c.MaxLTVBps = defaultMaxLTVBps
	}
	if c.MaxRateBps == 0 {
		c.MaxRateBps = DefaultInterestRateModel.MaxRateBps
	}
	if c.MinMembers == 0 {
		c.MinMembers = defaultMinMembers
	}
	if c.MaxMembers == 0 {
		c.MaxMembers = defaultMaxMembers
	}
	if c.MaxCycleLength == 0 {
		c.MaxCycleLength = defaultMaxCycleLength
	}
	if c.OracleTimeoutMs == 0 {
		c.OracleTimeoutMs = defaultOracleTimeoutMs
	}
}

// Validate checks the parameters for internal consistency.
func (c Config) Validate() error {
	if c.MaxLTVBps == 0 || c.MaxLTVBps > 10_000 {
		return fmt.Errorf("lending config: MaxLTVBps must be within (0, 10000], got %d", c.MaxLTVBps)
	}
	if err := c.InterestModel().Validate(); err != nil {
		return fmt.Errorf("lending config: %w", err)
	}
	if c.MinMembers < 2 {
		return fmt.Errorf("lending config: MinMembers must be at least 2, got %d", c.MinMembers)
	}
	if c.MaxMembers < c.MinMembers {
		return fmt.Errorf("lending config: MaxMembers %d below MinMembers %d", c.MaxMembers, c.MinMembers)
	}
	if c.MaxCycleLength <= 0 {
		return fmt.Errorf("lending config: MaxCycleLength must be positive, got %d", c.MaxCycleLength)
	}
	return nil
}

// InterestModel returns the rate curve described by the configuration.
func (c Config) InterestModel() InterestRateModel {
	return InterestRateModel{
		BaseRateBps: c.BaseRateBps,
		SlopeBps:    c.SlopeBps,
		MaxRateBps:  c.MaxRateBps,
	}
}

// OracleTimeout returns the deadline applied to collateral valuations.
func (c Config) OracleTimeout() time.Duration {
	if c.OracleTimeoutMs == 0 {
		return defaultOracleTimeoutMs * time.Millisecond
	}
	return time.Duration(c.OracleTimeoutMs) * time.Millisecond
}
