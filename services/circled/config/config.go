package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen = ":8086"
	envDev        = "dev"
)

// Config captures the runtime settings for the circle lending daemon.
type Config struct {
	ListenAddress string `yaml:"listen"`
	// HealthListen optionally serves the gRPC health protocol.
	HealthListen  string          `yaml:"grpc_health_listen"`
	DataDir       string          `yaml:"data_dir"`
	ReportDir     string          `yaml:"report_dir"`
	EngineConfig  string          `yaml:"engine_config"`
	Environment   string          `yaml:"environment"`
	Log           LogConfig       `yaml:"log"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Appraisal     AppraisalConfig `yaml:"appraisal"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Stream        StreamConfig    `yaml:"stream"`
}

// LogConfig selects the log level and optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// IsDev reports whether the daemon runs in the dev environment.
func (cfg Config) IsDev() bool { return strings.EqualFold(cfg.Environment, envDev) }

// AuthConfig enables bearer token authentication of callers. When HMACSecret
// is empty the caller is taken from the X-Circle-Caller header, which is only
// permitted in the dev environment.
type AuthConfig struct {
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// Enabled reports whether bearer tokens are required.
func (cfg AuthConfig) Enabled() bool { return cfg.HMACSecret != "" }

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// AppraisalConfig selects the collateral oracle.
type AppraisalConfig struct {
	// Source is "static" or "sql".
	Source string            `yaml:"source"`
	Driver string            `yaml:"driver"`
	DSN    string            `yaml:"dsn"`
	Values map[string]string `yaml:"values"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// StreamConfig sizes the per-subscriber event buffer.
type StreamConfig struct {
	Buffer int `yaml:"buffer"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{ListenAddress: defaultListen}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.HealthListen = strings.TrimSpace(cfg.HealthListen)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	cfg.ReportDir = strings.TrimSpace(cfg.ReportDir)
	if cfg.ReportDir == "" && cfg.DataDir != "" {
		cfg.ReportDir = filepath.Join(cfg.DataDir, "reports")
	}
	cfg.EngineConfig = strings.TrimSpace(cfg.EngineConfig)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	if cfg.Environment == "" {
		cfg.Environment = strings.TrimSpace(os.Getenv("CIRCLE_ENV"))
	}
	cfg.TLS.CertPath = strings.TrimSpace(cfg.TLS.CertPath)
	cfg.TLS.KeyPath = strings.TrimSpace(cfg.TLS.KeyPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)

	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 600
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 50
	}
	cfg.Appraisal.Source = strings.ToLower(strings.TrimSpace(cfg.Appraisal.Source))
	if cfg.Appraisal.Source == "" {
		cfg.Appraisal.Source = "static"
	}
	cfg.Appraisal.Driver = strings.ToLower(strings.TrimSpace(cfg.Appraisal.Driver))
	if cfg.Appraisal.Driver == "" {
		cfg.Appraisal.Driver = "sqlite"
	}
	if cfg.Stream.Buffer <= 0 {
		cfg.Stream.Buffer = 256
	}
}

func (cfg *Config) validate() error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	hasCert := cfg.TLS.CertPath != ""
	if hasCert != (cfg.TLS.KeyPath != "") {
		return fmt.Errorf("tls: cert and key must either both be provided or both be empty")
	}
	if !hasCert && !cfg.TLS.AllowInsecure {
		return fmt.Errorf("tls: cert and key are required unless allow_insecure=true")
	}
	if !cfg.Auth.Enabled() && !cfg.IsDev() {
		return fmt.Errorf("auth: hmac_secret is required outside the dev environment")
	}
	switch cfg.Appraisal.Source {
	case "static":
		if len(cfg.Appraisal.Values) == 0 {
			return fmt.Errorf("appraisal: static source needs at least one value")
		}
	case "sql":
		if strings.TrimSpace(cfg.Appraisal.DSN) == "" {
			return fmt.Errorf("appraisal: sql source requires dsn")
		}
		if cfg.Appraisal.Driver != "sqlite" && cfg.Appraisal.Driver != "postgres" {
			return fmt.Errorf("appraisal: unsupported driver %q", cfg.Appraisal.Driver)
		}
	default:
		return fmt.Errorf("appraisal: unknown source %q", cfg.Appraisal.Source)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}
