package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// secretEnvVar overrides the signing secret from the environment so it can be
// kept out of the config file.
const secretEnvVar = "DONORGATE_AUTH_SECRET"

type ServerConfig struct {
	Listen string `yaml:"listen"`
	DBPath string `yaml:"db_path"`
}

type AuthConfig struct {
	Secret        string `yaml:"secret"`
	AccessTTLMin  int    `yaml:"access_ttl_m"`
	RefreshTTLHrs int    `yaml:"refresh_ttl_h"`
}

type QuotaConfig struct {
	Max     int `yaml:"max"`
	WindowS int `yaml:"window_s"`
}

type RateLimitConfig struct {
	SweepEveryS      int         `yaml:"sweep_every_s"`
	RetentionMarginS int         `yaml:"retention_margin_s"`
	Public           QuotaConfig `yaml:"public"`
	Authenticated    QuotaConfig `yaml:"authenticated"`
	Registration     QuotaConfig `yaml:"registration"`
	PasswordReset    QuotaConfig `yaml:"password_reset"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
	LogSpans    bool    `yaml:"log_spans"`
}

type RemindersConfig struct {
	Enable      bool    `yaml:"enable"`
	IntervalS   int     `yaml:"interval_s"`
	LookaheadH  int     `yaml:"lookahead_h"`
	DispatchRPS float64 `yaml:"dispatch_rps"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Reminders RemindersConfig `yaml:"reminders"`
}

// DefaultConfig returns a config with sensible defaults. The auth secret has
// no default; startup fails without one.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen: ":8080",
			DBPath: "donorgate.db",
		},
		Auth: AuthConfig{
			AccessTTLMin:  60,
			RefreshTTLHrs: 24 * 7,
		},
		RateLimit: RateLimitConfig{
			SweepEveryS:      120,
			RetentionMarginS: 600,
			Public:           QuotaConfig{Max: 100, WindowS: 60},
			Authenticated:    QuotaConfig{Max: 300, WindowS: 60},
			Registration:     QuotaConfig{Max: 5, WindowS: 3600},
			PasswordReset:    QuotaConfig{Max: 3, WindowS: 3600},
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		Reminders: RemindersConfig{
			Enable:      true,
			IntervalS:   300,
			LookaheadH:  24,
			DispatchRPS: 5,
		},
	}
}

// Load reads config from file (if present) over the defaults, then applies
// environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if secret := os.Getenv(secretEnvVar); secret != "" {
		cfg.Auth.Secret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configs that would silently weaken the admission gate.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("auth.secret is required (or set " + secretEnvVar + ")")
	}
	if c.Auth.AccessTTLMin <= 0 || c.Auth.RefreshTTLHrs <= 0 {
		return errors.New("auth token lifetimes must be positive")
	}
	for name, q := range map[string]QuotaConfig{
		"public":         c.RateLimit.Public,
		"authenticated":  c.RateLimit.Authenticated,
		"registration":   c.RateLimit.Registration,
		"password_reset": c.RateLimit.PasswordReset,
	} {
		if q.Max <= 0 || q.WindowS <= 0 {
			return fmt.Errorf("ratelimit.%s: max and window_s must be positive", name)
		}
	}
	return nil
}

func (c *Config) AccessTTL() time.Duration  { return time.Duration(c.Auth.AccessTTLMin) * time.Minute }
func (c *Config) RefreshTTL() time.Duration { return time.Duration(c.Auth.RefreshTTLHrs) * time.Hour }
