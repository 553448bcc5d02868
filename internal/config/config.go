// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Token        string        `yaml:"token"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	RateLimit    int           `yaml:"rate_limit"` // calls per rate_window; 0 disables
	RateWindow   time.Duration `yaml:"rate_window"`
}

type NotifyConfig struct {
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

type SweepConfig struct {
	Interval             time.Duration `yaml:"interval"`
	SessionCheckInterval time.Duration `yaml:"session_check_interval"`
	ReconcileInterval    time.Duration `yaml:"reconcile_interval"`
	Workers              int           `yaml:"workers"`
	KeyLowWater          int           `yaml:"key_low_water"`
}

type OpsConfig struct {
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Notify   NotifyConfig   `yaml:"notify"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Ops      OpsConfig      `yaml:"ops"`
	Security SecurityConfig `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Upstream.Timeout <= 0 {
		cfg.Upstream.Timeout = 90 * time.Second
	}
	if cfg.Upstream.PollInterval <= 0 {
		cfg.Upstream.PollInterval = 3 * time.Second
	}
	if cfg.Upstream.MaxPolls <= 0 {
		cfg.Upstream.MaxPolls = 20
	}
	if cfg.Upstream.RateWindow <= 0 {
		cfg.Upstream.RateWindow = time.Minute
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = 24 * time.Hour
	}
	if cfg.Sweep.SessionCheckInterval <= 0 {
		cfg.Sweep.SessionCheckInterval = 6 * time.Hour
	}
	if cfg.Sweep.ReconcileInterval <= 0 {
		cfg.Sweep.ReconcileInterval = time.Hour
	}
	if cfg.Sweep.Workers <= 0 {
		cfg.Sweep.Workers = 4
	}
	if cfg.Sweep.KeyLowWater <= 0 {
		cfg.Sweep.KeyLowWater = 5
	}
	if cfg.Ops.Port <= 0 {
		cfg.Ops.Port = 8090
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, errors.New("upstream.base_url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
