package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ShieldConfig
}

type ShieldConfig struct {
	Name      string           `yaml:"name" json:"name" validate:"required"`
	Version   string           `yaml:"version" json:"version" validate:"required"`
	Logger    *LoggerConfig    `yaml:"logger" json:"logger"`
	Backend   *BackendConfig   `yaml:"backend" json:"backend"`
	Cache     *CacheConfig     `yaml:"cache" json:"cache"`
	RateLimit *RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Metrics   *MetricsConfig   `yaml:"metrics" json:"metrics"`
	Health    *HealthConfig    `yaml:"health" json:"health"`
	Warmup    *WarmupConfig    `yaml:"warmup" json:"warmup"`
}

type LoggerConfig struct {
	Type  string `yaml:"type" json:"type"`
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
}

// BackendConfig carries every candidate credential set. Resolution order is
// fixed: REST key-value service, redis URL, redis host/port, in-memory.
// Empty fields simply remove the candidate from the list.
type BackendConfig struct {
	RestURL   string `yaml:"rest_url" json:"rest_url" validate:"omitempty,url"`
	RestToken string `yaml:"rest_token" json:"rest_token"`

	URL      string `yaml:"url" json:"url"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db" validate:"min=0"`

	PoolSize           int           `yaml:"pool_size" json:"pool_size" validate:"min=0"`
	MinIdleConnections int           `yaml:"min_idle_connections" json:"min_idle_connections" validate:"min=0"`
	DialTimeout        time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout        time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	MaxEntries    int           `yaml:"max_entries" json:"max_entries" validate:"min=0"`
}

type CacheConfig struct {
	KeyPrefix         string         `yaml:"key_prefix" json:"key_prefix"`
	CompressThreshold int            `yaml:"compress_threshold" json:"compress_threshold" validate:"min=0"`
	TTL               map[string]int `yaml:"ttl,omitempty" json:"ttl,omitempty"`
}

type RateLimitConfig struct {
	Enabled   bool             `yaml:"enabled" json:"enabled"`
	Auth      *RateClassConfig `yaml:"auth" json:"auth"`
	API       *RateClassConfig `yaml:"api" json:"api"`
	Inference *RateClassConfig `yaml:"inference" json:"inference"`
	Widget    *RateClassConfig `yaml:"widget" json:"widget"`
}

type RateClassConfig struct {
	Limit  int           `yaml:"limit" json:"limit" validate:"min=1"`
	Window time.Duration `yaml:"window" json:"window"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Type      string `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

type HealthConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

type WarmupConfig struct {
	Enabled    bool          `yaml:"enabled" json:"enabled"`
	Schedule   string        `yaml:"schedule" json:"schedule"`
	MaxBackoff time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
