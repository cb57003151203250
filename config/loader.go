package config

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-shield/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(configPath string) (config *types.ShieldConfig, err error) {
	if configPath == "" {
		return config, types.ErrConfigNotFound
	}

	if _, err = os.Stat(configPath); os.IsNotExist(err) {
		return config, types.WrapError(err, "file not found: "+configPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return config, types.WrapError(err, "failed to read config file")
	}

	config = l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, types.WrapError(err, "failed to parse YAML config")
	}

	l.resolveEnv(config)

	if err := l.validator.Struct(config); err != nil {
		return config, types.WrapError(err, "config validation failed")
	}

	return config, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

// resolveEnv overlays credentials from the environment. Env always wins over
// the file so secrets stay out of config checked into source control.
func (l *Loader) resolveEnv(config *types.ShieldConfig) {
	if config.Backend == nil {
		config.Backend = &types.BackendConfig{}
	}

	if v := os.Getenv("SAI_SHIELD_REST_URL"); v != "" {
		config.Backend.RestURL = v
	}
	if v := os.Getenv("SAI_SHIELD_REST_TOKEN"); v != "" {
		config.Backend.RestToken = v
	}
	if v := os.Getenv("SAI_SHIELD_REDIS_URL"); v != "" {
		config.Backend.URL = v
	}
	if v := os.Getenv("SAI_SHIELD_REDIS_HOST"); v != "" {
		config.Backend.Host = v
	}
	if v := os.Getenv("SAI_SHIELD_REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Backend.Port = port
		}
	}
	if v := os.Getenv("SAI_SHIELD_REDIS_PASSWORD"); v != "" {
		config.Backend.Password = v
	}
}

func (l *Loader) Defaults() *types.ShieldConfig {
	return &types.ShieldConfig{
		Logger: &types.LoggerConfig{
			Type:  "console",
			Level: "debug",
		},
		Backend: &types.BackendConfig{
			Port:               6379,
			PoolSize:           10,
			MinIdleConnections: 2,
			DialTimeout:        5 * time.Second,
			ReadTimeout:        3 * time.Second,
			WriteTimeout:       3 * time.Second,
			ProbeTimeout:       3 * time.Second,
			SweepInterval:      time.Minute,
			MaxEntries:         100000,
		},
		Cache: &types.CacheConfig{
			KeyPrefix:         "sai-shield",
			CompressThreshold: 1024,
		},
		RateLimit: &types.RateLimitConfig{
			Enabled: true,
			Auth: &types.RateClassConfig{
				Limit:  5,
				Window: time.Minute,
			},
			API: &types.RateClassConfig{
				Limit:  30,
				Window: time.Minute,
			},
			Inference: &types.RateClassConfig{
				Limit:  10,
				Window: time.Minute,
			},
			Widget: &types.RateClassConfig{
				Limit:  10,
				Window: time.Minute,
			},
		},
		Metrics: &types.MetricsConfig{
			Enabled:   true,
			Type:      "memory",
			Namespace: "sai_shield",
		},
		Health: &types.HealthConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
		Warmup: &types.WarmupConfig{
			Enabled:    false,
			Schedule:   "0 */5 * * * *",
			MaxBackoff: 5 * time.Minute,
		},
	}
}
