package ratelimit

import (
	"time"

	"github.com/saiset-co/sai-shield/types"
)

const (
	ClassAuth      = "auth"
	ClassAPI       = "api"
	ClassInference = "inference"
	ClassWidget    = "widget"
)

// DefaultClasses returns the built-in budgets: strict for auth attempts,
// tighter for quota-constrained inference, looser for general API traffic.
func DefaultClasses() map[string]types.RateClass {
	return map[string]types.RateClass{
		ClassAuth:      {Name: ClassAuth, Limit: 5, Window: time.Minute},
		ClassAPI:       {Name: ClassAPI, Limit: 30, Window: time.Minute},
		ClassInference: {Name: ClassInference, Limit: 10, Window: time.Minute},
		ClassWidget:    {Name: ClassWidget, Limit: 10, Window: time.Minute},
	}
}

// ClassesFromConfig overlays configured budgets onto the defaults. Partial
// config is fine: unnamed classes keep their defaults.
func ClassesFromConfig(config *types.RateLimitConfig) map[string]types.RateClass {
	classes := DefaultClasses()
	if config == nil {
		return classes
	}

	overlay := func(name string, rc *types.RateClassConfig) {
		if rc == nil || rc.Limit <= 0 {
			return
		}
		window := rc.Window
		if window <= 0 {
			window = time.Minute
		}
		classes[name] = types.RateClass{Name: name, Limit: rc.Limit, Window: window}
	}

	overlay(ClassAuth, config.Auth)
	overlay(ClassAPI, config.API)
	overlay(ClassInference, config.Inference)
	overlay(ClassWidget, config.Widget)

	return classes
}
