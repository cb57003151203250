package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrBackendProbeFailed   = errors.New("backend probe failed")
	ErrBackendProbeMismatch = errors.New("backend probe value mismatch")
	ErrNoBackendConfigured  = errors.New("no backend credentials configured")
	ErrBackendClosed        = errors.New("backend closed")
)

var (
	ErrCacheMiss            = errors.New("cache miss")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrNamespaceUnknown     = errors.New("cache namespace unknown")
	ErrCacheEntryCorrupted  = errors.New("cache entry corrupted")
	ErrCacheOperationFailed = errors.New("cache operation failed")
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRateClassInvalid  = errors.New("rate class invalid")
)

var (
	ErrServerNotRunning     = errors.New("component not running")
	ErrServerAlreadyRunning = errors.New("component already running")
	ErrMetricsNotRunning    = errors.New("metrics manager not running")
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrLoggerTypeUnknown    = errors.New("logger type unknown")
	ErrLogFileIsEmpty       = errors.New("log file is empty")
	ErrLogFileWrongFormat   = errors.New("log file wrong format")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronIsRunning         = errors.New("cron is running")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
