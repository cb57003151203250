// Package saishield assembles the caching and rate-limiting layer: a
// resolved storage backend, the namespaced cache client with its retrieval
// facades, the class-based rate limiter, and the supporting managers for
// metrics, health, and scheduled maintenance.
package saishield

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-shield/backend"
	"github.com/saiset-co/sai-shield/cache"
	"github.com/saiset-co/sai-shield/config"
	"github.com/saiset-co/sai-shield/cron"
	"github.com/saiset-co/sai-shield/health"
	"github.com/saiset-co/sai-shield/logger"
	"github.com/saiset-co/sai-shield/metrics"
	"github.com/saiset-co/sai-shield/ragcache"
	"github.com/saiset-co/sai-shield/ratelimit"
	"github.com/saiset-co/sai-shield/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	configManager   types.ConfigManager
	logger          types.Logger
	metricsManager  types.MetricsManager
	healthManager   *health.Manager
	factory         *backend.Factory
	cacheClient     *cache.Client
	caches          *ragcache.Caches
	limiter         *ratelimit.Limiter
	classes         map[string]types.RateClass
	scheduler       *cron.Scheduler
	state           atomic.Value
	shutdownTimeout time.Duration
}

// New builds a service from a YAML config file.
func New(ctx context.Context, configPath string) (*Service, error) {
	configManager, err := config.NewConfigurationManager(ctx, configPath)
	if err != nil {
		return nil, err
	}

	return build(ctx, configManager)
}

// NewWithConfig builds a service from an assembled config. Used by tests and
// embedders.
func NewWithConfig(ctx context.Context, cfg *types.ShieldConfig) (*Service, error) {
	return build(ctx, config.NewFromConfig(ctx, cfg))
}

func build(ctx context.Context, configManager types.ConfigManager) (*Service, error) {
	cfg := configManager.GetConfig()

	log, err := logger.NewDefaultLogger(cfg.Logger)
	if err != nil {
		return nil, types.WrapError(err, "failed to create logger")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	metricsConfig := cfg.Metrics
	if metricsConfig == nil {
		metricsConfig = &types.MetricsConfig{Enabled: true, Type: "memory"}
	}

	// Disabled metrics stay disabled: every consumer treats a nil manager
	// as a no-op sink.
	var metricsManager types.MetricsManager
	if metricsConfig.Enabled {
		if metricsConfig.Type == "" {
			metricsConfig.Type = "memory"
		}

		metricsManager, err = metrics.NewManager(serviceCtx, log, metricsConfig)
		if err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to create metrics manager")
		}
	}

	healthManager, err := health.NewManager(serviceCtx, configManager, log)
	if err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to create health manager")
	}

	factory := backend.NewFactory(log, metricsManager, cfg.Backend)
	cacheClient := cache.NewClient(factory, log, metricsManager, cfg.Cache)
	caches := ragcache.NewCaches(cacheClient, log)
	limiter := ratelimit.NewLimiter(factory, log, metricsManager, cfg.RateLimit)
	scheduler := cron.NewScheduler(serviceCtx, log, metricsManager)

	s := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configManager:   configManager,
		logger:          log,
		metricsManager:  metricsManager,
		healthManager:   healthManager,
		factory:         factory,
		cacheClient:     cacheClient,
		caches:          caches,
		limiter:         limiter,
		classes:         ratelimit.ClassesFromConfig(cfg.RateLimit),
		scheduler:       scheduler,
		shutdownTimeout: 10 * time.Second,
	}

	s.state.Store(StateStopped)

	healthManager.RegisterChecker("backend", factory.HealthChecker())

	if err := s.registerJobs(cfg); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register scheduled jobs")
	}

	return s, nil
}

func (s *Service) registerJobs(cfg *types.ShieldConfig) error {
	if cfg.Warmup != nil && cfg.Warmup.Enabled {
		keepWarm := cron.NewKeepWarm(s.factory, s.logger, s.metricsManager, cfg.Warmup)
		schedule := cfg.Warmup.Schedule
		if schedule == "" {
			schedule = "0 */5 * * * *"
		}

		if err := s.scheduler.Add("keep-warm", schedule, func() {
			keepWarm.Run(s.ctx)
		}); err != nil {
			return err
		}
	}

	return s.scheduler.Add("cache-stats", "0 0 * * * *", func() {
		s.caches.ReportStats(s.ctx, s.logger)
	})
}

func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	starters := []types.LifecycleManager{
		s.healthManager,
		s.scheduler,
	}
	if s.metricsManager != nil {
		starters = append([]types.LifecycleManager{s.metricsManager}, starters...)
	}

	for _, manager := range starters {
		if err := manager.Start(); err != nil {
			s.setState(StateStopped)
			return types.WrapError(err, "failed to start component")
		}
	}

	// Resolve eagerly so the first user request does not pay the probe.
	resolved := s.factory.Acquire(s.ctx)

	s.logger.Info("Shield started",
		zap.String("name", s.configManager.GetConfig().Name),
		zap.String("backend", resolved.Name()),
		zap.Bool("distributed", resolved.Distributed()))

	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		s.setState(StateStopped)
		s.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	stoppers := []types.LifecycleManager{
		s.scheduler,
		s.healthManager,
	}
	if s.metricsManager != nil {
		stoppers = append(stoppers, s.metricsManager)
	}

	for _, manager := range stoppers {
		manager := manager
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				return manager.Stop()
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown timeout, some components may not have stopped gracefully")
		default:
			s.logger.Error("Error during shutdown", zap.Error(err))
		}
	}

	s.factory.Reset()

	s.logger.Info("Shield stopped")

	return nil
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) Config() types.ConfigManager {
	return s.configManager
}

func (s *Service) Metrics() types.MetricsManager {
	return s.metricsManager
}

func (s *Service) Health() *health.Manager {
	return s.healthManager
}

func (s *Service) Cache() *cache.Client {
	return s.cacheClient
}

func (s *Service) Caches() *ragcache.Caches {
	return s.caches
}

func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

func (s *Service) Scheduler() *cron.Scheduler {
	return s.scheduler
}

// Backend exposes the resolved backend for diagnostics.
func (s *Service) Backend(ctx context.Context) types.Backend {
	return s.factory.Acquire(ctx)
}

// ResetBackend drops the memoized backend so the next operation re-resolves.
func (s *Service) ResetBackend() {
	s.factory.Reset()
}

// RateClass looks up a configured class by name.
func (s *Service) RateClass(name string) (types.RateClass, bool) {
	class, ok := s.classes[name]
	return class, ok
}

// CheckRateLimit charges the request against the named class using the
// request's identity. Unknown class names allow the request through with a
// warning rather than guessing a budget.
func (s *Service) CheckRateLimit(ctx context.Context, reqCtx *fasthttp.RequestCtx, identity, className string) types.Decision {
	class, ok := s.classes[className]
	if !ok {
		s.logger.Warn("Unknown rate class, allowing request",
			zap.String("class", className))
		return types.Decision{Allowed: true}
	}

	clientID := ratelimit.ClientID(reqCtx, identity)

	return s.limiter.Allow(ctx, clientID, class)
}
