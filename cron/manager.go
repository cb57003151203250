package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-shield/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

type jobEntry struct {
	id      cron.EntryID
	name    string
	spec    string
	addedAt time.Time
}

// Scheduler runs background maintenance jobs: the keep-warm ping and the
// cache stats report. Jobs are wrapped so a panic in one never takes the
// scheduler down.
type Scheduler struct {
	ctx             context.Context
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]*jobEntry
	state           atomic.Value
	mu              sync.RWMutex
	shutdown        chan struct{}
	shutdownTimeout time.Duration
}

func NewScheduler(ctx context.Context, logger types.Logger, metrics types.MetricsManager) *Scheduler {
	cronL := safeCronLogger{logger: logger}

	cronOptions := []cron.Option{
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronL)),
	}

	s := &Scheduler{
		ctx:             ctx,
		logger:          logger,
		metrics:         metrics,
		cron:            cron.New(cronOptions...),
		jobs:            make(map[string]*jobEntry),
		shutdown:        make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	s.state.Store(StateStopped)

	return s
}

func (s *Scheduler) Add(jobName, spec string, job func()) error {
	if jobName == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if spec == "" {
		return types.ErrCronExpressionInvalid
	}
	if job == nil {
		return types.ErrCronJobIsNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; exists {
		return types.ErrCronJobExists
	}

	entryID, err := s.cron.AddFunc(spec, s.wrapJob(jobName, job))
	if err != nil {
		return types.WrapError(types.ErrCronExpressionInvalid, err.Error())
	}

	s.jobs[jobName] = &jobEntry{
		id:      entryID,
		name:    jobName,
		spec:    spec,
		addedAt: time.Now(),
	}

	s.logger.Info("Cron job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrCronIsRunning
	}

	defer func() {
		if s.getState() == StateStarting {
			s.setState(StateRunning)
		}
	}()

	// A fresh channel per run: the previous Stop closed the old one, and
	// jobs scheduled after a restart must not see it.
	s.mu.Lock()
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Cron scheduler started")

	return nil
}

func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) &&
		!s.transitionState(StateStarting, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer s.setState(StateStopped)

	s.mu.Lock()
	close(s.shutdown)
	s.mu.Unlock()

	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Info("Cron scheduler stopped gracefully")
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("Cron scheduler stop timeout, some jobs may still be running")
		return types.NewErrorf("cron stop timeout")
	}

	return nil
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Scheduler) wrapJob(jobName string, job func()) func() {
	return func() {
		s.mu.RLock()
		shutdown := s.shutdown
		s.mu.RUnlock()

		select {
		case <-shutdown:
			s.logger.Info("Job skipped due to shutdown", zap.String("job_name", jobName))
			return
		default:
		}

		startTime := time.Now()
		s.logger.Debug("Cron job started", zap.String("job_name", jobName))

		result := "success"
		func() {
			defer func() {
				if r := recover(); r != nil {
					result = "panic"
					s.logger.Error("Cron job panicked",
						zap.String("job_name", jobName),
						zap.Any("panic", r))
				}
			}()
			job()
		}()

		duration := time.Since(startTime)

		if s.metrics != nil {
			s.metrics.Counter("cron_job_executions_total", map[string]string{
				"job":    jobName,
				"result": result,
			}).Inc()
			s.metrics.Histogram("cron_job_duration_seconds",
				[]float64{0.01, 0.1, 1.0, 10.0, 60.0},
				map[string]string{"job": jobName},
			).ObserveDuration(startTime)
		}

		s.logger.Debug("Cron job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", duration))
	}
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, toFields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := append(toFields(keysAndValues), zap.Error(err))
	l.logger.Error(msg, fields...)
}

func toFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
