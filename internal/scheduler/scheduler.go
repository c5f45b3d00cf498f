// Package scheduler runs collection cycles on a fixed interval, one bounded
// goroutine per source, with graceful drain on shutdown.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pulsefeed/pulsefeed/internal/orchestrator"
	"github.com/pulsefeed/pulsefeed/internal/source"
	"github.com/pulsefeed/pulsefeed/internal/storage"
)

// startupDelay postpones the first cycle so process startup (migrations, API
// warmup) is not competing with outbound fetches.
const startupDelay = 15 * time.Second

type Scheduler struct {
	cron     *cron.Cron
	orch     *orchestrator.Orchestrator
	store    *storage.Store
	adapters []source.Adapter
	logger   *zap.Logger

	sem      chan struct{}
	wg       sync.WaitGroup
	draining atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires a scheduler for the cron spec (e.g. "@every 30m"). Concurrency is
// bounded to one in-flight cycle per source.
func New(spec string, adapters []source.Adapter, orch *orchestrator.Orchestrator, store *storage.Store, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(),
		orch:     orch,
		store:    store,
		adapters: adapters,
		logger:   logger.Named("scheduler"),
		sem:      make(chan struct{}, max(len(adapters), 1)),
		ctx:      ctx,
		cancel:   cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.runAll); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: bad cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins interval scheduling. The first cycle fires after a short
// startup delay rather than immediately.
func (s *Scheduler) Start() {
	s.cron.Start()
	time.AfterFunc(startupDelay, func() {
		go s.runAll()
	})
	s.logger.Info("scheduler started", zap.Int("sources", len(s.adapters)))
}

// Stop halts interval scheduling and waits for in-flight cycles to reach a
// terminal job state, up to ctx's deadline. New cycles are not started.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.draining.Store(true)
	<-s.cron.Stop().Done()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler drained")
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("scheduler drain timed out, cancelling in-flight cycles")
		s.wg.Wait()
	}

	s.cancel()
	return nil
}

// Draining reports whether Stop has begun; a draining scheduler starts no
// new rounds.
func (s *Scheduler) Draining() bool {
	return s.draining.Load()
}

// RunOnce triggers one full round across all sources and waits for it.
func (s *Scheduler) RunOnce() {
	s.runAll()
}

// RunSource triggers a single cycle for the named source synchronously.
// Used by the manual-trigger API.
func (s *Scheduler) RunSource(ctx context.Context, name string) (*storage.Job, error) {
	for _, a := range s.adapters {
		if a.Name() == name {
			return s.orch.RunCycle(ctx, a)
		}
	}
	return nil, fmt.Errorf("scheduler: unknown source %q", name)
}

func (s *Scheduler) runAll() {
	if s.draining.Load() || s.ctx.Err() != nil {
		return
	}
	s.logger.Info("collection round started")

	var round sync.WaitGroup
	for _, a := range s.adapters {
		adapter := a

		src, err := s.store.EnsureSource(s.ctx, adapter.Name())
		if err != nil {
			s.logger.Error("source lookup failed, skipping",
				zap.String("source", adapter.Name()), zap.Error(err))
			s.logSchedulingError(nil, fmt.Sprintf("lookup source %s: %v", adapter.Name(), err))
			continue
		}
		if !src.Active {
			s.logger.Info("source inactive, skipping", zap.String("source", src.Name))
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			return
		}

		round.Add(1)
		s.wg.Add(1)
		go func(sourceID uint) {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("cycle panicked",
						zap.String("source", adapter.Name()), zap.Any("panic", r))
					s.logSchedulingError(&sourceID, fmt.Sprintf("cycle for %s panicked: %v", adapter.Name(), r))
				}
				<-s.sem
				round.Done()
				s.wg.Done()
			}()

			job, err := s.orch.RunCycle(s.ctx, adapter)
			if err != nil {
				s.logger.Error("cycle aborted",
					zap.String("source", adapter.Name()), zap.Error(err))
				s.logSchedulingError(&sourceID, fmt.Sprintf("cycle for %s: %v", adapter.Name(), err))
				return
			}
			s.logger.Info("cycle finished",
				zap.String("source", adapter.Name()),
				zap.String("job_id", job.ID),
				zap.String("state", job.State),
				zap.Int("items_ingested", job.ItemsIngested))
		}(src.ID)
	}

	round.Wait()
	s.logger.Info("collection round finished")
}

func (s *Scheduler) logSchedulingError(sourceID *uint, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.LogError(ctx, sourceID, storage.ErrorKindScheduling, msg); err != nil {
		s.logger.Error("log scheduling error", zap.Error(err))
	}
}
