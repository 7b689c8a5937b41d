// Package service wires stream workers, the event queues, the referee
// engine and the summary reporter, and implements the dependencies required
// by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/slotrace/internal/adapters/mq/queue"
	"github.com/okian/slotrace/internal/adapters/stream/source"
	"github.com/okian/slotrace/internal/adapters/stream/worker"
	"github.com/okian/slotrace/internal/config"
	"github.com/okian/slotrace/internal/domain/aggregator"
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/internal/domain/referee"
	"github.com/okian/slotrace/internal/domain/types"
	"github.com/okian/slotrace/internal/report"
	"github.com/okian/slotrace/pkg/logger"
	"github.com/okian/slotrace/pkg/metrics"
)

const defaultShutdownTimeout = 30 * time.Second

// Service runs one race between the configured streams.
type Service struct {
	mu sync.RWMutex

	cfg     *config.Config
	clock   model.Clock
	chain   *source.Chain
	sources []source.Source
	runID   string

	// Core components, set by Start
	ids       []model.StreamIdentity
	kinds     []string
	arrivals  *queue.InMemoryQueue[model.ArrivalEvent]
	lifecycle *queue.InMemoryQueue[model.LifecycleEvent]
	engine    *Engine
	pool      *worker.Pool
	reporter  *report.Reporter

	// State
	started   bool
	stopped   bool
	startedAt time.Time
	cancel    context.CancelFunc
	bg        sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once
	final     report.Summary

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock sets the clock that stamps arrivals.
func WithClock(c model.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithChain sets the slot clock shared by simulated streams.
func WithChain(c *source.Chain) Option {
	return func(s *Service) {
		if c != nil {
			s.chain = c
		}
	}
}

// WithSources replaces the sources built from config, one per stream in
// config order.
func WithSources(srcs ...source.Source) Option {
	return func(s *Service) {
		s.sources = srcs
	}
}

// WithRunID fixes the run identifier instead of generating one.
func WithRunID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.runID = id
		}
	}
}

// New constructs a Service for cfg. cfg is expected to be validated.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:  cfg,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	return s
}

// Start builds the pipeline and starts every component. The pipeline runs
// until Shutdown, independent of ctx cancellation.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.stopped {
		return ErrStopped
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.clock == nil {
		s.clock = model.NewMonotonicClock()
	}

	s.logger.Info(ctx, "starting slot race", logger.String("run_id", s.runID))

	s.ids = s.cfg.Identities()
	srcs, err := s.buildSources()
	if err != nil {
		return err
	}

	s.arrivals = queue.NewInMemoryQueue(queue.WithCapacity[model.ArrivalEvent](s.cfg.QueueSize))
	s.lifecycle = queue.NewInMemoryQueue(
		queue.WithCapacity[model.LifecycleEvent](s.cfg.LifecycleQueueSize),
		queue.WithGauges[model.LifecycleEvent](false),
	)

	agg := aggregator.New(
		aggregator.WithStreams(s.ids),
		aggregator.WithWindow(s.cfg.MaxSlots),
		aggregator.WithRecentRaces(s.cfg.RecentRaces),
		aggregator.WithRunID(s.runID),
	)
	ref := referee.New(
		referee.WithStreams(s.ids),
		referee.WithMaxSlots(s.cfg.MaxSlots),
		referee.WithEvictionPolicy(s.cfg.Policy()),
		referee.WithPartialPolicy(s.cfg.Partial()),
		referee.WithWarmupSlots(s.cfg.WarmupSlots),
		referee.WithRaceLogging(s.cfg.LogRaces),
		referee.WithSink(agg),
	)
	s.engine = NewEngine(ref, agg, s.arrivals.Dequeue(), s.lifecycle.Dequeue(),
		WithPublishInterval(s.cfg.SnapshotInterval))

	workers := make([]*worker.StreamWorker, len(srcs))
	s.kinds = make([]string, len(srcs))
	for i, src := range srcs {
		s.kinds[i] = src.Kind()
		workers[i] = worker.NewStreamWorker(s.ids[i], src, s.arrivals, s.clock,
			worker.WithBackoff(s.cfg.WorkerBackoff()),
			worker.WithLifecycle(s.lifecycle),
		)
	}
	s.pool = worker.NewPool(workers...)
	s.reporter = report.New(s, report.WithInterval(s.cfg.SummaryInterval))

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	// The engine exits on its own once the arrival queue is closed and drained.
	go func() {
		if err := s.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(runCtx, "engine stopped", logger.Error(err))
		}
	}()
	s.pool.Start(runCtx)

	s.bg.Add(2)
	go func() {
		defer s.bg.Done()
		s.reporter.Run(runCtx)
	}()
	go func() {
		defer s.bg.Done()
		s.watch(runCtx)
	}()

	s.started = true
	s.startedAt = time.Now()
	s.logger.Info(ctx, "slot race started",
		logger.Int("streams", len(s.ids)),
		logger.Int("max_slots", s.cfg.MaxSlots),
		logger.String("eviction_policy", string(s.cfg.Policy())),
		logger.String("partial_policy", string(s.cfg.Partial())),
		logger.Int("queue_size", s.cfg.QueueSize),
	)
	return nil
}

// watch stops the service once a stop-at-max race has decided every slot.
func (s *Service) watch(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.engine.Finished():
		s.logger.Info(ctx, "race window complete, stopping")
		go func() {
			if err := s.Shutdown(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn(ctx, "shutdown after race completion failed", logger.Error(err))
			}
		}()
	}
}

func (s *Service) buildSources() ([]source.Source, error) {
	if len(s.sources) > 0 {
		if len(s.sources) != len(s.ids) {
			return nil, fmt.Errorf("%w: %d sources for %d streams", ErrSources, len(s.sources), len(s.ids))
		}
		return s.sources, nil
	}

	chain := s.chain
	if chain == nil && s.cfg.HasSimulated() {
		chain = source.NewChain(time.Now(), s.cfg.Chain.SlotInterval, s.cfg.Chain.FirstSlot)
	}
	srcs := make([]source.Source, 0, len(s.cfg.Streams))
	for i, sc := range s.cfg.Streams {
		src, err := source.New(sc.SourceSpec(), chain)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", s.ids[i].Label(), err)
		}
		srcs = append(srcs, src)
	}
	return srcs, nil
}

// Shutdown stops the workers, lets the engine drain and finalize every open
// race, then logs the final summary. It is safe to call more than once.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		select {
		case <-s.doneOrClosed():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.started = false
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info(ctx, "stopping slot race...")

	var errs []error
	if err := s.pool.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	// No producers remain, so closing lets the engine drain and flush.
	_ = s.arrivals.Close()
	select {
	case <-s.engine.Done():
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
		s.cancel()
		<-s.engine.Done()
	}
	_ = s.lifecycle.Close()

	s.cancel()
	s.bg.Wait()

	final := s.reporter.Log(ctx, s.engine.Latest())
	s.mu.Lock()
	s.final = final
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	s.logger.Info(ctx, "slot race stopped", logger.Duration("uptime", time.Since(s.startedAt)))
	return errors.Join(errs...)
}

// doneOrClosed returns done while a shutdown is in progress or finished, and
// a closed channel if the service never started.
func (s *Service) doneOrClosed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.stopped {
		c := make(chan struct{})
		close(c)
		return c
	}
	return s.done
}

// Stop gracefully shuts down the service with a default timeout.
func (s *Service) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil && s.logger != nil {
		s.logger.Warn(ctx, "shutdown incomplete", logger.Error(err))
	}
}

// Done is closed once the service has fully stopped, whether by Shutdown or
// because a stop-at-max race completed.
func (s *Service) Done() <-chan struct{} { return s.done }

// RunID identifies this run in logs, snapshots and the API.
func (s *Service) RunID() string { return s.runID }

// FinalSummary returns the summary logged at shutdown.
func (s *Service) FinalSummary() (report.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.final, s.stopped && s.final.RunID != ""
}

func (s *Service) eng() (*Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

// Snapshot returns metrics consistent with every arrival processed so far.
func (s *Service) Snapshot(ctx context.Context) (model.MetricsSnapshot, error) {
	e, err := s.eng()
	if err != nil {
		return model.MetricsSnapshot{}, err
	}
	return e.Snapshot(ctx)
}

// Latest returns the last published snapshot without waiting on the engine.
func (s *Service) Latest() (model.MetricsSnapshot, error) {
	e, err := s.eng()
	if err != nil {
		return model.MetricsSnapshot{}, err
	}
	return e.Latest(), nil
}

// Metrics returns the API view of a fresh snapshot.
func (s *Service) Metrics(ctx context.Context) (types.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.FromSnapshot(snap), nil
}

// Races returns up to n finalized races, most recent first.
func (s *Service) Races(ctx context.Context, n int) ([]types.Race, error) {
	e, err := s.eng()
	if err != nil {
		return nil, err
	}
	races, err := e.Recent(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]types.Race, len(races))
	for i, r := range races {
		out[i] = types.FromRace(r, s.ids)
	}
	return out, nil
}

// Streams returns each stream's identity and connection state.
func (s *Service) Streams(ctx context.Context) ([]types.StreamStatus, error) {
	e, err := s.eng()
	if err != nil {
		return nil, err
	}
	states, err := e.Streams(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.StreamStatus, len(states))
	for i, st := range states {
		row := types.StreamStatus{
			ID:          int(s.ids[i].ID),
			Name:        s.ids[i].Label(),
			Kind:        s.kinds[i],
			State:       st.State.String(),
			Attempt:     st.Attempt,
			LastChanged: st.At,
		}
		if st.Err != nil {
			row.LastError = st.Err.Error()
		}
		out[i] = row
	}
	return out, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"run_id":     s.runID,
		"started":    s.started,
		"streams":    len(s.cfg.Streams),
		"max_slots":  s.cfg.MaxSlots,
		"policy":     string(s.cfg.Policy()),
		"queue_size": s.cfg.QueueSize,
	}

	if s.engine != nil {
		queueLen := s.arrivals.Len()
		ref := s.engine.Latest().Referee

		stats["uptime_seconds"] = time.Since(s.startedAt).Seconds()
		stats["queue_length"] = queueLen
		stats["window"] = ref.Window
		stats["window_oldest_slot"] = ref.OldestSlot
		stats["window_newest_slot"] = ref.NewestSlot
		stats["tracked"] = ref.Tracked
		stats["evicted"] = ref.Evicted
		stats["accepted"] = ref.Accepted
		stats["late"] = ref.Late
		stats["duplicates"] = ref.Duplicates
		stats["unknown_stream"] = ref.UnknownStream
		stats["warmup"] = ref.Warmup
		stats["max_reached"] = ref.MaxReached
		stats["completed"] = ref.Completed
		stats["partial_finalized"] = ref.PartialFinalized
		stats["partial_excluded"] = ref.PartialExcluded
		stats["done"] = ref.Done

		metrics.UpdateQueueSize(queueLen)
	}

	return stats
}
