package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/slotrace/internal/domain/aggregator"
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/internal/domain/referee"
	"github.com/okian/slotrace/pkg/logger"
)

type requestKind int

const (
	reqSnapshot requestKind = iota
	reqRecent
	reqStreams
)

type request struct {
	kind  requestKind
	n     int
	reply chan response
}

type response struct {
	snapshot model.MetricsSnapshot
	races    []model.RaceFinalized
	streams  []model.LifecycleEvent
}

// Engine is the single goroutine that owns the referee and the aggregator.
// Arrivals, lifecycle events and queries are all served from Run, so race
// and metrics state need no locks. Once Run returns, queries read the final
// state directly.
type Engine struct {
	ref       *referee.Referee
	agg       *aggregator.Aggregator
	arrivals  <-chan model.ArrivalEvent
	lifecycle <-chan model.LifecycleEvent
	interval  time.Duration
	logger    logger.Logger

	requests chan request
	latest   atomic.Pointer[model.MetricsSnapshot]
	states   []model.LifecycleEvent

	finished     chan struct{} // closed when a stop-at-max run has nothing left to decide
	finishedOnce sync.Once
	done         chan struct{} // closed when Run returns
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPublishInterval sets how often Latest is refreshed.
func WithPublishInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine wires the referee loop. The referee must already deliver its
// finalized races to agg.
func NewEngine(ref *referee.Referee, agg *aggregator.Aggregator, arrivals <-chan model.ArrivalEvent, lifecycle <-chan model.LifecycleEvent, opts ...EngineOption) *Engine {
	e := &Engine{
		ref:       ref,
		agg:       agg,
		arrivals:  arrivals,
		lifecycle: lifecycle,
		interval:  time.Second,
		requests:  make(chan request),
		finished:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get().Named("engine")
	}
	streams := ref.Streams()
	e.states = make([]model.LifecycleEvent, len(streams))
	for i, id := range streams {
		e.states[i] = model.LifecycleEvent{Stream: id.ID, State: model.StateConnecting}
	}
	e.publish()
	return e
}

// Run processes events until the arrival channel is closed and drained,
// then finalizes every open race. If ctx ends first, buffered arrivals are
// still drained without waiting for more.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	arrivals := e.arrivals
	lifecycle := e.lifecycle
	for {
		select {
		case ev, ok := <-arrivals:
			if !ok {
				e.finish(ctx)
				return nil
			}
			e.apply(ctx, ev)

		case ev, ok := <-lifecycle:
			if !ok {
				lifecycle = nil
				continue
			}
			e.track(ev)

		case req := <-e.requests:
			e.serve(req)

		case <-ticker.C:
			e.publish()

		case <-ctx.Done():
			e.drain(ctx, arrivals)
			e.finish(ctx)
			return ctx.Err()
		}
	}
}

// Snapshot returns a point-in-time copy of all metrics, consistent with the
// events processed so far.
func (e *Engine) Snapshot(ctx context.Context) (model.MetricsSnapshot, error) {
	resp, err := e.ask(ctx, request{kind: reqSnapshot})
	if err != nil {
		return model.MetricsSnapshot{}, err
	}
	return resp.snapshot, nil
}

// Recent returns up to n finalized races, most recent first.
func (e *Engine) Recent(ctx context.Context, n int) ([]model.RaceFinalized, error) {
	resp, err := e.ask(ctx, request{kind: reqRecent, n: n})
	if err != nil {
		return nil, err
	}
	return resp.races, nil
}

// Streams returns the last lifecycle event seen per stream, in stream order.
func (e *Engine) Streams(ctx context.Context) ([]model.LifecycleEvent, error) {
	resp, err := e.ask(ctx, request{kind: reqStreams})
	if err != nil {
		return nil, err
	}
	return resp.streams, nil
}

// Latest returns the most recently published snapshot without waiting on
// the engine. It may lag Snapshot by up to the publish interval.
func (e *Engine) Latest() model.MetricsSnapshot {
	if s := e.latest.Load(); s != nil {
		return *s
	}
	return model.MetricsSnapshot{}
}

// Finished is closed once a stop-at-max run has decided every race.
func (e *Engine) Finished() <-chan struct{} { return e.finished }

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) ask(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case e.requests <- req:
	case <-e.done:
		// Run has returned, so nothing mutates the state any more.
		e.serve(req)
		return <-req.reply, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case resp := <-req.reply:
		return resp, nil
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func (e *Engine) apply(ctx context.Context, ev model.ArrivalEvent) {
	e.ref.RecordArrival(ctx, ev)
	if e.ref.Done() {
		e.finishedOnce.Do(func() {
			e.logger.Info(ctx, "all tracked races decided", logger.Int("races", e.ref.Len()))
			close(e.finished)
		})
	}
}

func (e *Engine) track(ev model.LifecycleEvent) {
	if int(ev.Stream) < 0 || int(ev.Stream) >= len(e.states) {
		return
	}
	e.states[ev.Stream] = ev
}

func (e *Engine) serve(req request) {
	var resp response
	switch req.kind {
	case reqSnapshot:
		resp.snapshot = e.snapshot()
	case reqRecent:
		resp.races = e.agg.Recent(req.n)
	case reqStreams:
		resp.streams = append([]model.LifecycleEvent(nil), e.states...)
	}
	req.reply <- resp
}

func (e *Engine) snapshot() model.MetricsSnapshot {
	s := e.agg.Snapshot()
	s.Referee = e.ref.Stats()
	return s
}

func (e *Engine) publish() {
	s := e.snapshot()
	e.latest.Store(&s)
}

// drain applies whatever is already buffered without waiting for more.
func (e *Engine) drain(ctx context.Context, arrivals <-chan model.ArrivalEvent) {
	for {
		select {
		case ev, ok := <-arrivals:
			if !ok {
				return
			}
			e.apply(ctx, ev)
		default:
			return
		}
	}
}

// finish finalizes open races and publishes the final snapshot.
func (e *Engine) finish(ctx context.Context) {
	n := e.ref.Flush(ctx)
	e.publish()
	e.logger.Info(ctx, "engine drained", logger.Int("flushed", n), logger.Int("window", e.ref.Len()))
}
