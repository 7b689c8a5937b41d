// Package worker runs one reconnecting session loop per configured stream.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/slotrace/internal/adapters/stream/source"
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/pkg/logger"
	"github.com/okian/slotrace/pkg/metrics"
)

// ErrStopped is returned from a session when arrivals can no longer be published.
var ErrStopped = errors.New("worker stopped")

// Publisher receives arrival events. Enqueue must not drop.
type Publisher interface {
	Enqueue(ctx context.Context, ev model.ArrivalEvent) bool
}

// LifecycleSink receives lifecycle events and may drop them.
type LifecycleSink interface {
	TryEnqueue(ev model.LifecycleEvent) bool
}

// Worker is a long-running stream consumer.
type Worker interface {
	// Run starts the session loop until ctx is canceled or Shutdown is called.
	Run(ctx context.Context)

	// Shutdown stops retrying and waits for Run to return.
	Shutdown(ctx context.Context) error
}

// StreamWorker connects to one stream, timestamps every slot notification
// on the shared clock and reconnects with backoff when the session ends.
type StreamWorker struct {
	id        model.StreamIdentity
	src       source.Source
	out       Publisher
	clock     model.Clock
	backoff   Backoff
	lifecycle LifecycleSink
	seed      uint64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	sessions atomic.Int64
	slots    atomic.Uint64

	logger logger.Logger
}

// NewStreamWorker creates a worker for one stream.
func NewStreamWorker(id model.StreamIdentity, src source.Source, out Publisher, clock model.Clock, opts ...Option) *StreamWorker {
	w := &StreamWorker{
		id:       id,
		src:      src,
		out:      out,
		clock:    clock,
		backoff:  DefaultBackoff(),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("stream")
	}
	w.logger = w.logger.With(logger.String("stream", id.Label()))
	return w
}

// ID returns the stream identity.
func (w *StreamWorker) ID() model.StreamIdentity { return w.id }

// Sessions returns how many sessions have been started.
func (w *StreamWorker) Sessions() int64 { return w.sessions.Load() }

// Slots returns how many slot notifications were published.
func (w *StreamWorker) Slots() uint64 { return w.slots.Load() }

// Done is closed when Run has returned.
func (w *StreamWorker) Done() <-chan struct{} { return w.done }

// Run starts the session loop. Retries are unbounded.
func (w *StreamWorker) Run(ctx context.Context) {
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.shutdown:
			cancel()
		case <-ctx.Done():
		}
	}()

	seed := w.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, uint64(w.id.ID)))
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	attempt := 0
	for {
		w.emit(model.LifecycleEvent{State: model.StateConnecting, Attempt: attempt})
		w.sessions.Add(1)
		sess := &session{w: w}
		err := w.src.Run(ctx, sess)

		if sess.connected {
			metrics.UpdateStreamConnected(w.id.Label(), false)
			w.emit(model.LifecycleEvent{State: model.StateDisconnected, Err: err})
		}
		if ctx.Err() != nil || errors.Is(err, ErrStopped) {
			w.logger.Info(ctx, "stream worker stopped", logger.Uint64("slots", w.slots.Load()))
			w.emit(model.LifecycleEvent{State: model.StateStopped})
			return
		}

		// A session that delivered data proves the endpoint works; start over.
		if sess.slots > 0 {
			attempt = 0
		}
		attempt++
		delay := w.backoff.Delay(attempt, rng)
		w.logger.Warn(ctx, "stream session ended, retrying",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Uint64("session_slots", sess.slots),
			logger.Error(err),
		)
		metrics.RecordStreamReconnect(w.id.Label(), delay)
		w.emit(model.LifecycleEvent{State: model.StateRetrying, Attempt: attempt, Delay: delay, Err: err})

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "stream worker stopped", logger.Uint64("slots", w.slots.Load()))
			w.emit(model.LifecycleEvent{State: model.StateStopped})
			return
		case <-timer.C:
		}
	}
}

// Shutdown stops the worker and waits for Run to return.
func (w *StreamWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *StreamWorker) emit(ev model.LifecycleEvent) {
	if w.lifecycle == nil {
		return
	}
	ev.Stream = w.id.ID
	ev.At = time.Now()
	if !w.lifecycle.TryEnqueue(ev) {
		metrics.RecordLifecycleDropped()
	}
}

// session adapts one source session to the worker.
type session struct {
	w         *StreamWorker
	connected bool
	slots     uint64
}

func (s *session) OnConnected(ctx context.Context) {
	s.connected = true
	metrics.UpdateStreamConnected(s.w.id.Label(), true)
	s.w.logger.Info(ctx, "stream connected", logger.String("kind", s.w.src.Kind()))
	s.w.emit(model.LifecycleEvent{State: model.StateConnected})
}

func (s *session) NowNS() int64 { return s.w.clock.NowNS() }

func (s *session) OnSlot(ctx context.Context, slot uint64, receivedNS int64) error {
	if !s.w.out.Enqueue(ctx, model.ArrivalEvent{Stream: s.w.id.ID, Slot: slot, TimestampNS: receivedNS}) {
		return ErrStopped
	}
	s.slots++
	s.w.slots.Add(1)
	return nil
}
