package worker

import (
	"context"
	"sync"
	"time"

	"github.com/okian/slotrace/pkg/logger"
)

const poolShutdownTimeout = 30 * time.Second

// Pool runs one StreamWorker per configured stream.
type Pool struct {
	workers []*StreamWorker
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates a pool over the given workers.
func NewPool(workers ...*StreamWorker) *Pool {
	return &Pool{
		workers: workers,
		logger:  logger.Get().Named("stream-pool"),
	}
}

// Workers returns the pooled workers.
func (p *Pool) Workers() []*StreamWorker { return p.workers }

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *StreamWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	p.logger.Info(ctx, "stream workers started", logger.Int("streams", len(p.workers)))
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() { p.wg.Wait() }

// Stop signals every worker to stop and waits for them.
func (p *Pool) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for _, w := range p.workers {
		w.shutdownOnce.Do(func() { close(w.shutdown) })
	}
	for _, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.String("stream", w.id.Label()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
