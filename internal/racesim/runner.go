package racesim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/slotrace/internal/adapters/stream/source"
	service "github.com/okian/slotrace/internal/app"
	"github.com/okian/slotrace/internal/config"
	"github.com/okian/slotrace/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

// Run races the configured profiles until Slots races are decided, the
// timeout passes, or ctx is cancelled, and returns the final results.
func Run(ctx context.Context, cfg *Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	svcCfg, err := cfg.serviceConfig()
	if err != nil {
		return nil, err
	}

	log := logger.Get().Named("race-sim")
	log.Info(ctx, "starting simulated race",
		logger.Int("streams", len(cfg.Profiles)),
		logger.Int("slots", cfg.Slots),
		logger.Duration("slot_interval", cfg.SlotInterval),
		logger.Bool("rolling", cfg.Rolling),
		logger.Duration("timeout", cfg.Timeout))

	// An epoch one slot ahead makes every stream start racing at the same slot.
	chain := source.NewChain(time.Now().Add(cfg.SlotInterval), cfg.SlotInterval, 1)
	svc := service.New(svcCfg, service.WithChain(chain))

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := svc.Start(runCtx); err != nil {
		return nil, fmt.Errorf("start race: %w", err)
	}

	timedOut := false
	select {
	case <-svc.Done():
	case <-runCtx.Done():
		timedOut = !cfg.Rolling && errors.Is(runCtx.Err(), context.DeadlineExceeded)
		if timedOut {
			log.Warn(ctx, "race did not finish before the timeout; open races are finalized as partial")
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer stop()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return nil, fmt.Errorf("stop race: %w", err)
	}

	summary, _ := svc.FinalSummary()
	races, err := svc.Races(shutdownCtx, cfg.Slots)
	if err != nil {
		return nil, fmt.Errorf("collect races: %w", err)
	}

	return &Result{
		RunID:    svc.RunID(),
		Summary:  summary,
		Races:    races,
		Duration: time.Since(start),
		TimedOut: timedOut,
	}, nil
}

func (c *Config) validate() error {
	switch {
	case len(c.Profiles) < 2:
		return fmt.Errorf("%w: at least two streams are needed to race", ErrBadConfig)
	case c.Slots < 1:
		return fmt.Errorf("%w: slots must be positive", ErrBadConfig)
	case c.SlotInterval <= 0:
		return fmt.Errorf("%w: slot interval must be positive", ErrBadConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrBadConfig)
	}
	return nil
}

// serviceConfig maps the race onto a service configuration.
func (c *Config) serviceConfig() (*config.Config, error) {
	cfg := config.New(context.Background())
	cfg.MaxSlots = c.Slots
	cfg.StopAtMax = !c.Rolling
	cfg.EvictionPolicy = "rolling"
	if cfg.StopAtMax {
		cfg.EvictionPolicy = "stop_at_max"
	}
	if c.Partial != "" {
		cfg.PartialPolicy = c.Partial
	}
	cfg.SummaryInterval = time.Hour
	cfg.SnapshotInterval = 100 * time.Millisecond
	cfg.RecentRaces = c.Slots
	cfg.LogRaces = c.Verbose
	cfg.Chain.SlotInterval = c.SlotInterval
	cfg.Backoff = config.BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        200 * time.Millisecond,
		Multiplier: 2,
		Jitter:     0.2,
	}
	for _, p := range c.Profiles {
		cfg.Streams = append(cfg.Streams, config.StreamConfig{
			Name: p.Name,
			Kind: source.KindSimulated,
			Sim: config.SimConfig{
				BaseDelay: p.BaseDelay,
				Jitter:    p.Jitter,
				DropRate:  p.DropRate,
				FailEvery: p.FailEvery,
			},
		})
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadConfig, err)
	}
	return cfg, nil
}
