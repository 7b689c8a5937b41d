// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Loading layers defaults, a .env file, a YAML file and SLOTRACE_ env vars.
// - Every validation failure wraps ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/okian/slotrace/internal/adapters/stream/source"
	"github.com/okian/slotrace/internal/adapters/stream/worker"
	model "github.com/okian/slotrace/internal/domain/model"
	"github.com/okian/slotrace/internal/domain/referee"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level" json:"log_level"`

	// LogFormat selects text or json log lines.
	LogFormat string `koanf:"log_format" json:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr" json:"addr"`

	// MaxSlots bounds the race window and the metrics window.
	MaxSlots int `koanf:"max_slots" json:"max_slots"`

	// EvictionPolicy is rolling or stop_at_max.
	EvictionPolicy string `koanf:"eviction_policy" json:"eviction_policy"`

	// StopAtMax forces the stop_at_max policy when true.
	StopAtMax bool `koanf:"stop_at_max" json:"stop_at_max"`

	// WarmupSlots ignores the first N distinct slots after startup.
	WarmupSlots int `koanf:"warmup_slots" json:"warmup_slots"`

	// PartialPolicy is count or exclude for races that never completed.
	PartialPolicy string `koanf:"partial_policy" json:"partial_policy"`

	// QueueSize bounds the arrival event channel.
	QueueSize int `koanf:"queue_size" json:"queue_size"`

	// LifecycleQueueSize bounds the lossy lifecycle event channel.
	LifecycleQueueSize int `koanf:"lifecycle_queue_size" json:"lifecycle_queue_size"`

	// SummaryInterval is how often the summary is logged.
	SummaryInterval time.Duration `koanf:"summary_interval" json:"summary_interval"`

	// SnapshotInterval is how often the lock-free snapshot is republished.
	SnapshotInterval time.Duration `koanf:"snapshot_interval" json:"snapshot_interval"`

	// RecentRaces is how many finalized races GET /races can return.
	RecentRaces int `koanf:"recent_races" json:"recent_races"`

	// LogRaces logs every finalized race at info level.
	LogRaces bool `koanf:"log_races" json:"log_races"`

	Backoff BackoffConfig `koanf:"backoff" json:"backoff"`

	// Chain drives simulated streams.
	Chain ChainConfig `koanf:"chain" json:"chain"`

	Streams []StreamConfig `koanf:"streams" json:"streams"`
}

// BackoffConfig shapes reconnect delays.
type BackoffConfig struct {
	Initial    time.Duration `koanf:"initial" json:"initial"`
	Max        time.Duration `koanf:"max" json:"max"`
	Multiplier float64       `koanf:"multiplier" json:"multiplier"`
	Jitter     float64       `koanf:"jitter" json:"jitter"`
}

// ChainConfig shapes the simulated slot clock.
type ChainConfig struct {
	SlotInterval time.Duration `koanf:"slot_interval" json:"slot_interval"`
	FirstSlot    uint64        `koanf:"first_slot" json:"first_slot"`
}

// StreamConfig describes one stream to race.
type StreamConfig struct {
	Name         string        `koanf:"name" json:"name"`
	Kind         string        `koanf:"kind" json:"kind"`
	Endpoint     string        `koanf:"endpoint" json:"endpoint"`
	AccessToken  string        `koanf:"access_token" json:"access_token"`
	Method       string        `koanf:"method" json:"method"`
	Commitment   string        `koanf:"commitment" json:"commitment"`
	PingInterval time.Duration `koanf:"ping_interval" json:"ping_interval"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" json:"idle_timeout"`
	Sim          SimConfig     `koanf:"sim" json:"sim"`
}

// SimConfig shapes a simulated stream's delivery.
type SimConfig struct {
	BaseDelay time.Duration `koanf:"base_delay" json:"base_delay"`
	Jitter    time.Duration `koanf:"jitter" json:"jitter"`
	DropRate  float64       `koanf:"drop_rate" json:"drop_rate"`
	FailEvery int           `koanf:"fail_every" json:"fail_every"`
	Seed      uint64        `koanf:"seed" json:"seed"`
}

// New creates a Config with defaults. Streams are left empty.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		MaxSlots:           360,
		EvictionPolicy:     string(referee.PolicyRolling),
		PartialPolicy:      string(referee.PartialCount),
		QueueSize:          65_536,
		LifecycleQueueSize: 1024,
		SummaryInterval:    30 * time.Second,
		SnapshotInterval:   time.Second,
		RecentRaces:        64,
		LogRaces:           true,
		Backoff: BackoffConfig{
			Initial:    500 * time.Millisecond,
			Max:        30 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.5,
		},
		Chain: ChainConfig{
			SlotInterval: 400 * time.Millisecond,
			FirstSlot:    1,
		},
	}
}

// Policy resolves the eviction policy, honoring the stop_at_max flag.
func (c *Config) Policy() referee.EvictionPolicy {
	if c.StopAtMax {
		return referee.PolicyStopAtMax
	}
	return referee.EvictionPolicy(c.EvictionPolicy)
}

// Partial returns the partial race policy.
func (c *Config) Partial() referee.PartialPolicy {
	return referee.PartialPolicy(c.PartialPolicy)
}

// Identities returns stream identities in configured order.
func (c *Config) Identities() []model.StreamIdentity {
	names := make([]string, len(c.Streams))
	for i, s := range c.Streams {
		names[i] = s.Name
	}
	return model.Identities(names...)
}

// SourceSpec converts a stream entry for the source factory.
func (s StreamConfig) SourceSpec() source.Spec {
	return source.Spec{
		Name:         s.Name,
		Kind:         s.Kind,
		Endpoint:     s.Endpoint,
		AccessToken:  s.AccessToken,
		Method:       s.Method,
		Commitment:   s.Commitment,
		PingInterval: s.PingInterval,
		IdleTimeout:  s.IdleTimeout,
		Sim: source.SimSpec{
			BaseDelay: s.Sim.BaseDelay,
			Jitter:    s.Sim.Jitter,
			DropRate:  s.Sim.DropRate,
			FailEvery: s.Sim.FailEvery,
			Seed:      s.Sim.Seed,
		},
	}
}

// WorkerBackoff converts the backoff section.
func (c *Config) WorkerBackoff() worker.Backoff {
	return worker.Backoff{
		Initial:    c.Backoff.Initial,
		Max:        c.Backoff.Max,
		Multiplier: c.Backoff.Multiplier,
		Jitter:     c.Backoff.Jitter,
	}
}

// HasSimulated reports whether any stream is simulated.
func (c *Config) HasSimulated() bool {
	for _, s := range c.Streams {
		if strings.EqualFold(s.Kind, source.KindSimulated) {
			return true
		}
	}
	return false
}

// normalize lowercases enum-like fields so validation is case-insensitive.
func (c *Config) normalize() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.EvictionPolicy = strings.ToLower(strings.TrimSpace(c.EvictionPolicy))
	c.PartialPolicy = strings.ToLower(strings.TrimSpace(c.PartialPolicy))
	if c.StopAtMax {
		c.EvictionPolicy = string(referee.PolicyStopAtMax)
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.Kind == "" {
			s.Kind = source.KindWebsocket
		}
		s.Commitment = strings.ToLower(strings.TrimSpace(s.Commitment))
		if s.Name == "" {
			s.Name = fmt.Sprintf("stream-%d", i)
		}
	}
}

// Validate checks semantic rules the schema cannot express.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Streams) == 0 {
		problems = append(problems, "at least one stream must be configured")
	}
	if c.MaxSlots <= 0 {
		problems = append(problems, "max_slots must be positive")
	}
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	switch c.Policy() {
	case referee.PolicyRolling, referee.PolicyStopAtMax:
	default:
		problems = append(problems, fmt.Sprintf("unknown eviction_policy %q", c.EvictionPolicy))
	}
	switch c.Partial() {
	case referee.PartialCount, referee.PartialExclude:
	default:
		problems = append(problems, fmt.Sprintf("unknown partial_policy %q", c.PartialPolicy))
	}
	if c.Backoff.Max < c.Backoff.Initial {
		problems = append(problems, "backoff.max must not be below backoff.initial")
	}

	seen := make(map[string]bool, len(c.Streams))
	for i, s := range c.Streams {
		if seen[s.Name] {
			problems = append(problems, fmt.Sprintf("streams[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Kind != source.KindWebsocket {
			continue
		}
		u, err := url.Parse(s.Endpoint)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			problems = append(problems, fmt.Sprintf("streams[%d] %q: endpoint must be a ws:// or wss:// url", i, s.Name))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
