package report

import (
	"time"

	"github.com/okian/slotrace/pkg/logger"
)

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the summary interval.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithLogger sets the reporter logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}
