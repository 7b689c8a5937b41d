package racesim

import (
	"fmt"
	"io"

	"github.com/okian/slotrace/pkg/logger"
)

// SetupLogging initializes the logger. Without verbose only warnings are
// logged so the final table stays readable.
func SetupLogging(w io.Writer, verbose bool) error {
	if err := logger.InitWithFormat(logger.FormatText, w); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	level := "warn"
	if verbose {
		level = "info"
	}
	return logger.SetLevelString(level)
}

// ShowHelp prints usage information for the race simulator.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `Slot Race Simulator
===================

Races simulated slot streams against each other on a shared slot clock and
prints who delivered slots first.

Usage:
  go run ./cmd/race-sim [options]

Options:
  -streams string
        Comma separated profiles name:base[:jitter[:drop[:fail_every]]]
        (default: three streams 5ms apart)
  -slots int
        Races to decide (default 100)
  -interval duration
        Simulated slot time (default 50ms)
  -rolling
        Keep racing until -timeout with a rolling window of -slots races
  -partial string
        count or exclude races some stream never reported (default "count")
  -timeout duration
        Hard stop (default 2m)
  -output string
        Write results as JSON to this file
  -verbose
        Log every race
  -help
        Show this help message

Examples:
  # Three default streams, 100 races
  go run ./cmd/race-sim

  # Two providers, one lossy and flaky
  go run ./cmd/race-sim -streams "a:20ms:5ms,b:25ms:2ms:0.02:40" -slots 500
`)
}
