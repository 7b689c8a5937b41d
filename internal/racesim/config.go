// Package racesim runs complete races against simulated streams and checks
// the results for consistency.
package racesim

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/slotrace/internal/domain/types"
	"github.com/okian/slotrace/internal/report"
)

// Config holds configuration for a simulated race.
type Config struct {
	Profiles     []Profile     // one simulated stream per profile
	Slots        int           // races to decide before stopping
	SlotInterval time.Duration // simulated slot time
	Rolling      bool          // keep racing until Timeout instead of stopping at Slots
	Partial      string        // count or exclude
	Timeout      time.Duration // hard stop
	OutputFile   string        // optional JSON results file
	Verbose      bool          // log every race
}

// Profile shapes one simulated stream.
type Profile struct {
	Name      string
	BaseDelay time.Duration
	Jitter    time.Duration
	DropRate  float64
	FailEvery int
}

// Result is the outcome of a simulated race.
type Result struct {
	RunID    string
	Summary  report.Summary
	Races    []types.Race
	Duration time.Duration
	TimedOut bool
}

// DefaultProfiles returns n streams whose base delays grow by 5ms each.
func DefaultProfiles(n int) []Profile {
	out := make([]Profile, n)
	for i := range out {
		out[i] = Profile{
			Name:      fmt.Sprintf("sim-%d", i),
			BaseDelay: time.Duration(5*(i+1)) * time.Millisecond,
			Jitter:    10 * time.Millisecond,
		}
	}
	return out
}

// ParseProfile parses "name:base[:jitter[:drop[:fail_every]]]",
// e.g. "helius:20ms:5ms:0.01:50".
func ParseProfile(s string) (Profile, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || parts[0] == "" {
		return Profile{}, fmt.Errorf("%w: %q", ErrBadProfile, s)
	}
	p := Profile{Name: parts[0]}

	var err error
	if p.BaseDelay, err = time.ParseDuration(parts[1]); err != nil {
		return Profile{}, fmt.Errorf("%w: %q base delay: %v", ErrBadProfile, s, err)
	}
	if len(parts) > 2 {
		if p.Jitter, err = time.ParseDuration(parts[2]); err != nil {
			return Profile{}, fmt.Errorf("%w: %q jitter: %v", ErrBadProfile, s, err)
		}
	}
	if len(parts) > 3 {
		if p.DropRate, err = strconv.ParseFloat(parts[3], 64); err != nil || p.DropRate < 0 || p.DropRate >= 1 {
			return Profile{}, fmt.Errorf("%w: %q drop rate must be in [0,1)", ErrBadProfile, s)
		}
	}
	if len(parts) > 4 {
		if p.FailEvery, err = strconv.Atoi(parts[4]); err != nil || p.FailEvery < 0 {
			return Profile{}, fmt.Errorf("%w: %q fail_every must be a non-negative integer", ErrBadProfile, s)
		}
	}
	if len(parts) > 5 {
		return Profile{}, fmt.Errorf("%w: %q has too many fields", ErrBadProfile, s)
	}
	return p, nil
}

// ParseProfiles parses a comma separated profile list.
func ParseProfiles(list string) ([]Profile, error) {
	var out []Profile
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		p, err := ParseProfile(item)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
