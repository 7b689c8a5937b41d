package racesim

import (
	"errors"
	"fmt"
)

// Verify checks the results for internal consistency: every decided race
// has one winner, no stream counts more races than the window holds, and a
// race that ran to completion decided exactly Slots races.
func Verify(res *Result, cfg *Config) error {
	var problems []error
	s := res.Summary

	wins := 0
	for _, l := range s.Lines {
		wins += l.Wins
		if l.Races > s.WindowRaces {
			problems = append(problems, fmt.Errorf("%s counts %d races but the window holds %d", l.Stream.Label(), l.Races, s.WindowRaces))
		}
		if l.Wins > l.Races {
			problems = append(problems, fmt.Errorf("%s won %d of %d races", l.Stream.Label(), l.Wins, l.Races))
		}
	}
	if wins != s.WindowRaces {
		problems = append(problems, fmt.Errorf("wins add up to %d over %d races", wins, s.WindowRaces))
	}
	if s.WindowRaces > cfg.Slots {
		problems = append(problems, fmt.Errorf("window holds %d races, more than %d slots", s.WindowRaces, cfg.Slots))
	}
	if !cfg.Rolling && !res.TimedOut {
		if s.WindowRaces != cfg.Slots {
			problems = append(problems, fmt.Errorf("finished with %d of %d races", s.WindowRaces, cfg.Slots))
		}
		if !s.Referee.Done {
			problems = append(problems, errors.New("finished without every race decided"))
		}
	}

	for _, r := range res.Races {
		if len(r.Results) == 0 {
			problems = append(problems, fmt.Errorf("slot %d has no results", r.Slot))
			continue
		}
		if r.Results[0].Stream != r.Winner || r.Results[0].LagNS != 0 {
			problems = append(problems, fmt.Errorf("slot %d: winner %s does not lead its results", r.Slot, r.Winner))
		}
		for i := 1; i < len(r.Results); i++ {
			if r.Results[i].LagNS < r.Results[i-1].LagNS {
				problems = append(problems, fmt.Errorf("slot %d: results are not ordered by lag", r.Slot))
				break
			}
		}
		if r.Complete && len(r.Results) != len(cfg.Profiles) {
			problems = append(problems, fmt.Errorf("slot %d is complete with %d of %d streams", r.Slot, len(r.Results), len(cfg.Profiles)))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInconsistent, errors.Join(problems...))
}
