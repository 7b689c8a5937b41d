package racesim

import "errors"

// Sentinel errors for simulated races.
var (
	ErrBadProfile   = errors.New("invalid stream profile")
	ErrBadConfig    = errors.New("invalid race config")
	ErrInconsistent = errors.New("race results are inconsistent")
)
