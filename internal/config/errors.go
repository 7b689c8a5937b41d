package config

import (
	"errors"
)

// Sentinel errors. Load wraps every failure in one of them.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)
