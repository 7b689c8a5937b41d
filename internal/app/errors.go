package service

import "errors"

// Sentinel errors returned by the service.
var (
	ErrNotStarted = errors.New("service not started")
	ErrStopped    = errors.New("service stopped")
	ErrSources    = errors.New("sources do not match streams")
)
