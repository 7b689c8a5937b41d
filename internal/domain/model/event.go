// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// ArrivalEvent records that a stream observed a slot at local receipt time.
type ArrivalEvent struct {
	Stream      StreamID
	Slot        uint64
	TimestampNS int64 // nanoseconds on the shared monotonic clock
}

// LifecycleState describes a stream worker's connection state.
type LifecycleState int

// Lifecycle states emitted by stream workers.
const (
	StateConnecting LifecycleState = iota
	StateConnected
	StateDisconnected
	StateRetrying
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// LifecycleEvent is an observability notification from a stream worker.
// It never mutates race state and may be dropped under pressure.
type LifecycleEvent struct {
	Stream  StreamID
	State   LifecycleState
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}
