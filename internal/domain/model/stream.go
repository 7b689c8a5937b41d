// Package model contains domain models passed between layers.
package model

import "strconv"

// StreamID is the zero-based position of a stream in the configured list.
// Lower ids win timestamp ties.
type StreamID int

// StreamIdentity names a configured stream. Immutable after startup.
type StreamIdentity struct {
	ID   StreamID
	Name string
}

// Label returns the display name, falling back to the numeric id.
func (s StreamIdentity) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return "stream-" + strconv.Itoa(int(s.ID))
}

// Identities builds the identity set for the given display names, in order.
func Identities(names ...string) []StreamIdentity {
	out := make([]StreamIdentity, len(names))
	for i, n := range names {
		out[i] = StreamIdentity{ID: StreamID(i), Name: n}
	}
	return out
}
