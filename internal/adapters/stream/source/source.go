// Package source adapts slot providers to a common session interface.
//
// A Source runs one connection session at a time. Reconnection, backoff and
// timestamping live in the stream worker; a source only reports what it sees.
package source

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Source kinds.
const (
	KindWebsocket = "websocket"
	KindSimulated = "simulated"
)

// Subscription methods understood by the websocket source.
const (
	MethodSlotSubscribe         = "slotSubscribe"
	MethodSlotsUpdatesSubscribe = "slotsUpdatesSubscribe"
)

// Commitment levels.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Observer receives session events. Implementations must be safe to call
// from the source's goroutine only.
type Observer interface {
	// OnConnected is called once the subscription is live.
	OnConnected(ctx context.Context)
	// NowNS stamps a frame. Sources call it as soon as the frame is read,
	// before decoding it.
	NowNS() int64
	// OnSlot reports a slot stamped at receivedNS. A non-nil error ends the
	// session and is returned from Run.
	OnSlot(ctx context.Context, slot uint64, receivedNS int64) error
}

// Source produces slot notifications for one stream.
type Source interface {
	// Kind names the provider type.
	Kind() string
	// Run connects, subscribes and reports slots until the session fails or
	// ctx is done. It always returns a non-nil error.
	Run(ctx context.Context, obs Observer) error
}

// Spec describes how to reach one stream.
type Spec struct {
	Name         string
	Kind         string
	Endpoint     string
	AccessToken  string
	Method       string
	Commitment   string
	PingInterval time.Duration
	IdleTimeout  time.Duration
	Sim          SimSpec
}

// New builds the source described by spec. Simulated sources share chain.
func New(spec Spec, chain *Chain) (Source, error) {
	switch strings.ToLower(spec.Kind) {
	case "", KindWebsocket:
		return NewWebsocketSource(spec), nil
	case KindSimulated:
		if chain == nil {
			return nil, fmt.Errorf("simulated stream %q: %w", spec.Name, ErrNoChain)
		}
		return NewSimulatedSource(chain, spec.Sim), nil
	default:
		return nil, fmt.Errorf("stream %q kind %q: %w", spec.Name, spec.Kind, ErrUnknownKind)
	}
}
