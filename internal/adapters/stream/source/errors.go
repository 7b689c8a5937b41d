package source

import "errors"

// Sentinel errors returned by sources. A session ending with any of them
// is retried by the stream worker.
var (
	ErrStreamClosed     = errors.New("stream closed by remote")
	ErrIdleTimeout      = errors.New("no message within idle timeout")
	ErrProtocol         = errors.New("protocol error")
	ErrSimulatedFailure = errors.New("simulated stream failure")
	ErrUnknownKind      = errors.New("unknown source kind")
	ErrNoChain          = errors.New("simulated source needs a chain")
)
