package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	readLimit           = 1 << 20
	defaultPingInterval = 15 * time.Second
	defaultIdleTimeout  = 30 * time.Second
	subscribeID         = 1
)

// slotsUpdates notification types by commitment level.
var updateTypeByCommitment = map[string]string{
	CommitmentProcessed: "frozen",
	CommitmentConfirmed: "optimisticConfirmation",
	CommitmentFinalized: "root",
}

// WebsocketSource subscribes to slot notifications over Solana's JSON-RPC
// websocket interface.
type WebsocketSource struct {
	endpoint     string
	token        string
	method       string
	updateType   string
	pingInterval time.Duration
	idleTimeout  time.Duration
}

// NewWebsocketSource builds a websocket source from spec, applying defaults.
func NewWebsocketSource(spec Spec) *WebsocketSource {
	s := &WebsocketSource{
		endpoint:     spec.Endpoint,
		token:        spec.AccessToken,
		method:       spec.Method,
		pingInterval: spec.PingInterval,
		idleTimeout:  spec.IdleTimeout,
	}
	if s.method == "" {
		s.method = MethodSlotSubscribe
	}
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = defaultIdleTimeout
	}
	s.updateType = updateTypeByCommitment[spec.Commitment]
	if s.updateType == "" {
		s.updateType = updateTypeByCommitment[CommitmentConfirmed]
	}
	return s
}

// Kind implements Source.
func (s *WebsocketSource) Kind() string { return KindWebsocket }

// Run implements Source.
func (s *WebsocketSource) Run(ctx context.Context, obs Observer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := &websocket.DialOptions{}
	if s.token != "" {
		opts.HTTPHeader = http.Header{"x-token": []string{s.token}}
	}
	conn, _, err := websocket.Dial(ctx, s.endpoint, opts)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.endpoint, err)
	}
	conn.SetReadLimit(readLimit)
	defer conn.Close(websocket.StatusNormalClosure, "shutdown")

	req := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, subscribeID, s.method)
	if err := conn.Write(ctx, websocket.MessageText, []byte(req)); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	pingErr := make(chan error, 1)
	go s.keepalive(ctx, conn, pingErr, cancel)

	for {
		data, receivedNS, err := s.read(ctx, conn, obs)
		if err != nil {
			select {
			case perr := <-pingErr:
				return fmt.Errorf("keepalive: %w", perr)
			default:
			}
			return err
		}
		if err := s.handle(ctx, data, receivedNS, obs); err != nil {
			return err
		}
	}
}

// read waits for the next text frame, failing after the idle timeout. The
// frame is stamped as soon as it is off the wire.
func (s *WebsocketSource) read(ctx context.Context, conn *websocket.Conn, obs Observer) ([]byte, int64, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
	defer cancel()

	typ, data, err := conn.Read(readCtx)
	receivedNS := obs.NowNS()
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, 0, ctx.Err()
		case errors.Is(readCtx.Err(), context.DeadlineExceeded):
			return nil, 0, ErrIdleTimeout
		case websocket.CloseStatus(err) != -1:
			return nil, 0, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		default:
			return nil, 0, fmt.Errorf("read: %w", err)
		}
	}
	if typ != websocket.MessageText {
		return nil, receivedNS, nil
	}
	return data, receivedNS, nil
}

// handle dispatches one JSON-RPC message received at receivedNS.
func (s *WebsocketSource) handle(ctx context.Context, data []byte, receivedNS int64, obs Observer) error {
	if len(data) == 0 {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("%w: invalid json", ErrProtocol)
	}
	msg := gjson.ParseBytes(data)

	if id := msg.Get("id"); id.Exists() && id.Int() == subscribeID {
		if e := msg.Get("error"); e.Exists() {
			return fmt.Errorf("%w: subscribe rejected: %s", ErrProtocol, e.Get("message").String())
		}
		obs.OnConnected(ctx)
		return nil
	}

	switch msg.Get("method").String() {
	case "slotNotification":
		slot := msg.Get("params.result.slot")
		if !slot.Exists() {
			return fmt.Errorf("%w: slot notification without slot", ErrProtocol)
		}
		return obs.OnSlot(ctx, slot.Uint(), receivedNS)
	case "slotsUpdatesNotification":
		res := msg.Get("params.result")
		if res.Get("type").String() != s.updateType {
			return nil
		}
		return obs.OnSlot(ctx, res.Get("slot").Uint(), receivedNS)
	}
	return nil
}

func (s *WebsocketSource) keepalive(ctx context.Context, conn *websocket.Conn, errc chan<- error, cancel context.CancelFunc) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, s.idleTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil && ctx.Err() == nil {
				errc <- err
				cancel()
				return
			}
		}
	}
}
