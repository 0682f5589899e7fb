// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is the connection state of a client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// pendingRequest is a request awaiting its response. Responses carry no
// route, so the route is kept to pick the body schema.
type pendingRequest struct {
	route string
	done  chan result
}

type result struct {
	body json.RawMessage
	err  error
}

// session is the state of one connection. A new session is created for
// every Connect; it is never reused once shut down.
type session struct {
	id  ulid.ULID
	log *slog.Logger

	mu        sync.Mutex
	state     State
	transport Transport
	closing   bool
	cause     error
	meta      *HandshakeMetadata
	dict      routeDict
	codec     bodyCodec
	hb        *heartbeat
	nextID    uint32
	pending   map[uint32]*pendingRequest

	ready     chan error
	readyOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
	closeOnce sync.Once
}

func newSession(log *slog.Logger) *session {
	id := ulid.Make()
	return &session{
		id:       id,
		log:      log.With("session", id.String()),
		state:    StateConnecting,
		pending:  make(map[uint32]*pendingRequest),
		ready:    make(chan error, 1),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (s *session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closing {
		s.state = st
	}
}

// attach installs the transport unless the session was shut down while
// dialing.
func (s *session) attach(t Transport) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.transport = t
	s.state = StateHandshaking
	return true
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// closeCause is why the session was shut down, nil for a local disconnect.
func (s *session) closeCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// resolveReady completes the connect wait at most once.
func (s *session) resolveReady(err error) {
	s.readyOnce.Do(func() {
		s.ready <- err
	})
}

// configure applies the handshake metadata. It runs once per session.
func (s *session) configure(resp *HandshakeResponse, o *options, hb *heartbeat) (*HandshakeMetadata, error) {
	meta := &HandshakeMetadata{User: resp.User}
	meta.HeartbeatInterval, meta.HeartbeatTimeout = heartbeatTimings(resp.Sys.Heartbeat)

	var codec bodyCodec
	if p := resp.Sys.Protos; p != nil {
		meta.ServerProtos = p.Server
		meta.ClientProtos = p.Client
		var err error
		if len(p.Client) > 0 {
			if codec.client, err = o.compiler(p.Client); err != nil {
				return nil, fmt.Errorf("compile client protos: %w", err)
			}
		}
		if len(p.Server) > 0 {
			if codec.server, err = o.compiler(p.Server); err != nil {
				return nil, fmt.Errorf("compile server protos: %w", err)
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if skipped := s.dict.Load(resp.Sys.Dict); len(skipped) > 0 {
		s.log.Warn("ignoring route dictionary entries with invalid codes", "routes", skipped)
	}
	meta.Dict = s.dict.Mapping()
	s.codec = codec
	s.meta = meta
	s.hb = hb
	return meta, nil
}

func (s *session) heartbeat() *heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hb
}

func (s *session) metadata() *HandshakeMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta.clone()
}

// register allocates the next request id. Ids are never reused on a session.
func (s *session) register(route string) (uint32, *pendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return 0, nil, ErrClosed
	}
	if s.nextID == math.MaxUint32 {
		return 0, nil, ErrRequestIDExhausted
	}
	s.nextID++
	pr := &pendingRequest{route: route, done: make(chan result, 1)}
	s.pending[s.nextID] = pr
	return s.nextID, pr, nil
}

// take removes and returns the pending request for id.
func (s *session) take(id uint32) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	return pr
}

// abandon drops every pending request without completing it and returns
// how many there were.
func (s *session) abandon() int {
	n := len(s.pending)
	s.pending = nil
	return n
}

func (s *session) encodeBody(route string, msg any) ([]byte, error) {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	return codec.encode(route, msg)
}

func (s *session) decodeBody(route string, data []byte) (json.RawMessage, error) {
	s.mu.Lock()
	codec := s.codec
	s.mu.Unlock()
	return codec.decode(route, data)
}

func (s *session) expandRoute(code uint16) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dict.Expand(code)
}

// writeMessage compresses the route when the dictionary knows it and sends
// the message as a DATA frame.
func (s *session) writeMessage(ctx context.Context, m *Message, metrics *Metrics) error {
	s.mu.Lock()
	if code, ok := s.dict.Compress(m.Route); ok {
		m.CompressRoute = true
		m.RouteCode = code
	}
	s.mu.Unlock()

	payload, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return s.writeFrame(ctx, FrameData, payload, metrics)
}

func (s *session) writeFrame(ctx context.Context, ft FrameType, body []byte, metrics *Metrics) error {
	data, err := EncodeFrame(ft, body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	t := s.transport
	closing := s.closing
	s.mu.Unlock()
	if t == nil || closing {
		return ErrClosed
	}
	if err := t.Send(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", ft, err)
	}
	metrics.frameSent(ft)
	return nil
}

// writeFrameTimeout sends a frame on behalf of the client itself (handshake
// ack, heartbeats) with its own bound.
func (s *session) writeFrameTimeout(ft FrameType, body []byte, timeout time.Duration, metrics *Metrics) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.writeFrame(ctx, ft, body, metrics)
}
