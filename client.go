// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/luxfi/pomelo"

// Client is a Pomelo protocol client. It holds at most one session at a
// time; after the session ends the client may Connect again.
type Client struct {
	opts    *options
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
	events  *emitter

	mu   sync.Mutex
	sess *session
}

// New creates a disconnected client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	o.resolve()
	return &Client{
		opts:    o,
		log:     o.logger,
		tracer:  o.tracerProvider.Tracer(tracerName),
		metrics: o.metrics,
		events:  newEmitter(),
	}
}

// State returns the state of the current session.
func (c *Client) State() State {
	s := c.session()
	if s == nil {
		return StateDisconnected
	}
	return s.getState()
}

// Metadata returns a copy of the handshake metadata of the current
// session, or nil before the handshake completes.
func (c *Client) Metadata() *HandshakeMetadata {
	s := c.session()
	if s == nil {
		return nil
	}
	return s.metadata()
}

// On registers fn for the named event. Server pushes are emitted under
// their route.
func (c *Client) On(name string, fn Listener) ListenerID {
	return c.events.on(name, fn, false)
}

// Once registers fn for the next occurrence of the named event only.
func (c *Client) Once(name string, fn Listener) ListenerID {
	return c.events.on(name, fn, true)
}

// Off removes a listener registered with On or Once.
func (c *Client) Off(name string, id ListenerID) bool {
	return c.events.off(name, id)
}

// RemoveAllListeners removes every listener.
func (c *Client) RemoveAllListeners() {
	c.events.removeAll()
}

func (c *Client) session() *session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

func (c *Client) readySession() (*session, error) {
	s := c.session()
	if s == nil || s.getState() != StateReady {
		return nil, ErrNotConnected
	}
	return s, nil
}

// Connect opens the transport to addr, performs the handshake with user as
// the handshake payload and returns once the session is ready.
//
// If the bound elapses first Connect returns ErrTimeout, but the attempt is
// not cancelled: a late handshake still brings the session up.
func (c *Client) Connect(ctx context.Context, addr string, user any) (err error) {
	ctx, span := c.tracer.Start(ctx, "pomelo.connect", trace.WithAttributes(
		attribute.String("pomelo.addr", addr),
		attribute.String("pomelo.transport", c.opts.transport),
	))
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()

	dial, ok := lookupTransport(c.opts.transport)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTransport, c.opts.transport)
	}
	handshake, err := encodeHandshake(c.opts.clientType, c.opts.clientVersion, user)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	s := newSession(c.log)
	c.sess = s
	c.mu.Unlock()

	t, err := dial(ctx, addr, c.opts)
	if err != nil {
		c.shutdown(s, err, nil)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: connect %s: %v", ErrTimeout, addr, err)
		}
		return err
	}
	if !s.attach(t) {
		_ = t.Close()
		return ErrClosed
	}
	s.log.Info("transport open", "addr", addr, "transport", c.opts.transport)
	go c.readLoop(s)

	if err := s.writeFrame(ctx, FrameHandshake, handshake, c.metrics); err != nil {
		c.shutdown(s, err, nil)
		return err
	}

	select {
	case err := <-s.ready:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.log.Warn("connect timeout", "addr", addr)
			return fmt.Errorf("%w: connect %s", ErrTimeout, addr)
		}
		return ctx.Err()
	}
}

// Request sends msg to route and waits for the response body, as JSON.
//
// The wait is bounded by the request timeout. A response arriving after the
// bound is discarded.
func (c *Client) Request(ctx context.Context, route string, msg any) (body json.RawMessage, err error) {
	if route == "" {
		return nil, ErrEmptyRoute
	}
	ctx, span := c.tracer.Start(ctx, "pomelo.request", trace.WithAttributes(
		attribute.String("pomelo.route", route),
	))
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()

	s, err := c.readySession()
	if err != nil {
		return nil, err
	}
	if err := c.throttle(ctx); err != nil {
		return nil, err
	}
	data, err := s.encodeBody(route, msg)
	if err != nil {
		return nil, err
	}
	id, pr, err := s.register(route)
	if err != nil {
		return nil, err
	}
	c.metrics.pendingAdd(1)
	span.SetAttributes(attribute.Int64("pomelo.request_id", int64(id)))

	start := time.Now()
	if err := s.writeMessage(ctx, &Message{ID: id, Type: MessageRequest, Route: route, Body: data}, c.metrics); err != nil {
		if s.take(id) != nil {
			c.metrics.pendingAdd(-1)
		}
		c.metrics.requestDone(outcomeError, 0)
		return nil, err
	}
	s.log.Debug("request sent", "route", route, "id", id)

	select {
	case res := <-pr.done:
		return c.finishRequest(res, start)
	case <-s.done:
		select {
		case res := <-pr.done:
			return c.finishRequest(res, start)
		default:
		}
		c.metrics.requestDone(outcomeClosed, 0)
		return nil, ErrClosed
	case <-ctx.Done():
		if s.take(id) != nil {
			c.metrics.pendingAdd(-1)
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.requestDone(outcomeTimeout, 0)
			s.log.Warn("request timeout", "route", route, "id", id)
			return nil, fmt.Errorf("%w: request %s", ErrTimeout, route)
		}
		c.metrics.requestDone(outcomeError, 0)
		return nil, ctx.Err()
	}
}

func (c *Client) finishRequest(res result, start time.Time) (json.RawMessage, error) {
	if res.err != nil {
		c.metrics.requestDone(outcomeError, 0)
		return nil, res.err
	}
	c.metrics.requestDone(outcomeOK, time.Since(start))
	return res.body, nil
}

// Call is Request with the response decoded into reply.
func (c *Client) Call(ctx context.Context, route string, msg, reply any) error {
	body, err := c.Request(ctx, route, msg)
	if err != nil {
		return err
	}
	if reply != nil && len(body) > 0 {
		if err := json.Unmarshal(body, reply); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
	}
	return nil
}

// Notify sends msg to route without expecting a response.
func (c *Client) Notify(ctx context.Context, route string, msg any) (err error) {
	if route == "" {
		return ErrEmptyRoute
	}
	ctx, span := c.tracer.Start(ctx, "pomelo.notify", trace.WithAttributes(
		attribute.String("pomelo.route", route),
	))
	defer func() { endSpan(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.opts.requestTimeout)
	defer cancel()

	s, err := c.readySession()
	if err != nil {
		return err
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}
	data, err := s.encodeBody(route, msg)
	if err != nil {
		return err
	}
	return s.writeMessage(ctx, &Message{Type: MessageNotify, Route: route, Body: data}, c.metrics)
}

// Disconnect closes the session: the transport is closed, heartbeat timers
// are cancelled, pending requests are abandoned and, once the close event
// has been delivered, all listeners are removed.
func (c *Client) Disconnect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.disconnectTimeout)
	defer cancel()

	s := c.session()
	if s == nil {
		return nil
	}
	c.shutdown(s, ErrClosed, nil)

	select {
	case <-s.readDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: disconnect", ErrTimeout)
	}
}

func (c *Client) throttle(ctx context.Context) error {
	if c.opts.limiter == nil {
		return nil
	}
	if err := c.opts.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// shutdown tears the session down exactly once. A non-nil failure event is
// emitted after the session state is gone but before the transport closes,
// so it always precedes the close event.
func (c *Client) shutdown(s *session, cause error, failure *Event) {
	s.closeOnce.Do(func() {
		c.mu.Lock()
		if c.sess == s {
			c.sess = nil
		}
		c.mu.Unlock()

		s.mu.Lock()
		s.closing = true
		if !errors.Is(cause, ErrClosed) {
			s.cause = cause
		}
		s.state = StateDisconnected
		t, hb := s.transport, s.hb
		abandoned := s.abandon()
		s.mu.Unlock()

		if hb != nil {
			hb.stop()
		}
		c.metrics.pendingAdd(-abandoned)
		close(s.done)
		s.resolveReady(cause)
		if failure != nil {
			c.events.emit(*failure)
		}
		s.log.Info("session closed", "cause", cause, "abandoned", abandoned)

		if t != nil {
			_ = t.Close()
			return
		}
		// No read loop was started, so nothing else reports the close.
		close(s.readDone)
		c.events.emit(Event{Name: EventClose, Err: s.closeCause()})
		c.events.detach()
	})
}

func (c *Client) readLoop(s *session) {
	defer close(s.readDone)

	ctx := context.Background()
	for {
		data, err := s.transport.Recv(ctx)
		if err != nil {
			c.transportDone(s, err)
			return
		}
		frames, err := DecodeFrames(data)
		for _, f := range frames {
			c.handleFrame(s, f)
		}
		if err != nil {
			c.metrics.malformedInput("frame")
			s.log.Error("dropping malformed frame", "err", err)
		}
		if len(frames) > 0 {
			if hb := s.heartbeat(); hb != nil {
				hb.touch()
			}
		}
	}
}

// transportDone runs when the transport stops delivering. It reports
// unexpected failures, tears the session down and detaches listeners after
// the close event.
func (c *Client) transportDone(s *session, err error) {
	expected := s.isClosing() || cleanClose(err)
	if expected {
		c.shutdown(s, ErrClosed, nil)
	} else {
		s.log.Warn("transport error", "err", err)
		c.shutdown(s, err, &Event{Name: EventIOError, Err: err})
	}

	c.events.emit(Event{Name: EventClose, Err: s.closeCause()})
	c.events.detach()
}

func (c *Client) handleFrame(s *session, f Frame) {
	c.metrics.frameReceived(f.Type)
	switch f.Type {
	case FrameHandshake:
		c.onHandshake(s, f.Body)
	case FrameHeartbeat:
		if hb := s.heartbeat(); hb != nil {
			hb.received()
		}
	case FrameData:
		c.onData(s, f.Body)
	case FrameKick:
		c.onKick(s, f.Body)
	case FrameHandshakeAck:
		s.log.Warn("ignoring handshake ack from server")
	}
}

func (c *Client) onHandshake(s *session, body []byte) {
	if st := s.getState(); st != StateHandshaking {
		s.log.Warn("ignoring handshake in unexpected state", "state", st)
		return
	}
	resp, err := decodeHandshake(body)
	if err != nil {
		c.failHandshake(s, err)
		return
	}

	interval, timeout := heartbeatTimings(resp.Sys.Heartbeat)
	hb := newHeartbeat(interval, timeout, c.opts.clock,
		func() {
			if err := s.writeFrameTimeout(FrameHeartbeat, nil, c.opts.requestTimeout, c.metrics); err != nil {
				s.log.Warn("heartbeat send failed", "err", err)
			}
		},
		func() { c.heartbeatExpired(s) },
	)
	meta, err := s.configure(resp, c.opts, hb)
	if err != nil {
		c.failHandshake(s, &HandshakeError{Code: resp.Code, Reason: err.Error()})
		return
	}
	hb.touch()

	if c.opts.onHandshake != nil {
		c.opts.onHandshake(resp.User)
	}
	if err := s.writeFrameTimeout(FrameHandshakeAck, nil, c.opts.requestTimeout, c.metrics); err != nil {
		s.log.Error("handshake ack failed", "err", err)
		c.shutdown(s, err, nil)
		return
	}
	s.setState(StateReady)
	s.log.Info("session ready",
		"heartbeat", meta.HeartbeatInterval,
		"dict", len(meta.Dict),
		"server_protos", len(meta.ServerProtos),
		"client_protos", len(meta.ClientProtos),
	)
	s.resolveReady(nil)
}

func (c *Client) failHandshake(s *session, err error) {
	s.log.Error("handshake failed", "err", err)
	c.shutdown(s, err, &Event{Name: EventError, Err: err})
}

func (c *Client) heartbeatExpired(s *session) {
	s.log.Error("server heartbeat timeout")
	c.metrics.heartbeatTimeout()
	c.shutdown(s, ErrHeartbeatTimeout, &Event{Name: EventHeartbeatTimeout, Err: ErrHeartbeatTimeout})
}

func (c *Client) onData(s *session, payload []byte) {
	msg, err := DecodeMessage(payload)
	if err != nil {
		c.metrics.malformedInput("message")
		s.log.Error("dropping malformed message", "err", err)
		return
	}
	if msg.ID > 0 {
		c.onResponse(s, msg)
		return
	}
	c.onPush(s, msg)
}

func (c *Client) onResponse(s *session, msg *Message) {
	pr := s.take(msg.ID)
	if pr == nil {
		s.log.Debug("dropping response for unknown request", "id", msg.ID)
		return
	}
	c.metrics.pendingAdd(-1)
	body, err := s.decodeBody(pr.route, msg.Body)
	if err != nil {
		c.metrics.malformedInput("body")
		s.log.Error("malformed response body", "route", pr.route, "id", msg.ID, "err", err)
	}
	pr.done <- result{body: body, err: err}
}

func (c *Client) onPush(s *session, msg *Message) {
	route := msg.Route
	if msg.CompressRoute {
		var err error
		if route, err = s.expandRoute(msg.RouteCode); err != nil {
			c.metrics.malformedInput("route")
			s.log.Error("dropping push", "err", err)
			return
		}
	}
	body, err := s.decodeBody(route, msg.Body)
	if err != nil {
		c.metrics.malformedInput("body")
		s.log.Error("dropping push with malformed body", "route", route, "err", err)
		c.events.emit(Event{Name: EventError, Err: err})
		return
	}
	c.metrics.push()
	s.log.Debug("push", "route", route)
	c.events.emit(Event{Name: route, Body: body})
}

func (c *Client) onKick(s *session, body []byte) {
	s.log.Info("kicked by server", "reason", string(body))
	ev := Event{Name: EventKick}
	if len(body) > 0 && json.Valid(body) {
		ev.Body = json.RawMessage(body)
	}
	c.events.emit(ev)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
