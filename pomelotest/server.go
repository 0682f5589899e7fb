// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pomelotest provides an in-process Pomelo connector for tests and
// local tooling. It speaks the frame protocol over websocket or raw TCP,
// answers handshakes and heartbeats, routes requests to handlers and can
// push to or kick its clients.
package pomelotest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/luxfi/pomelo"
	"github.com/luxfi/pomelo/protobuf"
)

// ErrNoReply makes the server drop a request without responding.
var ErrNoReply = errors.New("pomelotest: no reply")

// Handler handles requests and notifies sent to a route. The result is
// sent back as the response body; notifies ignore it.
type Handler interface {
	HandlePomelo(ctx context.Context, route string, body json.RawMessage) (any, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, route string, body json.RawMessage) (any, error)

func (f HandlerFunc) HandlePomelo(ctx context.Context, route string, body json.RawMessage) (any, error) {
	return f(ctx, route, body)
}

// Received is a message the server got from a client, with its route
// expanded and its body decoded to JSON.
type Received struct {
	ID         uint32
	Type       pomelo.MessageType
	Route      string
	Compressed bool
	Body       json.RawMessage
}

// Handshake is a client handshake as seen by the server.
type Handshake struct {
	Sys  pomelo.HandshakeSys `json:"sys"`
	User json.RawMessage     `json:"user"`
}

// Option configures a Server.
type Option func(*Server)

// WithHeartbeat sets the heartbeat interval, in seconds, offered in the
// handshake. Fractions are allowed.
func WithHeartbeat(seconds float64) Option {
	return func(s *Server) { s.heartbeat = seconds }
}

// WithDict offers a route dictionary in the handshake.
func WithDict(dict map[string]int) Option {
	return func(s *Server) { s.dict = dict }
}

// WithHeartbeatLimit makes the server go silent after sending n heartbeats.
func WithHeartbeatLimit(n int) Option {
	return func(s *Server) { s.heartbeatLimit = int64(n) }
}

// WithProtos offers body schemas in the handshake. The server encodes its
// own bodies with server and decodes client bodies with client.
func WithProtos(server, client map[string]json.RawMessage) Option {
	return func(s *Server) {
		s.protos = &pomelo.HandshakeProtos{Server: server, Client: client}
	}
}

// WithHandshakeCode makes the server answer handshakes with code.
func WithHandshakeCode(code int) Option {
	return func(s *Server) { s.code = code }
}

// WithUser sets the user payload returned in the handshake.
func WithUser(user any) Option {
	return func(s *Server) { s.user = user }
}

// Server is a Pomelo connector.
type Server struct {
	heartbeat      float64
	heartbeatLimit int64
	dict           map[string]int
	protos         *pomelo.HandshakeProtos
	code           int
	user           any

	routes        map[uint16]string
	serverSchemas *protobuf.Codec
	clientSchemas *protobuf.Codec
	silent        atomic.Bool
	closed        atomic.Bool
	heartbeats    atomic.Int64

	mu         sync.Mutex
	handlers   map[string]Handler
	fallback   Handler
	conns      map[*conn]struct{}
	received   []Received
	handshakes []Handshake

	httpServer *httptest.Server
	listener   net.Listener
	wg         sync.WaitGroup
}

func newServer(opts []Option) (*Server, error) {
	s := &Server{
		code:     pomelo.HandshakeOK,
		handlers: make(map[string]Handler),
		conns:    make(map[*conn]struct{}),
		routes:   make(map[uint16]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	for route, code := range s.dict {
		s.routes[uint16(code)] = route
	}
	if s.protos != nil {
		var err error
		if s.serverSchemas, err = protobuf.Compile(s.protos.Server); err != nil {
			return nil, err
		}
		if s.clientSchemas, err = protobuf.Compile(s.protos.Client); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewServer starts a websocket connector on a loopback port.
func NewServer(opts ...Option) (*Server, error) {
	s, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	s.httpServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.serveConn(&wsConn{conn: ws})
	}))
	return s, nil
}

// NewTCPServer starts a raw TCP connector on a loopback port.
func NewTCPServer(opts ...Option) (*Server, error) {
	s, err := newServer(opts)
	if err != nil {
		return nil, err
	}
	s.listener, err = net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			nc, err := s.listener.Accept()
			if err != nil {
				if s.closed.Load() {
					return
				}
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.serveConn(pomelo.NewConnTransport(nc))
			}()
		}
	}()
	return s, nil
}

// Addr returns the host:port clients dial.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return strings.TrimPrefix(s.httpServer.URL, "http://")
}

// Handle registers h for route.
func (s *Server) Handle(route string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[route] = h
}

// HandleDefault registers h for routes without their own handler.
func (s *Server) HandleDefault(h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = h
}

// SetSilent stops (or resumes) answering client heartbeats.
func (s *Server) SetSilent(silent bool) {
	s.silent.Store(silent)
}

// Received returns the messages received so far.
func (s *Server) Received() []Received {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Received(nil), s.received...)
}

// Handshakes returns the handshakes received so far.
func (s *Server) Handshakes() []Handshake {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Handshake(nil), s.handshakes...)
}

// Connections returns the number of open client connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Push sends a server push to every client that completed the handshake.
func (s *Server) Push(route string, body any) error {
	m := &pomelo.Message{Type: pomelo.MessagePush, Route: route}
	for r, code := range s.dict {
		if r == route {
			m.CompressRoute = true
			m.RouteCode = uint16(code)
		}
	}
	data, err := s.encodeBody(route, body)
	if err != nil {
		return err
	}
	m.Body = data
	payload, err := pomelo.EncodeMessage(m)
	if err != nil {
		return err
	}
	return s.broadcast(pomelo.FrameData, payload)
}

// Kick sends a KICK frame with {"reason": reason} to every client.
func (s *Server) Kick(reason string) error {
	body, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return err
	}
	return s.broadcast(pomelo.FrameKick, body)
}

// SendRaw writes data unchanged to every client, as one delivery.
func (s *Server) SendRaw(data []byte) error {
	var firstErr error
	for _, c := range s.snapshot(false) {
		if err := c.t.Send(context.Background(), data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropConnections closes every client connection abruptly.
func (s *Server) DropConnections() {
	for _, c := range s.snapshot(false) {
		_ = c.t.Close()
	}
}

// Close stops the server and closes its connections.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.DropConnections()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.wg.Wait()
}

func (s *Server) broadcast(ft pomelo.FrameType, body []byte) error {
	frame, err := pomelo.EncodeFrame(ft, body)
	if err != nil {
		return err
	}
	conns := s.snapshot(true)
	if len(conns) == 0 {
		return errors.New("pomelotest: no ready clients")
	}
	var firstErr error
	for _, c := range conns {
		if err := c.t.Send(context.Background(), frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Server) snapshot(readyOnly bool) []*conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		if !readyOnly || c.ready.Load() {
			conns = append(conns, c)
		}
	}
	return conns
}

func (s *Server) encodeBody(route string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	if s.serverSchemas != nil && s.serverSchemas.Has(route) {
		return s.serverSchemas.Encode(route, raw)
	}
	return raw, nil
}

func (s *Server) decodeBody(route string, data []byte) (json.RawMessage, error) {
	if s.clientSchemas != nil && s.clientSchemas.Has(route) {
		return s.clientSchemas.Decode(route, data)
	}
	return json.RawMessage(data), nil
}

type conn struct {
	t     pomelo.Transport
	ready atomic.Bool
}

func (s *Server) serveConn(t pomelo.Transport) {
	c := &conn{t: t}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = t.Close()
	}()

	ctx := context.Background()
	for {
		data, err := t.Recv(ctx)
		if err != nil {
			return
		}
		frames, err := pomelo.DecodeFrames(data)
		if err != nil {
			return
		}
		for _, f := range frames {
			if err := s.handleFrame(ctx, c, f); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleFrame(ctx context.Context, c *conn, f pomelo.Frame) error {
	switch f.Type {
	case pomelo.FrameHandshake:
		return s.handshake(ctx, c, f.Body)
	case pomelo.FrameHandshakeAck:
		c.ready.Store(true)
		return s.replyHeartbeat(ctx, c)
	case pomelo.FrameHeartbeat:
		return s.replyHeartbeat(ctx, c)
	case pomelo.FrameData:
		return s.data(ctx, c, f.Body)
	default:
		return fmt.Errorf("pomelotest: unexpected frame %s", f.Type)
	}
}

func (s *Server) handshake(ctx context.Context, c *conn, body []byte) error {
	var hs Handshake
	if err := json.Unmarshal(body, &hs); err != nil {
		return err
	}
	s.mu.Lock()
	s.handshakes = append(s.handshakes, hs)
	s.mu.Unlock()

	resp := map[string]any{"code": s.code}
	if s.code == pomelo.HandshakeOK {
		resp["sys"] = pomelo.HandshakeReply{Heartbeat: s.heartbeat, Dict: s.dict, Protos: s.protos}
		if s.user != nil {
			resp["user"] = s.user
		}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.send(ctx, c, pomelo.FrameHandshake, data)
}

func (s *Server) replyHeartbeat(ctx context.Context, c *conn) error {
	if s.heartbeat <= 0 || s.silent.Load() {
		return nil
	}
	if n := s.heartbeats.Add(1); s.heartbeatLimit > 0 && n > s.heartbeatLimit {
		return nil
	}
	return s.send(ctx, c, pomelo.FrameHeartbeat, nil)
}

func (s *Server) data(ctx context.Context, c *conn, payload []byte) error {
	msg, err := pomelo.DecodeMessage(payload)
	if err != nil {
		return err
	}
	route := msg.Route
	if msg.CompressRoute {
		r, ok := s.routes[msg.RouteCode]
		if !ok {
			return fmt.Errorf("pomelotest: unknown route code %d", msg.RouteCode)
		}
		route = r
	}
	body, err := s.decodeBody(route, msg.Body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.received = append(s.received, Received{
		ID:         msg.ID,
		Type:       msg.Type,
		Route:      route,
		Compressed: msg.CompressRoute,
		Body:       body,
	})
	h, ok := s.handlers[route]
	if !ok {
		h = s.fallback
	}
	s.mu.Unlock()

	if msg.Type == pomelo.MessageNotify {
		if h != nil {
			go h.HandlePomelo(ctx, route, body)
		}
		return nil
	}

	go func() {
		var reply any
		var err error
		if h == nil {
			reply = map[string]any{"code": 404, "msg": "no handler for " + route}
		} else {
			reply, err = h.HandlePomelo(ctx, route, body)
		}
		if errors.Is(err, ErrNoReply) {
			return
		}
		if err != nil {
			reply = map[string]any{"code": 500, "msg": err.Error()}
		}
		_ = s.respond(ctx, c, msg.ID, route, reply)
	}()
	return nil
}

func (s *Server) respond(ctx context.Context, c *conn, id uint32, route string, reply any) error {
	data, err := s.encodeBody(route, reply)
	if err != nil {
		return err
	}
	payload, err := pomelo.EncodeMessage(&pomelo.Message{ID: id, Type: pomelo.MessageResponse, Body: data})
	if err != nil {
		return err
	}
	return s.send(ctx, c, pomelo.FrameData, payload)
}

func (s *Server) send(ctx context.Context, c *conn, ft pomelo.FrameType, body []byte) error {
	frame, err := pomelo.EncodeFrame(ft, body)
	if err != nil {
		return err
	}
	return c.t.Send(ctx, frame)
}

// wsConn is the server side of a websocket connection.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (w *wsConn) Send(_ context.Context, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConn) Recv(context.Context) ([]byte, error) {
	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
