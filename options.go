// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Default bounds on the caller-facing waits.
const (
	DefaultRequestTimeout    = 8 * time.Second
	DefaultConnectTimeout    = 10 * time.Second
	DefaultDisconnectTimeout = 10 * time.Second
)

// Option configures a Client.
type Option func(*options)

type options struct {
	transport         string
	path              string
	requestTimeout    time.Duration
	connectTimeout    time.Duration
	disconnectTimeout time.Duration
	clientType        string
	clientVersion     string
	onHandshake       func(user json.RawMessage)
	compiler          SchemaCompiler
	logger            *slog.Logger
	metrics           *Metrics
	tracerProvider    trace.TracerProvider
	limiter           *rate.Limiter
	wsDialer          *websocket.Dialer
	clock             clock
}

func defaultOptions() *options {
	return &options{
		transport:         DefaultTransport,
		requestTimeout:    DefaultRequestTimeout,
		connectTimeout:    DefaultConnectTimeout,
		disconnectTimeout: DefaultDisconnectTimeout,
		clientType:        DefaultClientType,
		clientVersion:     DefaultClientVersion,
		compiler:          CompileProtobuf,
		clock:             systemClock{},
	}
}

// WithTransport selects the transport by name (see AvailableTransports).
func WithTransport(name string) Option {
	return func(o *options) { o.transport = name }
}

// WithPath sets the URL path used by websocket transports.
func WithPath(path string) Option {
	return func(o *options) { o.path = path }
}

// WithRequestTimeout bounds how long Request waits for a response.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithConnectTimeout bounds how long Connect waits for the handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithDisconnectTimeout bounds how long Disconnect waits for the transport
// to close.
func WithDisconnectTimeout(d time.Duration) Option {
	return func(o *options) { o.disconnectTimeout = d }
}

// WithClientInfo overrides the client type and version sent in the
// handshake. Servers may reject versions they do not support.
func WithClientInfo(clientType, version string) Option {
	return func(o *options) {
		o.clientType = clientType
		o.clientVersion = version
	}
}

// WithHandshakeCallback receives the server's user payload after a
// successful handshake, before Connect returns.
func WithHandshakeCallback(fn func(user json.RawMessage)) Option {
	return func(o *options) { o.onHandshake = fn }
}

// WithSchemaCompiler replaces the protobuf schema codec.
func WithSchemaCompiler(c SchemaCompiler) Option {
	return func(o *options) { o.compiler = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records client metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the OpenTelemetry tracer provider. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithRateLimit throttles outgoing requests and notifies.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) { o.limiter = rate.NewLimiter(limit, burst) }
}

// WithWebsocketDialer sets the dialer used by the ws and wss transports.
func WithWebsocketDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.wsDialer = d }
}

func (o *options) resolve() {
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.compiler == nil {
		o.compiler = CompileProtobuf
	}
	if o.clock == nil {
		o.clock = systemClock{}
	}
}
