// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes recorded by Metrics.
const (
	outcomeOK      = "ok"
	outcomeTimeout = "timeout"
	outcomeClosed  = "closed"
	outcomeError   = "error"
)

// Metrics holds the Prometheus collectors of a client. A nil *Metrics
// records nothing.
type Metrics struct {
	framesSent        *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	requests          *prometheus.CounterVec
	requestDuration   prometheus.Histogram
	pendingRequests   prometheus.Gauge
	pushes            prometheus.Counter
	heartbeatTimeouts prometheus.Counter
	malformed         *prometheus.CounterVec
}

// NewMetrics creates the client collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	const ns, sub = "pomelo", "client"
	return &Metrics{
		framesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "frames_sent_total",
			Help: "Frames written to the transport, by frame type.",
		}, []string{"type"}),
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "frames_received_total",
			Help: "Frames decoded from the transport, by frame type.",
		}, []string{"type"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "requests_total",
			Help: "Completed request calls, by outcome.",
		}, []string{"outcome"}),
		requestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "request_duration_seconds",
			Help:    "Time from sending a request to its response.",
			Buckets: prometheus.DefBuckets,
		}),
		pendingRequests: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pending_requests",
			Help: "Requests awaiting a response.",
		}),
		pushes: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "pushes_total",
			Help: "Server pushes delivered to listeners.",
		}),
		heartbeatTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "heartbeat_timeouts_total",
			Help: "Sessions dropped because the server went silent.",
		}),
		malformed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "malformed_total",
			Help: "Inbound input dropped as malformed, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) frameSent(ft FrameType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(ft.String()).Inc()
}

func (m *Metrics) frameReceived(ft FrameType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(ft.String()).Inc()
}

func (m *Metrics) requestDone(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	if outcome == outcomeOK {
		m.requestDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) pendingAdd(delta int) {
	if m == nil {
		return
	}
	m.pendingRequests.Add(float64(delta))
}

func (m *Metrics) push() {
	if m == nil {
		return
	}
	m.pushes.Inc()
}

func (m *Metrics) heartbeatTimeout() {
	if m == nil {
		return
	}
	m.heartbeatTimeouts.Inc()
}

func (m *Metrics) malformedInput(kind string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(kind).Inc()
}
