// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"sync"
	"time"
)

// defaultGapThreshold absorbs timer drift when the timeout watch fires
// slightly before the deadline it was armed for.
const defaultGapThreshold = 100 * time.Millisecond

type stopper interface {
	Stop() bool
}

// clock is the time source of the heartbeat monitor.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) stopper
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// heartbeat schedules keepalive frames and watches for server silence.
//
// At most one send timer is armed at a time. Each timer carries a generation
// so a callback that lost the race against Stop does nothing.
type heartbeat struct {
	interval     time.Duration
	timeout      time.Duration
	gapThreshold time.Duration
	clock        clock
	send         func()
	onTimeout    func()

	mu           sync.Mutex
	stopped      bool
	nextDeadline time.Time
	sendTimer    stopper
	sendGen      uint64
	watchTimer   stopper
	watchGen     uint64
}

func newHeartbeat(interval, timeout time.Duration, clk clock, send, onTimeout func()) *heartbeat {
	if clk == nil {
		clk = systemClock{}
	}
	return &heartbeat{
		interval:     interval,
		timeout:      timeout,
		gapThreshold: defaultGapThreshold,
		clock:        clk,
		send:         send,
		onTimeout:    onTimeout,
	}
}

func (h *heartbeat) enabled() bool {
	return h.interval > 0
}

// touch extends the deadline after any inbound frame.
func (h *heartbeat) touch() {
	if !h.enabled() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.nextDeadline = h.clock.Now().Add(h.timeout)
}

// received handles an inbound HEARTBEAT frame.
func (h *heartbeat) received() {
	if !h.enabled() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	if h.watchTimer != nil {
		h.watchTimer.Stop()
		h.watchTimer = nil
		h.watchGen++
	}
	if h.sendTimer != nil {
		return
	}
	h.sendGen++
	gen := h.sendGen
	h.sendTimer = h.clock.AfterFunc(h.interval, func() { h.fireSend(gen) })
}

func (h *heartbeat) fireSend(gen uint64) {
	h.mu.Lock()
	if h.stopped || gen != h.sendGen {
		h.mu.Unlock()
		return
	}
	h.sendTimer = nil
	h.nextDeadline = h.clock.Now().Add(h.timeout)
	h.armWatch(h.timeout)
	h.mu.Unlock()

	h.send()
}

// armWatch must be called with h.mu held.
func (h *heartbeat) armWatch(d time.Duration) {
	h.watchGen++
	gen := h.watchGen
	h.watchTimer = h.clock.AfterFunc(d, func() { h.fireWatch(gen) })
}

func (h *heartbeat) fireWatch(gen uint64) {
	h.mu.Lock()
	if h.stopped || gen != h.watchGen {
		h.mu.Unlock()
		return
	}
	h.watchTimer = nil
	gap := h.nextDeadline.Sub(h.clock.Now())
	if gap > h.gapThreshold {
		h.armWatch(gap)
		h.mu.Unlock()
		return
	}
	h.stopped = true
	h.mu.Unlock()

	h.onTimeout()
}

// stop cancels both timers. The monitor cannot be restarted.
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	if h.sendTimer != nil {
		h.sendTimer.Stop()
		h.sendTimer = nil
	}
	if h.watchTimer != nil {
		h.watchTimer.Stop()
		h.watchTimer = nil
	}
	h.sendGen++
	h.watchGen++
}
