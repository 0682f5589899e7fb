// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"encoding/json"
	"sync"

	"github.com/eapache/queue"
)

// Event names emitted by the client. Server pushes are emitted under their
// route.
const (
	EventIOError          = "io-error"
	EventClose            = "close"
	EventError            = "error"
	EventHeartbeatTimeout = "heartbeat timeout"
	EventKick             = "onKick"
)

// Event is delivered to listeners. Body is set for pushes and kicks, Err for
// io-error, error and close (nil on a clean close).
type Event struct {
	Name string
	Body json.RawMessage
	Err  error
}

// Listener handles an event. Listeners run on a dispatcher goroutine, one
// event at a time and in emission order, so they may call back into the
// client.
type Listener func(Event)

// ListenerID identifies a registration for Off.
type ListenerID uint64

type listener struct {
	id   ListenerID
	fn   Listener
	once bool
}

// emitter queues events and delivers them from a single goroutine. The
// goroutine exists only while the queue is non-empty.
type emitter struct {
	mu        sync.Mutex
	listeners map[string][]*listener
	pending   *queue.Queue
	running   bool
	nextID    ListenerID
}

// detachAll is queued to drop listeners after earlier events are delivered.
// Listeners registered after it was queued are kept.
type detachAll struct {
	upTo ListenerID
}

func newEmitter() *emitter {
	return &emitter{
		listeners: make(map[string][]*listener),
		pending:   queue.New(),
	}
}

func (e *emitter) on(name string, fn Listener, once bool) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.listeners[name] = append(e.listeners[name], &listener{id: e.nextID, fn: fn, once: once})
	return e.nextID
}

func (e *emitter) off(name string, id ListenerID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(name, id)
}

func (e *emitter) removeLocked(name string, id ListenerID) bool {
	ls := e.listeners[name]
	for i, l := range ls {
		if l.id == id {
			ls = append(ls[:i:i], ls[i+1:]...)
			if len(ls) == 0 {
				delete(e.listeners, name)
			} else {
				e.listeners[name] = ls
			}
			return true
		}
	}
	return false
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]*listener)
}

// dropLocked removes every listener with an id up to upTo.
func (e *emitter) dropLocked(upTo ListenerID) {
	for name, ls := range e.listeners {
		kept := ls[:0:0]
		for _, l := range ls {
			if l.id > upTo {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = kept
		}
	}
}

func (e *emitter) listenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

func (e *emitter) emit(ev Event) {
	e.enqueue(ev)
}

// detach removes the listeners registered so far once the events queued so
// far are delivered.
func (e *emitter) detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueueLocked(detachAll{upTo: e.nextID})
}

func (e *emitter) enqueue(item any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueueLocked(item)
}

func (e *emitter) enqueueLocked(item any) {
	e.pending.Add(item)
	if !e.running {
		e.running = true
		go e.drain()
	}
}

func (e *emitter) drain() {
	for {
		e.mu.Lock()
		if e.pending.Length() == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		item := e.pending.Remove()
		if d, ok := item.(detachAll); ok {
			e.dropLocked(d.upTo)
			e.mu.Unlock()
			continue
		}
		ev := item.(Event)
		ls := make([]*listener, 0, len(e.listeners[ev.Name]))
		for _, l := range e.listeners[ev.Name] {
			ls = append(ls, l)
			if l.once {
				e.removeLocked(ev.Name, l.id)
			}
		}
		e.mu.Unlock()

		for _, l := range ls {
			l.fn(ev)
		}
	}
}
