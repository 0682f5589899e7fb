// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"errors"
	"io"
	"net"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
)

// Transport types
const (
	TransportWS  = "ws"  // Websocket connector, default
	TransportWSS = "wss" // Websocket over TLS
	TransportTCP = "tcp" // Raw TCP (hybrid connector)
)

// DefaultTransport is the default transport type (websocket)
const DefaultTransport = TransportWS

// Transport is an ordered, reliable byte-stream carrying whole frames. Recv
// returns one delivery, which may hold several concatenated frames. Close
// unblocks a pending Recv.
type Transport interface {
	io.Closer
	Send(ctx context.Context, data []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

type dialFunc func(ctx context.Context, addr string, o *options) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]dialFunc{
		TransportWS:  dialWS("ws"),
		TransportWSS: dialWS("wss"),
		TransportTCP: dialTCP,
	}
)

// registerTransport registers a new transport
func registerTransport(name string, dial dialFunc) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[name] = dial
}

// RegisterTransport makes a custom transport available to WithTransport.
func RegisterTransport(name string, dial func(ctx context.Context, addr string) (Transport, error)) {
	registerTransport(name, func(ctx context.Context, addr string, _ *options) (Transport, error) {
		return dial(ctx, addr)
	})
}

func lookupTransport(name string) (dialFunc, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	dial, ok := transports[name]
	return dial, ok
}

// AvailableTransports returns the registered transport names, sorted
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for name := range transports {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a transport is available
func HasTransport(name string) bool {
	_, ok := lookupTransport(name)
	return ok
}

// cleanClose reports whether a Recv error is an orderly end of stream rather
// than a transport failure.
func cleanClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
