// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"net"
	"strconv"
)

// Dial creates a client and connects it to addr using the default transport
// (websocket) unless WithTransport says otherwise.
func Dial(ctx context.Context, addr string, user any, opts ...Option) (*Client, error) {
	c := New(opts...)
	if err := c.Connect(ctx, addr, user); err != nil {
		return nil, err
	}
	return c, nil
}

// Address joins host and an optional port into a dial address. A zero port
// leaves the host as is.
func Address(host string, port int) string {
	if port <= 0 {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
