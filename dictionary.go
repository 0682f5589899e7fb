// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"fmt"
	"maps"
)

// routeDict maps routes to the short codes negotiated in the handshake.
// The zero value is an empty dictionary: every route travels as plain text.
type routeDict struct {
	codes  map[string]uint16
	routes map[uint16]string
}

// Load replaces the active dictionary. Entries whose code does not fit the
// two-byte wire field are returned as skipped.
func (d *routeDict) Load(mapping map[string]int) (skipped []string) {
	d.codes = make(map[string]uint16, len(mapping))
	d.routes = make(map[uint16]string, len(mapping))
	for route, code := range mapping {
		if route == "" || code <= 0 || code > 0xffff {
			skipped = append(skipped, route)
			continue
		}
		d.codes[route] = uint16(code)
		d.routes[uint16(code)] = route
	}
	return skipped
}

// Compress returns the code for route, if the dictionary has one.
func (d *routeDict) Compress(route string) (uint16, bool) {
	code, ok := d.codes[route]
	return code, ok
}

// Expand resolves a route code received from the server.
func (d *routeDict) Expand(code uint16) (string, error) {
	route, ok := d.routes[code]
	if !ok {
		return "", fmt.Errorf("%w: unknown route code %d", ErrMalformedRoute, code)
	}
	return route, nil
}

// Mapping returns a copy of the route to code table.
func (d *routeDict) Mapping() map[string]uint16 {
	return maps.Clone(d.codes)
}
