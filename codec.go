// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"encoding/json"
	"fmt"

	"github.com/luxfi/pomelo/protobuf"
)

// Schemas is a compiled set of per-route body schemas. Bodies cross this
// boundary as JSON so that schema-compressed and plain routes look the same
// to application code.
type Schemas interface {
	Has(route string) bool
	Encode(route string, body json.RawMessage) ([]byte, error)
	Decode(route string, data []byte) (json.RawMessage, error)
}

// SchemaCompiler builds Schemas from the per-route definitions carried in
// the handshake (sys.protos.client or sys.protos.server).
type SchemaCompiler func(defs map[string]json.RawMessage) (Schemas, error)

// CompileProtobuf is the default SchemaCompiler.
func CompileProtobuf(defs map[string]json.RawMessage) (Schemas, error) {
	c, err := protobuf.Compile(defs)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// bodyCodec picks, per message, between a route schema and plain JSON.
// Outbound bodies use the client schemas, inbound bodies the server schemas.
type bodyCodec struct {
	client Schemas
	server Schemas
}

// encode serializes an outbound body for route.
func (b *bodyCodec) encode(route string, msg any) ([]byte, error) {
	raw, err := marshalBody(msg)
	if err != nil {
		return nil, err
	}
	if b.client != nil && b.client.Has(route) {
		data, err := b.client.Encode(route, raw)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", route, err)
		}
		return data, nil
	}
	return raw, nil
}

// decode turns an inbound body for route into JSON.
func (b *bodyCodec) decode(route string, data []byte) (json.RawMessage, error) {
	if b.server != nil && b.server.Has(route) {
		body, err := b.server.Decode(route, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedBody, route, err)
		}
		return body, nil
	}
	if len(data) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s: invalid JSON", ErrMalformedBody, route)
	}
	return json.RawMessage(data), nil
}

// marshalBody renders msg as JSON. Pre-encoded JSON passes through unchanged
// and a nil message becomes an empty object.
func marshalBody(msg any) (json.RawMessage, error) {
	switch v := msg.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return v, nil
	case []byte:
		if len(v) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.RawMessage(v), nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return data, nil
}
