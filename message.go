// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import "fmt"

// MessageType identifies the kind of an application message.
type MessageType uint8

const (
	MessageRequest  MessageType = 0
	MessageNotify   MessageType = 1
	MessageResponse MessageType = 2
	MessagePush     MessageType = 3
)

func (mt MessageType) String() string {
	switch mt {
	case MessageRequest:
		return "request"
	case MessageNotify:
		return "notify"
	case MessageResponse:
		return "response"
	case MessagePush:
		return "push"
	default:
		return "unknown"
	}
}

func (mt MessageType) hasID() bool {
	return mt == MessageRequest || mt == MessageResponse
}

func (mt MessageType) hasRoute() bool {
	return mt == MessageRequest || mt == MessageNotify || mt == MessagePush
}

const (
	msgCompressRouteMask = 0x01
	msgTypeMask          = 0x07
	msgMaxIDBytes        = 5
	msgMaxRouteLen       = 255
)

// Message is the application envelope carried in a DATA frame.
//
// Wire format:
//
//	flag (1 byte): type<<1 | compressRoute
//	id   (varint, 7 bits per byte, low group first) for request and response
//	route for request, notify and push:
//	  compressed: 2-byte big-endian dictionary code
//	  plain:      1-byte length followed by UTF-8 route
//	body (rest of the payload, uninterpreted)
type Message struct {
	ID            uint32
	Type          MessageType
	CompressRoute bool
	Route         string
	RouteCode     uint16
	Body          []byte
}

// EncodeMessage encodes m into a DATA frame payload. Route is used when
// CompressRoute is false, RouteCode otherwise.
func EncodeMessage(m *Message) ([]byte, error) {
	if m.Type > MessagePush {
		return nil, fmt.Errorf("%w: type %d", ErrMalformedMessage, m.Type)
	}
	if m.Type.hasRoute() && !m.CompressRoute && len(m.Route) > msgMaxRouteLen {
		return nil, fmt.Errorf("%w: route %q longer than %d bytes", ErrMalformedMessage, m.Route, msgMaxRouteLen)
	}

	size := 1 + len(m.Body)
	if m.Type.hasID() {
		size += msgMaxIDBytes
	}
	if m.Type.hasRoute() {
		size += 2 + len(m.Route)
	}
	buf := make([]byte, 0, size)

	flag := byte(m.Type) << 1
	if m.CompressRoute {
		flag |= msgCompressRouteMask
	}
	buf = append(buf, flag)

	if m.Type.hasID() {
		id := m.ID
		for {
			b := byte(id & 0x7f)
			id >>= 7
			if id != 0 {
				b |= 0x80
			}
			buf = append(buf, b)
			if id == 0 {
				break
			}
		}
	}

	if m.Type.hasRoute() {
		if m.CompressRoute {
			buf = append(buf, byte(m.RouteCode>>8), byte(m.RouteCode))
		} else {
			buf = append(buf, byte(len(m.Route)))
			buf = append(buf, m.Route...)
		}
	}

	return append(buf, m.Body...), nil
}

// DecodeMessage decodes a DATA frame payload. The body is returned as is;
// route expansion and body decoding are left to the caller.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedMessage)
	}
	flag := data[0]
	m := &Message{
		Type:          MessageType((flag >> 1) & msgTypeMask),
		CompressRoute: flag&msgCompressRouteMask != 0,
	}
	if m.Type > MessagePush {
		return nil, fmt.Errorf("%w: type %d", ErrMalformedMessage, m.Type)
	}
	offset := 1

	if m.Type.hasID() {
		var id uint64
		for i := 0; ; i++ {
			if i >= msgMaxIDBytes {
				return nil, fmt.Errorf("%w: id overflows %d bytes", ErrMalformedMessage, msgMaxIDBytes)
			}
			if offset >= len(data) {
				return nil, fmt.Errorf("%w: truncated id", ErrMalformedMessage)
			}
			b := data[offset]
			offset++
			id |= uint64(b&0x7f) << (7 * i)
			if b < 0x80 {
				break
			}
		}
		if id > uint64(^uint32(0)) {
			return nil, fmt.Errorf("%w: id %d out of range", ErrMalformedMessage, id)
		}
		m.ID = uint32(id)
	}

	if m.Type.hasRoute() {
		if m.CompressRoute {
			if len(data)-offset < 2 {
				return nil, fmt.Errorf("%w: truncated route code", ErrMalformedMessage)
			}
			m.RouteCode = uint16(data[offset])<<8 | uint16(data[offset+1])
			offset += 2
		} else {
			if offset >= len(data) {
				return nil, fmt.Errorf("%w: missing route length", ErrMalformedMessage)
			}
			routeLen := int(data[offset])
			offset++
			if len(data)-offset < routeLen {
				return nil, fmt.Errorf("%w: truncated route", ErrMalformedMessage)
			}
			m.Route = string(data[offset : offset+routeLen])
			offset += routeLen
		}
	}

	if offset < len(data) {
		m.Body = make([]byte, len(data)-offset)
		copy(m.Body, data[offset:])
	}
	return m, nil
}
