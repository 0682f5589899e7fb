// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"errors"
	"fmt"
)

const (
	// FrameHeaderSize is the size of the frame header: one type byte and a
	// 24-bit big-endian body length.
	FrameHeaderSize = 4

	// MaxFrameBodySize is the largest body a 24-bit length can describe.
	MaxFrameBodySize = 1<<24 - 1
)

// FrameType identifies the kind of a frame (a "package" on the Pomelo wire).
type FrameType uint8

const (
	FrameHandshake    FrameType = 1
	FrameHandshakeAck FrameType = 2
	FrameHeartbeat    FrameType = 3
	FrameData         FrameType = 4
	FrameKick         FrameType = 5
)

func (ft FrameType) String() string {
	switch ft {
	case FrameHandshake:
		return "handshake"
	case FrameHandshakeAck:
		return "handshake_ack"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameData:
		return "data"
	case FrameKick:
		return "kick"
	default:
		return "unknown"
	}
}

// Valid reports whether ft is one of the five frame types of the protocol.
func (ft FrameType) Valid() bool {
	return ft >= FrameHandshake && ft <= FrameKick
}

// Frame is the outer envelope exchanged over the transport.
//
// Wire format:
//
//	┌───────────┬─────────────────────────────┬──────────────────┐
//	│ Type      │ Body length                 │ Body             │
//	│ (1 byte)  │ (3 bytes, big-endian)       │ (length bytes)   │
//	└───────────┴─────────────────────────────┴──────────────────┘
//
// A nil Body is encoded with a zero length.
type Frame struct {
	Type FrameType
	Body []byte
}

// EncodeFrame encodes a frame of the given type. Passing no body omits the
// payload segment.
func EncodeFrame(ft FrameType, body []byte) ([]byte, error) {
	if !ft.Valid() {
		return nil, fmt.Errorf("%w: type %d", ErrMalformedFrame, ft)
	}
	length := len(body)
	if length > MaxFrameBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrMalformedFrame, length, MaxFrameBodySize)
	}
	buf := make([]byte, FrameHeaderSize+length)
	buf[0] = byte(ft)
	buf[1] = byte(length >> 16)
	buf[2] = byte(length >> 8)
	buf[3] = byte(length)
	copy(buf[FrameHeaderSize:], body)
	return buf, nil
}

// DecodeFrames splits data into the frames it carries, in arrival order. A
// single transport delivery may hold several concatenated frames.
//
// A frame of unknown type is skipped using its length and decoding goes on
// with the next one. A truncated header or body ends decoding. Either way the
// frames decoded so far are returned together with an error wrapping
// ErrMalformedFrame.
func DecodeFrames(data []byte) ([]Frame, error) {
	var (
		frames []Frame
		errs   []error
	)
	offset := 0
	for offset < len(data) {
		if len(data)-offset < FrameHeaderSize {
			errs = append(errs, fmt.Errorf("%w: truncated header at offset %d", ErrMalformedFrame, offset))
			break
		}
		ft := FrameType(data[offset])
		length := frameBodyLength(data[offset:])
		start := offset
		offset += FrameHeaderSize
		if len(data)-offset < length {
			errs = append(errs, fmt.Errorf("%w: body wants %d bytes, %d left", ErrMalformedFrame, length, len(data)-offset))
			break
		}
		if !ft.Valid() {
			errs = append(errs, fmt.Errorf("%w: type %d at offset %d", ErrMalformedFrame, ft, start))
			offset += length
			continue
		}
		var body []byte
		if length > 0 {
			body = make([]byte, length)
			copy(body, data[offset:offset+length])
		}
		frames = append(frames, Frame{Type: ft, Body: body})
		offset += length
	}
	return frames, errors.Join(errs...)
}

// frameBodyLength reads the 24-bit length from a frame header.
func frameBodyLength(header []byte) int {
	return int(header[1])<<16 | int(header[2])<<8 | int(header[3])
}
