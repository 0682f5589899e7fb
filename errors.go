// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame     = errors.New("pomelo: malformed frame")
	ErrMalformedMessage   = errors.New("pomelo: malformed message")
	ErrMalformedRoute     = errors.New("pomelo: malformed route")
	ErrMalformedBody      = errors.New("pomelo: malformed body")
	ErrHandshakeRejected  = errors.New("pomelo: handshake rejected")
	ErrTimeout            = errors.New("pomelo: timeout")
	ErrHeartbeatTimeout   = errors.New("pomelo: server heartbeat timeout")
	ErrClosed             = errors.New("pomelo: connection closed")
	ErrNotConnected       = errors.New("pomelo: not connected")
	ErrAlreadyConnected   = errors.New("pomelo: already connected")
	ErrRequestIDExhausted = errors.New("pomelo: request id space exhausted")
	ErrEmptyRoute         = errors.New("pomelo: empty route")
	ErrUnknownTransport   = errors.New("pomelo: unknown transport")
)

// HandshakeError reports a handshake response whose code was not OK.
type HandshakeError struct {
	Code   int
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("pomelo: handshake rejected (code %d): %s", e.Code, e.Reason)
}

func (e *HandshakeError) Unwrap() error {
	return ErrHandshakeRejected
}
