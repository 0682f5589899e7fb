// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Handshake status codes.
const (
	HandshakeOK        = 200
	HandshakeOldClient = 501
)

// Default client identity sent in the handshake.
const (
	DefaultClientType    = "go-websocket"
	DefaultClientVersion = "0.0.1"
)

// HandshakeRequest is the JSON body of the client's HANDSHAKE frame.
type HandshakeRequest struct {
	Sys  HandshakeSys `json:"sys"`
	User any          `json:"user"`
}

// HandshakeSys identifies the client library to the server.
type HandshakeSys struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// HandshakeResponse is the JSON body of the server's HANDSHAKE frame.
type HandshakeResponse struct {
	Code int             `json:"code"`
	Sys  HandshakeReply  `json:"sys"`
	User json.RawMessage `json:"user,omitempty"`
}

// HandshakeReply holds the server's negotiated session parameters.
type HandshakeReply struct {
	// Heartbeat is the heartbeat interval in seconds; zero disables heartbeats.
	Heartbeat float64          `json:"heartbeat,omitempty"`
	Dict      map[string]int   `json:"dict,omitempty"`
	Protos    *HandshakeProtos `json:"protos,omitempty"`
}

// HandshakeProtos carries per-route body schemas for each direction.
type HandshakeProtos struct {
	Server  map[string]json.RawMessage `json:"server,omitempty"`
	Client  map[string]json.RawMessage `json:"client,omitempty"`
	Version json.RawMessage            `json:"version,omitempty"`
}

// HandshakeMetadata is what the client keeps from a successful handshake. It
// is immutable for the lifetime of the session.
type HandshakeMetadata struct {
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	Dict              map[string]uint16
	ServerProtos      map[string]json.RawMessage
	ClientProtos      map[string]json.RawMessage
	User              json.RawMessage
}

func (m *HandshakeMetadata) clone() *HandshakeMetadata {
	if m == nil {
		return nil
	}
	c := *m
	c.Dict = maps.Clone(m.Dict)
	c.ServerProtos = maps.Clone(m.ServerProtos)
	c.ClientProtos = maps.Clone(m.ClientProtos)
	return &c
}

func encodeHandshake(clientType, clientVersion string, user any) ([]byte, error) {
	if user == nil {
		user = struct{}{}
	}
	body, err := json.Marshal(&HandshakeRequest{
		Sys:  HandshakeSys{Type: clientType, Version: clientVersion},
		User: user,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal handshake: %w", err)
	}
	return body, nil
}

// decodeHandshake parses the server's response and checks its status code.
func decodeHandshake(body []byte) (*HandshakeResponse, error) {
	var resp HandshakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &HandshakeError{Reason: fmt.Sprintf("invalid handshake body: %v", err)}
	}
	switch resp.Code {
	case HandshakeOK:
		return &resp, nil
	case HandshakeOldClient:
		return nil, &HandshakeError{Code: resp.Code, Reason: "client version not fulfilled"}
	default:
		return nil, &HandshakeError{Code: resp.Code, Reason: "handshake fail"}
	}
}

// heartbeatTimings derives the heartbeat interval and timeout from the
// handshake. The timeout is twice the interval.
func heartbeatTimings(seconds float64) (interval, timeout time.Duration) {
	if seconds <= 0 {
		return 0, 0
	}
	interval = time.Duration(seconds * float64(time.Second))
	return interval, 2 * interval
}
