// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pomelo is a client for the Pomelo game-server protocol.
//
// # Usage
//
//	client, err := pomelo.Dial(ctx, "127.0.0.1:3010", map[string]any{"uid": 42})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(ctx)
//
//	// Server pushes are delivered as events named after their route
//	client.On("onChat", func(ev pomelo.Event) {
//	    fmt.Println(string(ev.Body))
//	})
//
//	// Request waits for the response body
//	body, err := client.Request(ctx, "connector.entryHandler.entry", map[string]any{"rid": 1})
//
//	// Call decodes the response
//	var reply EntryReply
//	err = client.Call(ctx, "connector.entryHandler.entry", req, &reply)
//
//	// Notify expects no response
//	err = client.Notify(ctx, "chat.chatHandler.send", msg)
//
// # Protocol
//
// Every transport delivery carries one or more frames:
//
//	+------+----------------+-------------+
//	| type | length (3B BE) | body        |
//	+------+----------------+-------------+
//
// Frame types are handshake, handshake ack, heartbeat, data and kick. A data
// frame body is a message:
//
//	+------+-----------------+---------------------------+------+
//	| flag | id (varint)     | route (code or len+str)   | body |
//	+------+-----------------+---------------------------+------+
//
// The flag holds the message type (request, notify, response, push) shifted
// left by one and a route-compressed bit. Requests and responses carry an id;
// requests, notifies and pushes carry a route. Routes named in the handshake
// dictionary travel as 2-byte codes.
//
// Bodies are JSON unless the handshake supplied a protobuf schema for the
// route, in which case they are encoded with it (see package protobuf).
// Application code always sees JSON.
//
// # Transports
//
// Websocket (ws, wss) is the default. The tcp transport speaks the same
// frames over a raw TCP stream. Others can be added with RegisterTransport.
//
// # Architecture
//
//   - frame.go, message.go: wire codecs
//   - dictionary.go, codec.go, protobuf/: route and body compression
//   - handshake.go, heartbeat.go: session negotiation and liveness
//   - session.go, client.go: connection state machine and request table
//   - events.go: ordered event delivery to listeners
//   - transport*.go: transport registry and implementations
//   - pomelotest/: an in-process connector for tests
package pomelo
