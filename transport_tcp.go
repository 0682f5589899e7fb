// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
)

// tcpTransport carries frames over a raw TCP stream. Frame boundaries come
// from the frame header, so Recv returns exactly one frame.
type tcpTransport struct {
	conn    net.Conn
	writeMu sync.Mutex
}

func dialTCP(ctx context.Context, addr string, _ *options) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tcp dial: %w", err)
	}
	return NewConnTransport(conn), nil
}

// NewConnTransport wraps an established stream connection.
func NewConnTransport(conn net.Conn) Transport {
	return &tcpTransport{conn: conn}
}

func (t *tcpTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) Recv(ctx context.Context) ([]byte, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(t.conn, header); err != nil {
		return nil, err
	}
	length := frameBodyLength(header)
	buf := make([]byte, FrameHeaderSize+length)
	copy(buf, header)
	if length > 0 {
		if _, err := io.ReadFull(t.conn, buf[FrameHeaderSize:]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (t *tcpTransport) Close() error {
	return t.conn.Close()
}
