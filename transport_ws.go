// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsCloseGrace = time.Second

// wsTransport carries frames as binary websocket messages.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func dialWS(scheme string) dialFunc {
	return func(ctx context.Context, addr string, o *options) (Transport, error) {
		url := addr
		if !strings.Contains(addr, "://") {
			url = scheme + "://" + addr + o.path
		}
		dialer := o.wsDialer
		if dialer == nil {
			dialer = websocket.DefaultDialer
		}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, fmt.Errorf("ws dial %s: %w", url, err)
		}
		return &wsTransport{conn: conn}, nil
	}
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Recv(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage || mt == websocket.TextMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) Close() error {
	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsCloseGrace))
	t.writeMu.Unlock()
	return t.conn.Close()
}
