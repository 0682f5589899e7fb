// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMessageRequest(t *testing.T) {
	data, err := EncodeMessage(&Message{
		ID:    1,
		Type:  MessageRequest,
		Route: "room.join",
		Body:  []byte(`{"rid":1}`),
	})
	require.NoError(t, err)

	want := []byte{0x00, 0x01, 0x09}
	want = append(want, "room.join"...)
	want = append(want, `{"rid":1}`...)
	assert.Equal(t, want, data)
}

func TestEncodeMessageCompressedNotify(t *testing.T) {
	data, err := EncodeMessage(&Message{
		Type:          MessageNotify,
		CompressRoute: true,
		RouteCode:     0x0102,
		Body:          []byte("{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x01, 0x02, '{', '}'}, data)
}

func TestEncodeMessageResponseHasNoRoute(t *testing.T) {
	data, err := EncodeMessage(&Message{
		ID:    5,
		Type:  MessageResponse,
		Route: "ignored",
		Body:  []byte("{}"),
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x05, '{', '}'}, data)
}

func TestMessageIDVarint(t *testing.T) {
	tests := []struct {
		id   uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{math.MaxUint32, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		data, err := EncodeMessage(&Message{ID: tt.id, Type: MessageResponse})
		require.NoError(t, err)
		assert.Equal(t, tt.want, data[1:], "id %d", tt.id)

		m, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, tt.id, m.ID)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"request", Message{ID: 42, Type: MessageRequest, Route: "connector.entryHandler.entry", Body: []byte(`{"uid":7}`)}},
		{"request compressed", Message{ID: 1000, Type: MessageRequest, CompressRoute: true, RouteCode: 7, Body: []byte(`{}`)}},
		{"notify", Message{Type: MessageNotify, Route: "chat.send", Body: []byte(`{"msg":"hi"}`)}},
		{"response", Message{ID: 3, Type: MessageResponse, Body: []byte(`{"code":200}`)}},
		{"push", Message{Type: MessagePush, Route: "onChat", Body: []byte(`{"from":"a"}`)}},
		{"push compressed", Message{Type: MessagePush, CompressRoute: true, RouteCode: 0xffff, Body: []byte{0x0a, 0x02, 'h', 'i'}}},
		{"empty body", Message{Type: MessageNotify, Route: "ping"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMessage(&tt.msg)
			require.NoError(t, err)

			got, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, &tt.msg, got)
		})
	}
}

func TestEncodeMessageRejects(t *testing.T) {
	_, err := EncodeMessage(&Message{Type: MessageType(4), Route: "x"})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = EncodeMessage(&Message{Type: MessageNotify, Route: strings.Repeat("r", 256)})
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = EncodeMessage(&Message{Type: MessageNotify, Route: strings.Repeat("r", 255)})
	assert.NoError(t, err)
}

func TestDecodeMessageMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad type", []byte{0x0a}},
		{"truncated id", []byte{0x00, 0x80}},
		{"missing id", []byte{0x04}},
		{"id too long", []byte{0x04, 0x80, 0x80, 0x80, 0x80, 0x80, 0x01}},
		{"id out of range", []byte{0x04, 0xff, 0xff, 0xff, 0xff, 0x1f}},
		{"missing route length", []byte{0x02}},
		{"truncated route", []byte{0x02, 0x05, 'a', 'b'}},
		{"truncated route code", []byte{0x07, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
}

func TestMessageTypeString(t *testing.T) {
	assert.Equal(t, "request", MessageRequest.String())
	assert.Equal(t, "notify", MessageNotify.String())
	assert.Equal(t, "response", MessageResponse.String())
	assert.Equal(t, "push", MessagePush.String())
	assert.Equal(t, "unknown", MessageType(9).String())
}
