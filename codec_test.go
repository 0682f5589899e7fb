// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pomelo

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// prefixSchemas marks encoded bodies with a prefix so tests can tell which
// path a body took.
type prefixSchemas struct {
	routes map[string]bool
}

func (s prefixSchemas) Has(route string) bool { return s.routes[route] }

func (s prefixSchemas) Encode(_ string, body json.RawMessage) ([]byte, error) {
	return append([]byte("PB:"), body...), nil
}

func (s prefixSchemas) Decode(_ string, data []byte) (json.RawMessage, error) {
	if len(data) < 3 || string(data[:3]) != "PB:" {
		return nil, errors.New("missing prefix")
	}
	return json.RawMessage(data[3:]), nil
}

func TestBodyCodecPlainJSON(t *testing.T) {
	var c bodyCodec

	data, err := c.encode("chat.send", map[string]any{"msg": "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(data))

	body, err := c.decode("onChat", []byte(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(body))
}

func TestBodyCodecSchemaSelection(t *testing.T) {
	c := bodyCodec{
		client: prefixSchemas{routes: map[string]bool{"chat.send": true}},
		server: prefixSchemas{routes: map[string]bool{"onChat": true}},
	}

	data, err := c.encode("chat.send", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, `PB:{"msg":"hi"}`, string(data))

	data, err = c.encode("room.join", json.RawMessage(`{"rid":1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"rid":1}`, string(data))

	body, err := c.decode("onChat", []byte(`PB:{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"msg":"hi"}`, string(body))

	// Server schemas never apply to outbound bodies.
	data, err = c.encode("onChat", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))
}

func TestBodyCodecDecodeErrors(t *testing.T) {
	c := bodyCodec{server: prefixSchemas{routes: map[string]bool{"onChat": true}}}

	_, err := c.decode("onChat", []byte(`{"msg":"hi"}`))
	assert.ErrorIs(t, err, ErrMalformedBody)

	_, err = c.decode("onOther", []byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedBody)
}

func TestBodyCodecDecodeEmpty(t *testing.T) {
	var c bodyCodec
	body, err := c.decode("onChat", nil)
	require.NoError(t, err)
	assert.Nil(t, body)
}

func TestMarshalBody(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"nil", nil, `{}`},
		{"empty raw", json.RawMessage(nil), `{}`},
		{"raw", json.RawMessage(`{"a":1}`), `{"a":1}`},
		{"bytes", []byte(`[1,2]`), `[1,2]`},
		{"struct", struct {
			Rid int `json:"rid"`
		}{Rid: 1}, `{"rid":1}`},
		{"string", "hello", `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalBody(tt.msg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	_, err := marshalBody(make(chan int))
	assert.Error(t, err)
}

func TestBodyCodecProtobuf(t *testing.T) {
	schemas, err := CompileProtobuf(map[string]json.RawMessage{
		"chat.send": json.RawMessage(`{"required string msg": 1}`),
	})
	require.NoError(t, err)
	c := bodyCodec{client: schemas, server: schemas}

	data, err := c.encode("chat.send", map[string]string{"msg": "hi"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x02, 'h', 'i'}, data)

	body, err := c.decode("chat.send", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"msg":"hi"}`, string(body))
}
