// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package protobuf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, defs string) *Codec {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(defs), &m))
	c, err := Compile(m)
	require.NoError(t, err)
	return c
}

func TestEncodeWireBytes(t *testing.T) {
	c := compile(t, `{
		"chat.send": {"required string msg": 1},
		"signed": {"required int32 v": 1},
		"unsigned": {"required uInt32 v": 1},
		"arrays": {"repeated uInt32 ids": 1, "repeated string tags": 2},
		"signedArray": {"repeated sInt32 v": 1},
		"floats": {"repeated float v": 1, "repeated double d": 2},
		"nested": {
			"message User": {"required uInt32 uid": 1},
			"optional User from": 2
		}
	}`)

	tests := []struct {
		route string
		body  string
		want  []byte
	}{
		{"chat.send", `{"msg":"hi"}`, []byte{0x0a, 0x02, 'h', 'i'}},
		{"signed", `{"v":-1}`, []byte{0x08, 0x01}},
		{"signed", `{"v":1}`, []byte{0x08, 0x02}},
		{"unsigned", `{"v":300}`, []byte{0x08, 0xac, 0x02}},
		// Numeric arrays: one tag with the element wire type, a count, then
		// the elements. String arrays repeat the tag.
		{"arrays", `{"ids":[1,2,3],"tags":["a","b"]}`, []byte{0x08, 0x03, 0x01, 0x02, 0x03, 0x12, 0x01, 'a', 0x12, 0x01, 'b'}},
		{"arrays", `{"ids":[300]}`, []byte{0x08, 0x01, 0xac, 0x02}},
		{"signedArray", `{"v":[-1,2]}`, []byte{0x08, 0x02, 0x01, 0x04}},
		{"floats", `{"v":[1.5],"d":[2]}`, []byte{
			0x0d, 0x01, 0x00, 0x00, 0xc0, 0x3f,
			0x11, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x40,
		}},
		{"nested", `{"from":{"uid":7}}`, []byte{0x12, 0x02, 0x08, 0x07}},
	}
	for _, tt := range tests {
		t.Run(tt.route+" "+tt.body, func(t *testing.T) {
			data, err := c.Encode(tt.route, json.RawMessage(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)

			back, err := c.Decode(tt.route, data)
			require.NoError(t, err)
			assert.JSONEq(t, tt.body, string(back))
		})
	}
}

func TestRoundTripScalars(t *testing.T) {
	c := compile(t, `{
		"onState": {
			"required double x": 1,
			"required float y": 2,
			"required int32 level": 3,
			"optional sInt32 delta": 4,
			"optional uInt32 hp": 5,
			"optional string name": 6
		}
	}`)

	body := `{"x":1.5,"y":0.25,"level":-3,"delta":-20,"hp":4000000000,"name":"bob"}`
	data, err := c.Encode("onState", json.RawMessage(body))
	require.NoError(t, err)

	back, err := c.Decode("onState", data)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(back))
}

func TestDecodeServerArrays(t *testing.T) {
	c := compile(t, `{
		"onRank": {
			"message Entry": {"required uInt32 uid": 1, "repeated uInt32 scores": 2},
			"repeated Entry entries": 1,
			"repeated uInt32 ids": 2
		}
	}`)

	// entries: [{uid:1, scores:[5,300]}], ids: [7,8]
	data := []byte{
		0x0a, 0x07, 0x08, 0x01, 0x10, 0x02, 0x05, 0xac, 0x02,
		0x10, 0x02, 0x07, 0x08,
	}

	body, err := c.Decode("onRank", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"entries":[{"uid":1,"scores":[5,300]}],"ids":[7,8]}`, string(body))

	again, err := c.Encode("onRank", body)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestDecodeRejectsBadArrays(t *testing.T) {
	c := compile(t, `{"r": {"repeated uInt32 ids": 1}}`)

	// Standard packed encoding uses wire type 2.
	_, err := c.Decode("r", []byte{0x0a, 0x02, 0xac, 0x02})
	assert.ErrorContains(t, err, "wire type")

	// Count larger than the remaining bytes.
	_, err = c.Decode("r", []byte{0x08, 0x05, 0x01})
	assert.Error(t, err)
}

func TestDecodeSkipsUnknownTags(t *testing.T) {
	c := compile(t, `{"r": {"optional uInt32 a": 1}}`)
	body, err := c.Decode("r", []byte{0x10, 0x09, 0x08, 0x02})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(body))
}

func TestEncodeIgnoresUnknownFields(t *testing.T) {
	c := compile(t, `{"chat.send": {"required string msg": 1}}`)
	data, err := c.Encode("chat.send", json.RawMessage(`{"msg":"hi","extra":1}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x02, 'h', 'i'}, data)
}

func TestParsedForm(t *testing.T) {
	raw := compile(t, `{
		"onChat": {
			"required string msg": 1,
			"message User": {"required uInt32 uid": 1},
			"optional User from": 2
		}
	}`)
	parsed := compile(t, `{
		"onChat": {
			"msg": {"option": "required", "type": "string", "tag": 1},
			"from": {"option": "optional", "type": "User", "tag": 2},
			"__messages": {
				"User": {
					"uid": {"option": "required", "type": "uInt32", "tag": 1},
					"__tags": {"1": "uid"}
				}
			},
			"__tags": {"1": "msg", "2": "from"}
		}
	}`)

	body := json.RawMessage(`{"msg":"hi","from":{"uid":9}}`)
	a, err := raw.Encode("onChat", body)
	require.NoError(t, err)
	b, err := parsed.Encode("onChat", body)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSharedMessages(t *testing.T) {
	c := compile(t, `{
		"message Player": {"required uInt32 id": 1, "optional string name": 2},
		"onJoin": {"required Player player": 1},
		"onLeave": {"repeated Player players": 1}
	}`)

	assert.Equal(t, []string{"onJoin", "onLeave"}, c.Routes())
	assert.False(t, c.Has("message Player"))
	assert.False(t, c.Has("Player"))

	data, err := c.Encode("onLeave", json.RawMessage(`{"players":[{"id":1},{"id":2,"name":"b"}]}`))
	require.NoError(t, err)
	body, err := c.Decode("onLeave", data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"players":[{"id":1},{"id":2,"name":"b"}]}`, string(body))
}

func TestNestedShadowsShared(t *testing.T) {
	c := compile(t, `{
		"message Item": {"required string sku": 1},
		"onBag": {
			"message Item": {"required uInt32 count": 1},
			"repeated Item items": 1
		}
	}`)
	data, err := c.Encode("onBag", json.RawMessage(`{"items":[{"count":3}]}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x02, 0x08, 0x03}, data)
}

func TestRouteNameCollisions(t *testing.T) {
	c := compile(t, `{
		"a.b": {"required uInt32 x": 1},
		"a_b": {"required string y": 1},
		"message Route_a_b": {"required uInt32 z": 1}
	}`)
	assert.True(t, c.Has("a.b"))
	assert.True(t, c.Has("a_b"))

	data, err := c.Encode("a_b", json.RawMessage(`{"y":"s"}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0x01, 's'}, data)
}

func TestCompileEmpty(t *testing.T) {
	c, err := Compile(nil)
	require.NoError(t, err)
	assert.Empty(t, c.Routes())
	assert.False(t, c.Has("anything"))
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		defs string
	}{
		{"unknown type", `{"r": {"required Missing m": 1}}`},
		{"duplicate tag", `{"r": {"required uInt32 a": 1, "required uInt32 b": 1}}`},
		{"bad label", `{"r": {"sometimes uInt32 a": 1}}`},
		{"bad key", `{"r": {"uInt32 a": 1}}`},
		{"zero tag", `{"r": {"required uInt32 a": 0}}`},
		{"tag not a number", `{"r": {"required uInt32 a": "one"}}`},
		{"not an object", `{"r": [1, 2]}`},
		{"bad message name", `{"message 1x": {"required uInt32 a": 1}}`},
		{"bool is not a Pomelo type", `{"r": {"required bool a": 1}}`},
		{"uInt64 is not a Pomelo type", `{"r": {"required uInt64 a": 1}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.defs), &m))
			_, err := Compile(m)
			assert.Error(t, err)
		})
	}
}

func TestCodecErrors(t *testing.T) {
	c := compile(t, `{"chat.send": {"required string msg": 1}}`)

	_, err := c.Encode("unknown", json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = c.Encode("chat.send", json.RawMessage(`{}`))
	assert.Error(t, err, "missing required field")

	_, err = c.Encode("chat.send", json.RawMessage(`{"msg":5}`))
	assert.Error(t, err)

	_, err = c.Decode("unknown", nil)
	assert.Error(t, err)

	_, err = c.Decode("chat.send", []byte{0xff})
	assert.Error(t, err)
}

func TestDecodeEmptyBody(t *testing.T) {
	c := compile(t, `{"onTick": {"optional uInt32 n": 1}}`)
	body, err := c.Decode("onTick", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(body))
}
