// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package protobuf implements Pomelo's schema body compression.
//
// Pomelo describes route bodies with a JSON dialect of protobuf:
//
//	{
//	  "onChat": {
//	    "required string msg": 1,
//	    "message User": {"required uInt32 uid": 1},
//	    "optional User from": 2,
//	    "repeated uInt32 ids": 3
//	  }
//	}
//
// Servers send the same definitions pre-parsed in the handshake, with each
// field as {"option", "type", "tag"} and nested messages under
// "__messages". Both forms are accepted. Definitions are compiled into
// protobuf descriptors. Bodies use Pomelo's variant of the protobuf wire
// format: a repeated numeric field is one tag, an element count and the
// elements.
//
// The types are uInt32, sInt32, int32 (zigzag, like sInt32), float, double,
// string and messages.
package protobuf

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

const (
	filePackage = "pomelo.schema"
	fileName    = "pomelo/schema.proto"

	messagePrefix = "message "
	nestedKey     = "__messages"
	tagsKey       = "__tags"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// scalarTypes maps Pomelo type names to protobuf field types. Pomelo encodes
// int32 with zigzag, so it shares the sint32 wire type.
var scalarTypes = map[string]descriptorpb.FieldDescriptorProto_Type{
	"uInt32": descriptorpb.FieldDescriptorProto_TYPE_UINT32,
	"sInt32": descriptorpb.FieldDescriptorProto_TYPE_SINT32,
	"int32":  descriptorpb.FieldDescriptorProto_TYPE_SINT32,
	"float":  descriptorpb.FieldDescriptorProto_TYPE_FLOAT,
	"double": descriptorpb.FieldDescriptorProto_TYPE_DOUBLE,
	"string": descriptorpb.FieldDescriptorProto_TYPE_STRING,
}

var labels = map[string]descriptorpb.FieldDescriptorProto_Label{
	"required": descriptorpb.FieldDescriptorProto_LABEL_REQUIRED,
	"optional": descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL,
	"repeated": descriptorpb.FieldDescriptorProto_LABEL_REPEATED,
}

// Codec encodes and decodes bodies for the routes it was compiled with.
type Codec struct {
	messages map[string]protoreflect.MessageDescriptor
}

// Compile builds a Codec from per-route definitions. Top-level keys of the
// form "message Name" declare messages shared by every route.
func Compile(defs map[string]json.RawMessage) (*Codec, error) {
	c := &compiler{
		shared: make(map[string]*msgDef),
		routes: make(map[string]*msgDef),
	}
	if err := c.parse(defs); err != nil {
		return nil, err
	}
	fd, err := c.file()
	if err != nil {
		return nil, err
	}
	codec := &Codec{messages: make(map[string]protoreflect.MessageDescriptor, len(c.routes))}
	for route, m := range c.routes {
		md := fd.Messages().ByName(protoreflect.Name(m.name))
		if md == nil {
			return nil, fmt.Errorf("protobuf: message for route %q missing after compile", route)
		}
		codec.messages[route] = md
	}
	return codec, nil
}

// Has reports whether route has a schema.
func (c *Codec) Has(route string) bool {
	_, ok := c.messages[route]
	return ok
}

// Routes returns the routes with a schema, sorted.
func (c *Codec) Routes() []string {
	routes := make([]string, 0, len(c.messages))
	for r := range c.messages {
		routes = append(routes, r)
	}
	sort.Strings(routes)
	return routes
}

// Encode converts a JSON body into its schema encoding.
func (c *Codec) Encode(route string, body json.RawMessage) ([]byte, error) {
	md, ok := c.messages[route]
	if !ok {
		return nil, fmt.Errorf("protobuf: no schema for route %q", route)
	}
	msg := dynamicpb.NewMessage(md)
	if err := (protojson.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("protobuf: %s: %w", route, err)
	}
	return marshal(nil, msg), nil
}

// Decode converts a schema-encoded body into compact JSON.
func (c *Codec) Decode(route string, data []byte) (json.RawMessage, error) {
	md, ok := c.messages[route]
	if !ok {
		return nil, fmt.Errorf("protobuf: no schema for route %q", route)
	}
	msg := dynamicpb.NewMessage(md)
	if err := unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protobuf: %s: %w", route, err)
	}
	out, err := protojson.MarshalOptions{UseProtoNames: true, AllowPartial: true}.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %s: %w", route, err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type fieldDef struct {
	label string
	typ   string
	name  string
	tag   int32
}

type msgDef struct {
	name     string
	fullName string
	parent   *msgDef
	fields   []fieldDef
	nested   map[string]*msgDef
}

type compiler struct {
	shared map[string]*msgDef
	routes map[string]*msgDef
}

func (c *compiler) parse(defs map[string]json.RawMessage) error {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	used := make(map[string]bool)
	for _, key := range keys {
		if name, ok := strings.CutPrefix(key, messagePrefix); ok {
			name = strings.TrimSpace(name)
			m, err := parseMessage(defs[key], name, nil)
			if err != nil {
				return err
			}
			c.shared[name] = m
			used[name] = true
		}
	}
	for _, key := range keys {
		if strings.HasPrefix(key, messagePrefix) {
			continue
		}
		name := routeTypeName(key, used)
		m, err := parseMessage(defs[key], name, nil)
		if err != nil {
			return fmt.Errorf("protobuf: route %q: %w", key, err)
		}
		c.routes[key] = m
	}
	return nil
}

// routeTypeName derives a unique message name from a route such as
// "chat.chatHandler.send".
func routeTypeName(route string, used map[string]bool) string {
	var b strings.Builder
	b.WriteString("Route_")
	for _, r := range route {
		if r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	name := b.String()
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s_%d", b.String(), i)
	}
	used[name] = true
	return name
}

func parseMessage(raw json.RawMessage, name string, parent *msgDef) (*msgDef, error) {
	if !identifier.MatchString(name) {
		return nil, fmt.Errorf("protobuf: invalid message name %q", name)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("protobuf: message %s: %w", name, err)
	}
	m := &msgDef{name: name, parent: parent, nested: make(map[string]*msgDef)}

	addNested := func(nestedName string, v json.RawMessage) error {
		n, err := parseMessage(v, nestedName, m)
		if err != nil {
			return err
		}
		m.nested[nestedName] = n
		return nil
	}

	for key, val := range obj {
		switch {
		case key == tagsKey:
		case key == nestedKey:
			var nested map[string]json.RawMessage
			if err := json.Unmarshal(val, &nested); err != nil {
				return nil, fmt.Errorf("protobuf: message %s: %w", name, err)
			}
			for n, v := range nested {
				if err := addNested(n, v); err != nil {
					return nil, err
				}
			}
		case strings.HasPrefix(key, messagePrefix):
			if err := addNested(strings.TrimSpace(strings.TrimPrefix(key, messagePrefix)), val); err != nil {
				return nil, err
			}
		default:
			f, err := parseField(key, val)
			if err != nil {
				return nil, fmt.Errorf("protobuf: message %s: %w", name, err)
			}
			m.fields = append(m.fields, f)
		}
	}

	sort.Slice(m.fields, func(i, j int) bool { return m.fields[i].tag < m.fields[j].tag })
	for i := 1; i < len(m.fields); i++ {
		if m.fields[i].tag == m.fields[i-1].tag {
			return nil, fmt.Errorf("protobuf: message %s: duplicate tag %d", name, m.fields[i].tag)
		}
	}
	return m, nil
}

// parseField accepts `"required uInt32 uid": 1` and
// `"uid": {"option": "required", "type": "uInt32", "tag": 1}`.
func parseField(key string, val json.RawMessage) (fieldDef, error) {
	var f fieldDef
	parts := strings.Fields(key)
	switch len(parts) {
	case 3:
		f.label, f.typ, f.name = parts[0], parts[1], parts[2]
		if err := json.Unmarshal(val, &f.tag); err != nil {
			return f, fmt.Errorf("field %q: tag: %w", key, err)
		}
	case 1:
		var parsed struct {
			Option string `json:"option"`
			Type   string `json:"type"`
			Tag    int32  `json:"tag"`
		}
		if err := json.Unmarshal(val, &parsed); err != nil {
			return f, fmt.Errorf("field %q: %w", key, err)
		}
		f.label, f.typ, f.name, f.tag = parsed.Option, parsed.Type, parts[0], parsed.Tag
	default:
		return f, fmt.Errorf("field %q: want \"<label> <type> <name>\"", key)
	}
	if _, ok := labels[f.label]; !ok {
		return f, fmt.Errorf("field %q: unknown label %q", key, f.label)
	}
	if !identifier.MatchString(f.name) {
		return f, fmt.Errorf("field %q: invalid name", key)
	}
	if f.tag <= 0 {
		return f, fmt.Errorf("field %q: tag must be positive", key)
	}
	return f, nil
}

func (c *compiler) file() (protoreflect.FileDescriptor, error) {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:    proto.String(fileName),
		Package: proto.String(filePackage),
		Syntax:  proto.String("proto2"),
	}
	var top []*msgDef
	for _, m := range c.shared {
		top = append(top, m)
	}
	for _, m := range c.routes {
		top = append(top, m)
	}
	sort.Slice(top, func(i, j int) bool { return top[i].name < top[j].name })

	for _, m := range top {
		assignNames(m, "."+filePackage)
	}
	for _, m := range top {
		dp, err := c.build(m)
		if err != nil {
			return nil, err
		}
		fdp.MessageType = append(fdp.MessageType, dp)
	}
	fd, err := protodesc.NewFile(fdp, nil)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	return fd, nil
}

func assignNames(m *msgDef, prefix string) {
	m.fullName = prefix + "." + m.name
	for _, n := range m.nested {
		assignNames(n, m.fullName)
	}
}

// resolve finds a message type by walking outward through enclosing
// messages, then the shared messages.
func (c *compiler) resolve(from *msgDef, typ string) (*msgDef, bool) {
	for s := from; s != nil; s = s.parent {
		if n, ok := s.nested[typ]; ok {
			return n, true
		}
	}
	n, ok := c.shared[typ]
	return n, ok
}

func (c *compiler) build(m *msgDef) (*descriptorpb.DescriptorProto, error) {
	dp := &descriptorpb.DescriptorProto{Name: proto.String(m.name)}
	for _, f := range m.fields {
		fp := &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(f.name),
			JsonName: proto.String(f.name),
			Number:   proto.Int32(f.tag),
			Label:    labels[f.label].Enum(),
		}
		if t, ok := scalarTypes[f.typ]; ok {
			fp.Type = t.Enum()
		} else {
			target, ok := c.resolve(m, f.typ)
			if !ok {
				return nil, fmt.Errorf("protobuf: message %s: field %s: unknown type %q", m.name, f.name, f.typ)
			}
			fp.Type = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum()
			fp.TypeName = proto.String(target.fullName)
		}
		dp.Field = append(dp.Field, fp)
	}

	names := make([]string, 0, len(m.nested))
	for n := range m.nested {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		nested, err := c.build(m.nested[n])
		if err != nil {
			return nil, err
		}
		dp.NestedType = append(dp.NestedType, nested)
	}
	return dp, nil
}
