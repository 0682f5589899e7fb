// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package protobuf

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Pomelo's wire format is protobuf with one difference: a repeated field of
// a simple (numeric) type is written as a single tag carrying the element's
// own wire type, a varint element count, then the elements. Strings and
// messages repeat the tag per element, as in protobuf.

// simple reports whether a repeated field of kind k uses count framing.
func simple(k protoreflect.Kind) bool {
	switch k {
	case protoreflect.Uint32Kind, protoreflect.Sint32Kind, protoreflect.FloatKind, protoreflect.DoubleKind:
		return true
	default:
		return false
	}
}

func wireType(k protoreflect.Kind) protowire.Type {
	switch k {
	case protoreflect.Uint32Kind, protoreflect.Sint32Kind:
		return protowire.VarintType
	case protoreflect.FloatKind:
		return protowire.Fixed32Type
	case protoreflect.DoubleKind:
		return protowire.Fixed64Type
	default:
		return protowire.BytesType
	}
}

// marshal encodes m in tag order.
func marshal(b []byte, m protoreflect.Message) []byte {
	fields := m.Descriptor().Fields()
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		if !m.Has(fd) {
			continue
		}
		v := m.Get(fd)
		num, wt := fd.Number(), wireType(fd.Kind())
		switch {
		case fd.IsList() && simple(fd.Kind()):
			list := v.List()
			b = protowire.AppendTag(b, num, wt)
			b = protowire.AppendVarint(b, uint64(list.Len()))
			for j := 0; j < list.Len(); j++ {
				b = appendValue(b, fd.Kind(), list.Get(j))
			}
		case fd.IsList():
			list := v.List()
			for j := 0; j < list.Len(); j++ {
				b = protowire.AppendTag(b, num, wt)
				b = appendValue(b, fd.Kind(), list.Get(j))
			}
		default:
			b = protowire.AppendTag(b, num, wt)
			b = appendValue(b, fd.Kind(), v)
		}
	}
	return b
}

func appendValue(b []byte, k protoreflect.Kind, v protoreflect.Value) []byte {
	switch k {
	case protoreflect.Uint32Kind:
		return protowire.AppendVarint(b, v.Uint())
	case protoreflect.Sint32Kind:
		return protowire.AppendVarint(b, protowire.EncodeZigZag(v.Int()))
	case protoreflect.FloatKind:
		return protowire.AppendFixed32(b, math.Float32bits(float32(v.Float())))
	case protoreflect.DoubleKind:
		return protowire.AppendFixed64(b, math.Float64bits(v.Float()))
	case protoreflect.StringKind:
		return protowire.AppendString(b, v.String())
	default:
		return protowire.AppendBytes(b, marshal(nil, v.Message()))
	}
}

// unmarshal decodes b into m. Fields with unknown tags are skipped.
func unmarshal(b []byte, m protoreflect.Message) error {
	fields := m.Descriptor().Fields()
	for len(b) > 0 {
		num, wt, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		fd := fields.ByNumber(num)
		if fd == nil {
			n = protowire.ConsumeFieldValue(num, wt, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		if want := wireType(fd.Kind()); wt != want {
			return fmt.Errorf("field %s: wire type %d, want %d", fd.Name(), wt, want)
		}

		switch {
		case fd.IsList() && simple(fd.Kind()):
			count, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if count > uint64(len(b)) {
				return fmt.Errorf("field %s: %d elements in %d bytes", fd.Name(), count, len(b))
			}
			list := m.Mutable(fd).List()
			for ; count > 0; count-- {
				v, n, err := consumeValue(b, fd, list.NewElement)
				if err != nil {
					return err
				}
				list.Append(v)
				b = b[n:]
			}
		case fd.IsList():
			list := m.Mutable(fd).List()
			v, n, err := consumeValue(b, fd, list.NewElement)
			if err != nil {
				return err
			}
			list.Append(v)
			b = b[n:]
		default:
			v, n, err := consumeValue(b, fd, func() protoreflect.Value { return m.NewField(fd) })
			if err != nil {
				return err
			}
			m.Set(fd, v)
			b = b[n:]
		}
	}
	return nil
}

func consumeValue(b []byte, fd protoreflect.FieldDescriptor, newMessage func() protoreflect.Value) (protoreflect.Value, int, error) {
	var (
		v protoreflect.Value
		n int
	)
	switch fd.Kind() {
	case protoreflect.Uint32Kind:
		var x uint64
		x, n = protowire.ConsumeVarint(b)
		v = protoreflect.ValueOfUint32(uint32(x))
	case protoreflect.Sint32Kind:
		var x uint64
		x, n = protowire.ConsumeVarint(b)
		v = protoreflect.ValueOfInt32(int32(protowire.DecodeZigZag(x)))
	case protoreflect.FloatKind:
		var x uint32
		x, n = protowire.ConsumeFixed32(b)
		v = protoreflect.ValueOfFloat32(math.Float32frombits(x))
	case protoreflect.DoubleKind:
		var x uint64
		x, n = protowire.ConsumeFixed64(b)
		v = protoreflect.ValueOfFloat64(math.Float64frombits(x))
	case protoreflect.StringKind:
		var s string
		s, n = protowire.ConsumeString(b)
		v = protoreflect.ValueOfString(s)
	case protoreflect.MessageKind:
		var raw []byte
		raw, n = protowire.ConsumeBytes(b)
		if n < 0 {
			break
		}
		v = newMessage()
		if err := unmarshal(raw, v.Message()); err != nil {
			return v, 0, fmt.Errorf("field %s: %w", fd.Name(), err)
		}
	default:
		return v, 0, fmt.Errorf("field %s: unsupported kind %s", fd.Name(), fd.Kind())
	}
	if n < 0 {
		return v, 0, fmt.Errorf("field %s: %w", fd.Name(), protowire.ParseError(n))
	}
	return v, n, nil
}
