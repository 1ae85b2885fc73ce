// Package tuple encodes typed key parts into an order-preserving byte form:
// comparing two encodings with bytes.Compare orders them exactly like
// comparing their part sequences lexicographically.
package tuple

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// TypeID identifies the type of a key part. Tags are ordered: parts of a
// lower tag sort before parts of a higher tag.
type TypeID uint8

const (
	TypeReserved TypeID = iota + 1
	TypeInt64
	TypeString
	TypeBytes
)

const (
	escByte  = 0x00
	escEsc   = 0xFF
	escTerm  = 0x01
	int64Len = 8

	// MaxTag is greater than any tag byte a part can start with.
	MaxTag byte = 0xFF
)

// Part is a single typed key part.
type Part struct {
	Type   TypeID
	Int64  int64
	String string
	Bytes  []byte
}

func Int(v int64) Part          { return Part{Type: TypeInt64, Int64: v} }
func Str(v string) Part         { return Part{Type: TypeString, String: v} }
func Bin(v []byte) Part         { return Part{Type: TypeBytes, Bytes: v} }
func Reserved(name string) Part { return Part{Type: TypeReserved, String: name} }

// Equal reports whether both parts have the same type and value.
func (p Part) Equal(o Part) bool {
	if p.Type != o.Type {
		return false
	}
	switch p.Type {
	case TypeInt64:
		return p.Int64 == o.Int64
	case TypeBytes:
		return string(p.Bytes) == string(o.Bytes)
	default:
		return p.String == o.String
	}
}

func (p Part) Format() string {
	switch p.Type {
	case TypeInt64:
		// fixed-width zero padded decimal keeps printed keys sortable
		if p.Int64 < 0 {
			// through uint64 so MinInt64 does not overflow
			return fmt.Sprintf("-%019d", uint64(-p.Int64))
		}
		return fmt.Sprintf("%020d", p.Int64)
	case TypeString:
		return strconv.Quote(p.String)
	case TypeBytes:
		return fmt.Sprintf("0x%x", p.Bytes)
	case TypeReserved:
		return "#" + p.String
	default:
		return fmt.Sprintf("?%d", p.Type)
	}
}

type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return "tuple: " + e.Message
}

// Encode encodes parts into a single order-preserving key.
func Encode(parts ...Part) []byte {
	buf := make([]byte, 0, 16*len(parts))
	for _, p := range parts {
		buf = AppendPart(buf, p)
	}
	return buf
}

// AppendPart appends the encoding of p to buf.
func AppendPart(buf []byte, p Part) []byte {
	buf = append(buf, byte(p.Type))

	switch p.Type {
	case TypeInt64:
		var b [int64Len]byte
		// flipping the sign bit makes negative numbers sort first
		binary.BigEndian.PutUint64(b[:], uint64(p.Int64)^(1<<63))
		buf = append(buf, b[:]...)

	case TypeString, TypeReserved:
		buf = appendEscaped(buf, []byte(p.String))

	case TypeBytes:
		buf = appendEscaped(buf, p.Bytes)
	}

	return buf
}

func appendEscaped(buf, data []byte) []byte {
	for _, c := range data {
		if c == escByte {
			buf = append(buf, escByte, escEsc)
			continue
		}
		buf = append(buf, c)
	}
	return append(buf, escByte, escTerm)
}

// Decode decodes every part of an encoded key.
func Decode(data []byte) ([]Part, error) {
	parts := make([]Part, 0, 4)
	for len(data) > 0 {
		p, n, err := DecodeOne(data)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
		data = data[n:]
	}
	return parts, nil
}

// DecodeOne decodes the leading part of data and returns the number of
// bytes consumed.
func DecodeOne(data []byte) (Part, int, error) {
	if len(data) < 1 {
		return Part{}, 0, &DecodeError{Message: "insufficient data"}
	}

	typ := TypeID(data[0])
	offset := 1

	switch typ {
	case TypeInt64:
		if len(data[offset:]) < int64Len {
			return Part{}, 0, &DecodeError{Message: "insufficient data for int64"}
		}
		v := int64(binary.BigEndian.Uint64(data[offset:]) ^ (1 << 63))
		return Int(v), offset + int64Len, nil

	case TypeString, TypeReserved, TypeBytes:
		raw, n, err := readEscaped(data[offset:])
		if err != nil {
			return Part{}, 0, err
		}
		switch typ {
		case TypeString:
			return Str(string(raw)), offset + n, nil
		case TypeReserved:
			return Reserved(string(raw)), offset + n, nil
		default:
			return Bin(raw), offset + n, nil
		}

	default:
		return Part{}, 0, &DecodeError{Message: fmt.Sprintf("unknown type: %d", typ)}
	}
}

func readEscaped(data []byte) ([]byte, int, error) {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != escByte {
			out = append(out, data[i])
			continue
		}
		if i+1 >= len(data) {
			return nil, 0, &DecodeError{Message: "truncated escape sequence"}
		}
		switch data[i+1] {
		case escTerm:
			return out, i + 2, nil
		case escEsc:
			out = append(out, escByte)
			i++
		default:
			return nil, 0, &DecodeError{Message: fmt.Sprintf("invalid escape 0x%02x", data[i+1])}
		}
	}
	return nil, 0, &DecodeError{Message: "unterminated string"}
}

// Format renders parts for humans.
func Format(parts []Part) string {
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = p.Format()
	}
	return "(" + strings.Join(s, ", ") + ")"
}
